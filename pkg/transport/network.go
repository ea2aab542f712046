package transport

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var (
	ErrAddrInUse = errors.New("address in use")
	ErrClosed    = errors.New("closed")
)

type link struct {
	from string
	to   string
}

// Network is an in-memory lossy datagram network connecting endpoints in the
// same process.
//
// Every packet is copied on send. Packets may be dropped at random with the
// configured loss probability, or dropped on blocked links. Nated endpoints
// only accept packets from addresses they have previously sent to, like a
// NAT mapping.
type Network struct {
	endpoints map[string]*Endpoint
	blocked   map[link]struct{}
	loss      float64
	rand      *rand.Rand

	// mu protects the above fields.
	mu sync.Mutex
}

func NewNetwork(seed int64) *Network {
	return &Network{
		endpoints: make(map[string]*Endpoint),
		blocked:   make(map[link]struct{}),
		rand:      rand.New(rand.NewSource(seed)),
	}
}

// Listen creates an open endpoint with the given address.
func (n *Network) Listen(addr string) (*Endpoint, error) {
	return n.listen(addr, false)
}

// ListenNated creates a nated endpoint with the given address.
func (n *Network) ListenNated(addr string) (*Endpoint, error) {
	return n.listen(addr, true)
}

// SetLoss sets the probability in [0, 1] that any packet is dropped.
func (n *Network) SetLoss(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.loss = p
}

// Block drops all packets sent from one address to another.
func (n *Network) Block(from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.blocked[link{from: from, to: to}] = struct{}{}
}

func (n *Network) Unblock(from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.blocked, link{from: from, to: to})
}

// Partition blocks all packets in both directions between the given address
// and every other endpoint.
func (n *Network) Partition(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for other := range n.endpoints {
		if other == addr {
			continue
		}
		n.blocked[link{from: addr, to: other}] = struct{}{}
		n.blocked[link{from: other, to: addr}] = struct{}{}
	}
}

// Heal removes every blocked link.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.blocked = make(map[link]struct{})
}

func (n *Network) listen(addr string, nated bool) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("listen: %s: %w", addr, ErrAddrInUse)
	}

	e := &Endpoint{
		network:   n,
		addr:      addr,
		nated:     nated,
		contacted: make(map[string]struct{}),
		packetCh:  make(chan *Packet, packetQueueSize),
	}
	n.endpoints[addr] = e
	return e, nil
}

func (n *Network) send(from string, b []byte, to string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	src, ok := n.endpoints[from]
	if !ok {
		return fmt.Errorf("send: %w", ErrClosed)
	}
	if src.nated {
		src.contacted[to] = struct{}{}
	}

	if _, ok := n.blocked[link{from: from, to: to}]; ok {
		return nil
	}
	if n.loss > 0 && n.rand.Float64() < n.loss {
		return nil
	}

	dst, ok := n.endpoints[to]
	if !ok {
		return nil
	}
	if dst.nated {
		if _, ok := dst.contacted[from]; !ok {
			return nil
		}
	}

	data := make([]byte, len(b))
	copy(data, b)
	select {
	case dst.packetCh <- &Packet{Addr: from, Data: data}:
	default:
	}
	return nil
}

func (n *Network) close(e *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.endpoints[e.addr] != e {
		return
	}
	delete(n.endpoints, e.addr)
	close(e.packetCh)
}

// Endpoint is a Transport attached to a Network.
type Endpoint struct {
	network *Network
	addr    string
	nated   bool

	// contacted contains the addresses a nated endpoint has sent to.
	// Protected by the network mutex.
	contacted map[string]struct{}

	packetCh chan *Packet
}

func (e *Endpoint) WriteTo(b []byte, addr string) error {
	return e.network.send(e.addr, b, addr)
}

func (e *Endpoint) Packets() <-chan *Packet {
	return e.packetCh
}

func (e *Endpoint) Addr() string {
	return e.addr
}

func (e *Endpoint) Close() error {
	e.network.close(e)
	return nil
}

var _ Transport = &Endpoint{}
