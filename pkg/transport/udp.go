package transport

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
)

const (
	maxDatagramSize = 65535

	packetQueueSize = 1024
)

// UDPTransport is a Transport over a UDP socket.
type UDPTransport struct {
	conn net.PacketConn

	packetCh chan *Packet

	closed *atomic.Bool

	metrics *Metrics

	logger log.Logger
}

// NewUDPTransport creates a transport using the given packet connection and
// starts reading packets in the background.
func NewUDPTransport(
	conn net.PacketConn,
	metrics *Metrics,
	logger log.Logger,
) *UDPTransport {
	t := &UDPTransport{
		conn:     conn,
		packetCh: make(chan *Packet, packetQueueSize),
		closed:   atomic.NewBool(false),
		metrics:  metrics,
		logger:   logger.WithSubsystem("transport"),
	}
	go t.serve()
	return t
}

// ListenUDP binds a UDP socket to the given address and returns a transport
// using it.
func ListenUDP(addr string, metrics *Metrics, logger log.Logger) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %s: %w", addr, err)
	}
	return NewUDPTransport(conn, metrics, logger), nil
}

func (t *UDPTransport) WriteTo(b []byte, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp: %s: %w", addr, err)
	}
	if _, err = t.conn.WriteTo(b, udpAddr); err != nil {
		return fmt.Errorf("write packet: %s: %w", addr, err)
	}

	t.metrics.PacketBytesOutbound.Add(float64(len(b)))

	return nil
}

func (t *UDPTransport) Packets() <-chan *Packet {
	return t.packetCh
}

func (t *UDPTransport) Addr() string {
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) Close() error {
	t.closed.Store(true)
	return t.conn.Close()
}

func (t *UDPTransport) serve() {
	defer close(t.packetCh)

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.closed.Load() {
				return
			}
			t.logger.Warn("failed to read packet", zap.Error(err))
			continue
		}

		t.metrics.PacketBytesInbound.Add(float64(n))

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.packetCh <- &Packet{Addr: addr.String(), Data: data}:
		default:
			t.metrics.PacketsDropped.Inc()
			t.logger.Debug(
				"packet queue full; dropping packet",
				zap.String("addr", addr.String()),
			)
		}
	}
}

var _ Transport = &UDPTransport{}
