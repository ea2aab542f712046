// Package node runs a swimrelay node, wiring the protocol to its transport,
// peer sampling, discovery and admin server.
package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-sockaddr"
	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/node/config"
	"github.com/andydunstall/swimrelay/pkg/admin"
	"github.com/andydunstall/swimrelay/pkg/discovery"
	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/natdetect"
	"github.com/andydunstall/swimrelay/pkg/sampling"
	"github.com/andydunstall/swimrelay/pkg/swim"
	"github.com/andydunstall/swimrelay/pkg/transport"
)

type Node struct {
	conf *config.Config

	self swim.PeerAddress

	transport *transport.UDPTransport
	swim      *swim.Swim
	// sampler is nil for open nodes.
	sampler *sampling.Sampler
	// registry is nil unless discovery is enabled.
	registry *discovery.Registry

	adminLn     net.Listener
	adminServer *admin.Server

	logger log.Logger
}

// NewNode sets up the node. If the NAT type is 'auto' the NAT type is
// detected, and if discovery is enabled existing nodes are discovered, so
// NewNode may block until the context is cancelled.
func NewNode(ctx context.Context, conf *config.Config, logger log.Logger) (*Node, error) {
	n := &Node{
		conf:   conf,
		logger: logger,
	}
	if err := n.setup(ctx); err != nil {
		n.closeResources(ctx)
		return nil, err
	}
	return n, nil
}

// Run runs the node until the context is cancelled or a component fails,
// then shuts down.
func (n *Node) Run(ctx context.Context) error {
	if n.registry != nil {
		if err := n.registry.Register(ctx, n.self); err != nil {
			n.closeResources(ctx)
			return fmt.Errorf("register: %w", err)
		}
	}

	var group rungroup.Group

	// Termination handler.
	runCtx, runCancel := context.WithCancel(ctx)
	group.Add(func() error {
		<-runCtx.Done()
		return nil
	}, func(error) {
		runCancel()
	})

	group.Add(func() error {
		if err := n.swim.Run(context.Background()); err != nil {
			return fmt.Errorf("swim: %w", err)
		}
		return nil
	}, func(error) {
		n.swim.Close()
	})

	if n.sampler != nil {
		samplerCtx, samplerCancel := context.WithCancel(context.Background())
		group.Add(func() error {
			return n.sampler.Run(samplerCtx)
		}, func(error) {
			samplerCancel()
		})
	}

	group.Add(func() error {
		if err := n.adminServer.Serve(n.adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			n.conf.GracePeriod,
		)
		defer cancel()

		if err := n.adminServer.Shutdown(shutdownCtx); err != nil {
			n.logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		n.logger.Info("admin server shut down")
	})

	runErr := group.Run()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		n.conf.GracePeriod,
	)
	defer cancel()

	if err := n.closeResources(shutdownCtx); err != nil {
		n.logger.Warn("failed to close node", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}

	n.logger.Info("shutdown complete")

	return nil
}

// Self returns the address the node started with.
func (n *Node) Self() swim.PeerAddress {
	return n.self
}

// Swim returns the protocol instance of the node.
func (n *Node) Swim() *swim.Swim {
	return n.swim
}

// AdminAddr returns the address the admin server is listening on.
func (n *Node) AdminAddr() string {
	return n.adminLn.Addr().String()
}

func (n *Node) setup(ctx context.Context) error {
	registry := prometheus.NewRegistry()

	transportMetrics := transport.NewMetrics()
	transportMetrics.Register(registry)
	t, err := transport.ListenUDP(n.conf.Node.BindAddr, transportMetrics, n.logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	n.transport = t

	self, err := n.localAddr(ctx)
	if err != nil {
		return err
	}

	bootstrap := n.conf.Cluster.JoinAddrs()
	if n.conf.Cluster.Discovery.Enabled() {
		n.registry, err = discovery.NewRegistry(&n.conf.Cluster.Discovery, n.logger)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		peers, err := n.registry.Peers(ctx)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		// Discovered nated nodes have no parents so can't be reached.
		var open []swim.PeerAddress
		for _, peer := range peers {
			if peer.IsOpen() {
				open = append(open, peer)
			}
		}
		bootstrap = mergeAddrs(bootstrap, open)
	}
	bootstrap = excludeAddr(bootstrap, self.ID)

	if !self.IsOpen() {
		parents := n.conf.NAT.ParentAddrs()
		if len(parents) == 0 {
			parents = openAddrs(bootstrap)
		}
		for _, parent := range parents {
			if len(self.Parents) == n.conf.Swim.MaxParents {
				break
			}
			if parent.ID != self.ID {
				self = self.WithParent(parent)
			}
		}
		if len(self.Parents) == 0 {
			n.logger.Warn("nated node has no initial parents")
		}
	}
	n.self = self

	seed := n.conf.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	swimMetrics := swim.NewMetrics()
	swimMetrics.Register(registry)
	opts := []swim.Option{
		swim.WithBootstrap(bootstrap),
		swim.WithWatcher(newLogWatcher(n.logger)),
		swim.WithSeed(seed),
		swim.WithMetrics(swimMetrics),
		swim.WithLogger(n.logger),
	}
	if aggregator, ok := n.conf.Status.AggregatorAddr(); ok {
		opts = append(opts, swim.WithAggregator(aggregator))
	}
	if !self.IsOpen() {
		sources := []sampling.Source{sampling.StaticSource(bootstrap)}
		if n.registry != nil {
			sources = append(sources, n.registry)
		}
		n.sampler = sampling.NewSampler(
			&n.conf.Sampling, sources, seed, clock.New(), n.logger,
		)
		opts = append(opts, swim.WithSampler(n.sampler))
	}

	n.swim, err = swim.New(self, &n.conf.Swim, t, opts...)
	if err != nil {
		return fmt.Errorf("swim: %w", err)
	}
	if n.sampler != nil {
		n.sampler.AddSource(sampling.NewMembershipSource(n.swim))
	}

	tlsConfig, err := n.conf.Admin.TLS.Load()
	if err != nil {
		return fmt.Errorf("admin tls: %w", err)
	}
	n.adminLn, err = net.Listen("tcp", n.conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", n.conf.Admin.BindAddr, err)
	}
	n.adminServer = admin.NewServer(registry, tlsConfig, n.logger)
	n.adminServer.AddStatus("/swim", swim.NewStatusHandler(n.swim))

	n.logger.Info(
		"node ready",
		zap.String("self", self.String()),
		zap.Int("bootstrap", len(bootstrap)),
		zap.Int("parents", len(self.Parents)),
		zap.Int64("seed", seed),
	)

	return nil
}

// localAddr returns the local address, excluding parents.
func (n *Node) localAddr(ctx context.Context) (swim.PeerAddress, error) {
	id := swim.NodeID(n.conf.Node.ID)
	if id == 0 {
		id = GenerateNodeID()
	}

	addr := n.conf.Node.AdvertiseAddr
	if addr == "" {
		var err error
		addr, err = AdvertiseAddrFromBindAddr(n.transport.Addr())
		if err != nil {
			return swim.PeerAddress{}, err
		}
	}

	var nat swim.NATType
	switch n.conf.NAT.Type {
	case config.NATTypeOpen:
		nat = swim.NATTypeOpen
	case config.NATTypeNated:
		nat = swim.NATTypeNated
	case config.NATTypeAuto:
		result, err := natdetect.NewDetector(&n.conf.NAT.Detect, n.logger).Detect(ctx)
		if err != nil {
			return swim.PeerAddress{}, fmt.Errorf("nat detect: %w", err)
		}
		nat = result.NAT
	}

	return swim.PeerAddress{
		ID:   id,
		Addr: addr,
		NAT:  nat,
	}, nil
}

func (n *Node) closeResources(ctx context.Context) error {
	var err error
	if n.registry != nil {
		if closeErr := n.registry.Close(ctx); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("discovery: %w", closeErr))
		}
	}
	if n.transport != nil {
		if closeErr := n.transport.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("transport: %w", closeErr))
		}
	}
	if n.adminLn != nil {
		// Ignore errors as the listener is closed by the server on shutdown.
		_ = n.adminLn.Close()
	}
	return err
}

// GenerateNodeID returns a random non-zero node ID.
func GenerateNodeID() swim.NodeID {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint64(u[:8]); id != 0 {
			return swim.NodeID(id)
		}
	}
}

// AdvertiseAddrFromBindAddr returns the address to advertise given the bound
// address. If the host is unspecified the private IP of the node is used.
func AdvertiseAddrFromBindAddr(bindAddr string) (string, error) {
	if strings.HasPrefix(bindAddr, ":") {
		bindAddr = "0.0.0.0" + bindAddr
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}

	if host == "0.0.0.0" || host == "::" {
		ip, err := sockaddr.GetPrivateIP()
		if err != nil {
			return "", fmt.Errorf("get interface addr: %w", err)
		}
		if ip == "" {
			return "", fmt.Errorf("no private ip found")
		}
		return net.JoinHostPort(ip, port), nil
	}
	return bindAddr, nil
}

// mergeAddrs returns the addresses in a followed by those in b with an ID not
// already in a.
func mergeAddrs(a, b []swim.PeerAddress) []swim.PeerAddress {
	seen := make(map[swim.NodeID]struct{})
	merged := make([]swim.PeerAddress, 0, len(a)+len(b))
	for _, addrs := range [][]swim.PeerAddress{a, b} {
		for _, addr := range addrs {
			if _, ok := seen[addr.ID]; ok {
				continue
			}
			seen[addr.ID] = struct{}{}
			merged = append(merged, addr)
		}
	}
	return merged
}

func excludeAddr(addrs []swim.PeerAddress, id swim.NodeID) []swim.PeerAddress {
	var filtered []swim.PeerAddress
	for _, addr := range addrs {
		if addr.ID != id {
			filtered = append(filtered, addr)
		}
	}
	return filtered
}

func openAddrs(addrs []swim.PeerAddress) []swim.PeerAddress {
	var open []swim.PeerAddress
	for _, addr := range addrs {
		if addr.IsOpen() {
			open = append(open, addr)
		}
	}
	return open
}
