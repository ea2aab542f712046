package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/swimrelay/pkg/admin"
	"github.com/andydunstall/swimrelay/pkg/discovery"
	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/natdetect"
	"github.com/andydunstall/swimrelay/pkg/sampling"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

const (
	NATTypeOpen  = "open"
	NATTypeNated = "nated"
	// NATTypeAuto detects the NAT type on startup using STUN.
	NATTypeAuto = "auto"
)

type NodeConfig struct {
	// ID is the unique identifier of the node. If zero a random ID is
	// generated.
	ID uint64 `json:"id" yaml:"id"`

	// BindAddr is the UDP address to bind to listen for protocol packets.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other nodes.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`
}

func (c *NodeConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

func (c *NodeConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.Uint64Var(
		&c.ID,
		"node.id",
		c.ID,
		`
A unique identifier for the node.

If not given a random ID is generated.`,
	)
	fs.StringVar(
		&c.BindAddr,
		"node.bind-addr",
		c.BindAddr,
		`
The host/port to listen for protocol packets over UDP.

If the host is unspecified it defaults to all listeners, such as
'--node.bind-addr :7946' will listen on '0.0.0.0:7946'`,
	)
	fs.StringVar(
		&c.AdvertiseAddr,
		"node.advertise-addr",
		c.AdvertiseAddr,
		`
The address to advertise to other nodes.

Such as if the listen address is ':7946', the advertised address may be
'10.26.104.45:7946' or 'node1.cluster:7946'.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':7946') the nodes
private IP will be used, such as a bind address of ':7946' may have an
advertise address of '10.26.104.14:7946'.`,
	)
}

type NATConfig struct {
	// Type is the NAT type of the node, either 'open', 'nated' or 'auto'.
	Type string `json:"type" yaml:"type"`

	// Parents contains the open nodes to use as the initial parents of a
	// nated node, as 'id@host:port'. Defaults to the open nodes in
	// cluster.join.
	Parents []string `json:"parents" yaml:"parents"`

	Detect natdetect.Config `json:"detect" yaml:"detect"`
}

func (c *NATConfig) Validate() error {
	switch c.Type {
	case NATTypeOpen, NATTypeNated:
	case NATTypeAuto:
		if err := c.Detect.Validate(); err != nil {
			return fmt.Errorf("detect: %w", err)
		}
	default:
		return fmt.Errorf("unsupported type: %s", c.Type)
	}

	if _, err := parseOpenAddrs(c.Parents); err != nil {
		return fmt.Errorf("parents: %w", err)
	}
	return nil
}

// ParentAddrs returns the parsed initial parents.
func (c *NATConfig) ParentAddrs() []swim.PeerAddress {
	// Already validated.
	addrs, _ := parseOpenAddrs(c.Parents)
	return addrs
}

func (c *NATConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Type,
		"nat.type",
		c.Type,
		`
The NAT type of the node, either 'open', 'nated' or 'auto'.

Open nodes are publicly reachable. Nated nodes are behind a NAT so route
their traffic through open parent nodes. 'auto' detects the NAT type on
startup using STUN.`,
	)
	fs.StringSliceVar(
		&c.Parents,
		"nat.parents",
		c.Parents,
		`
The open nodes to use as the initial parents of a nated node, as
'id@host:port'.

Defaults to the open nodes in '--cluster.join'.`,
	)

	c.Detect.RegisterFlags(fs, "nat")
}

type ClusterConfig struct {
	// Join contains the addresses of existing nodes to join, as
	// 'id@host:port' or 'id@host:port/nated'.
	Join []string `json:"join" yaml:"join"`

	Discovery discovery.Config `json:"discovery" yaml:"discovery"`
}

func (c *ClusterConfig) Validate() error {
	if _, err := parseAddrs(c.Join); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	return nil
}

// JoinAddrs returns the parsed join addresses.
func (c *ClusterConfig) JoinAddrs() []swim.PeerAddress {
	// Already validated.
	addrs, _ := parseAddrs(c.Join)
	return addrs
}

func (c *ClusterConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(
		&c.Join,
		"cluster.join",
		c.Join,
		`
A list of existing nodes to join, as 'id@host:port'. Nated nodes are given
as 'id@host:port/nated'.

Such as '--cluster.join 1@10.26.104.14:7946,2@10.26.104.75:7946'.

If no nodes are given the node starts a new cluster.`,
	)

	c.Discovery.RegisterFlags(fs, "cluster")
}

type StatusConfig struct {
	// Aggregator is the address of the aggregator to report status to, as
	// 'id@host:port'.
	Aggregator string `json:"aggregator" yaml:"aggregator"`
}

func (c *StatusConfig) Validate() error {
	if c.Aggregator == "" {
		return nil
	}
	addr, err := swim.ParsePeerAddress(c.Aggregator)
	if err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	if !addr.IsOpen() {
		return fmt.Errorf("aggregator: must be open: %s", c.Aggregator)
	}
	return nil
}

// AggregatorAddr returns the parsed aggregator address, or false if no
// aggregator is configured.
func (c *StatusConfig) AggregatorAddr() (swim.PeerAddress, bool) {
	if c.Aggregator == "" {
		return swim.PeerAddress{}, false
	}
	// Already validated.
	addr, _ := swim.ParsePeerAddress(c.Aggregator)
	return addr, true
}

func (c *StatusConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Aggregator,
		"status.aggregator",
		c.Aggregator,
		`
The aggregator to send periodic status reports to, as 'id@host:port'.

If not given status reports are disabled.`,
	)
}

type Config struct {
	Node     NodeConfig      `json:"node" yaml:"node"`
	NAT      NATConfig       `json:"nat" yaml:"nat"`
	Cluster  ClusterConfig   `json:"cluster" yaml:"cluster"`
	Status   StatusConfig    `json:"status" yaml:"status"`
	Admin    admin.Config    `json:"admin" yaml:"admin"`
	Sampling sampling.Config `json:"sampling" yaml:"sampling"`
	Swim     swim.Config     `json:"swim" yaml:"swim"`
	Log      log.Config      `json:"log" yaml:"log"`

	// Seed is the seed of the random source used to select members and
	// parents. If zero a random seed is used.
	Seed int64 `json:"seed" yaml:"seed"`

	// GracePeriod is the duration to gracefully shutdown the node.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			BindAddr: ":7946",
		},
		NAT: NATConfig{
			Type:   NATTypeOpen,
			Detect: *natdetect.Default(),
		},
		Cluster: ClusterConfig{
			Discovery: *discovery.Default(),
		},
		Admin:       *admin.Default(":8002"),
		Sampling:    *sampling.Default(),
		Swim:        *swim.Default(),
		Log:         *log.Default(),
		GracePeriod: time.Second * 30,
	}
}

func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := c.NAT.Validate(); err != nil {
		return fmt.Errorf("nat: %w", err)
	}
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Sampling.Validate(); err != nil {
		return fmt.Errorf("sampling: %w", err)
	}
	if err := c.Swim.Validate(); err != nil {
		return fmt.Errorf("swim: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Node.RegisterFlags(fs)
	c.NAT.RegisterFlags(fs)
	c.Cluster.RegisterFlags(fs)
	c.Status.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs, "admin")
	c.Sampling.RegisterFlags(fs)
	c.Swim.RegisterFlags(fs)
	c.Log.RegisterFlags(fs)

	fs.Int64Var(
		&c.Seed,
		"seed",
		c.Seed,
		`
Seed of the random source used to select members to probe and parents.

If zero a random seed is used. Setting a seed is only useful for testing.`,
	)
	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the node.`,
	)
}

func parseAddrs(addrs []string) ([]swim.PeerAddress, error) {
	var parsed []swim.PeerAddress
	for _, s := range addrs {
		addr, err := swim.ParsePeerAddress(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, addr)
	}
	return parsed, nil
}

func parseOpenAddrs(addrs []string) ([]swim.PeerAddress, error) {
	parsed, err := parseAddrs(addrs)
	if err != nil {
		return nil, err
	}
	for _, addr := range parsed {
		if !addr.IsOpen() {
			return nil, fmt.Errorf("must be open: %s", addr)
		}
	}
	return parsed, nil
}
