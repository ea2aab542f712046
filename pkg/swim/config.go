package swim

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// DisseminationCount is the number of times each membership change is
	// piggybacked before it is dropped.
	DisseminationCount int `json:"dissemination_count" yaml:"dissemination_count"`

	// IndirectProbes is the number of helpers asked to probe a node that
	// did not respond to a direct probe.
	IndirectProbes int `json:"indirect_probes" yaml:"indirect_probes"`

	// MaxPiggyback is the maximum number of buffered membership changes.
	MaxPiggyback int `json:"max_piggyback" yaml:"max_piggyback"`

	// MaxParents is the maximum number of parents of a nated node.
	MaxParents int `json:"max_parents" yaml:"max_parents"`

	// ProbeInterval is the interval to probe a random member.
	ProbeInterval time.Duration `json:"probe_interval" yaml:"probe_interval"`

	// StatusInterval is the interval to report status.
	StatusInterval time.Duration `json:"status_interval" yaml:"status_interval"`

	// AckTimeout is the time to wait for an ack before suspecting the
	// probed node.
	AckTimeout time.Duration `json:"ack_timeout" yaml:"ack_timeout"`

	// DeadTimeout is the time a node may stay suspected before it is
	// declared dead.
	DeadTimeout time.Duration `json:"dead_timeout" yaml:"dead_timeout"`

	// IndirectProbeTimeout is the time to wait for a helper to report the
	// suspected node alive.
	IndirectProbeTimeout time.Duration `json:"indirect_probe_timeout" yaml:"indirect_probe_timeout"`

	// DeleteRequestTimeout is the time a helper remembers who asked it to
	// probe a node.
	DeleteRequestTimeout time.Duration `json:"delete_request_timeout" yaml:"delete_request_timeout"`

	// ParentPingInterval is the interval a nated node pings its parents.
	ParentPingInterval time.Duration `json:"parent_ping_interval" yaml:"parent_ping_interval"`

	// ParentAckTimeout is the time to wait for a parent to respond before
	// dropping it.
	ParentAckTimeout time.Duration `json:"parent_ack_timeout" yaml:"parent_ack_timeout"`

	// TabuCacheSize is the maximum number of nodes whose parent history is
	// remembered.
	TabuCacheSize int `json:"tabu_cache_size" yaml:"tabu_cache_size"`

	// MaxPacketSize is the maximum size of any packet sent.
	MaxPacketSize int `json:"max_packet_size" yaml:"max_packet_size"`
}

func Default() *Config {
	return &Config{
		DisseminationCount:   8,
		IndirectProbes:       3,
		MaxPiggyback:         32,
		MaxParents:           5,
		ProbeInterval:        time.Second,
		StatusInterval:       time.Second,
		AckTimeout:           time.Second * 2,
		DeadTimeout:          time.Second * 30,
		IndirectProbeTimeout: time.Second * 6,
		DeleteRequestTimeout: time.Second * 2,
		ParentPingInterval:   time.Second,
		ParentAckTimeout:     time.Second * 2,
		TabuCacheSize:        1024,
		MaxPacketSize:        1400,
	}
}

func (c *Config) Validate() error {
	if c.DisseminationCount <= 0 {
		return fmt.Errorf("missing dissemination count")
	}
	if c.IndirectProbes <= 0 {
		return fmt.Errorf("missing indirect probes")
	}
	if c.MaxPiggyback <= 0 {
		return fmt.Errorf("missing max piggyback")
	}
	if c.MaxParents <= 0 {
		return fmt.Errorf("missing max parents")
	}
	if c.ProbeInterval == 0 {
		return fmt.Errorf("missing probe interval")
	}
	if c.StatusInterval == 0 {
		return fmt.Errorf("missing status interval")
	}
	if c.AckTimeout == 0 {
		return fmt.Errorf("missing ack timeout")
	}
	if c.DeadTimeout == 0 {
		return fmt.Errorf("missing dead timeout")
	}
	if c.IndirectProbeTimeout == 0 {
		return fmt.Errorf("missing indirect probe timeout")
	}
	if c.DeleteRequestTimeout == 0 {
		return fmt.Errorf("missing delete request timeout")
	}
	if c.ParentPingInterval == 0 {
		return fmt.Errorf("missing parent ping interval")
	}
	if c.ParentAckTimeout == 0 {
		return fmt.Errorf("missing parent ack timeout")
	}
	if c.TabuCacheSize <= 0 {
		return fmt.Errorf("missing tabu cache size")
	}
	if c.MaxPacketSize <= maxBodyOverhead {
		return fmt.Errorf("max packet size too small: %d", c.MaxPacketSize)
	}

	// A helpers probe must be answered before the requester gives up, and
	// the requester must give up before the suspected node is declared dead.
	if c.IndirectProbeTimeout <= c.AckTimeout+c.DeleteRequestTimeout {
		return fmt.Errorf(
			"indirect probe timeout must exceed ack timeout plus delete request timeout",
		)
	}
	if c.DeadTimeout <= c.IndirectProbeTimeout {
		return fmt.Errorf("dead timeout must exceed indirect probe timeout")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	prefix := "swim."

	fs.IntVar(
		&c.DisseminationCount,
		prefix+"dissemination-count",
		c.DisseminationCount,
		`
The number of acks each membership change is piggybacked on before it is
dropped from the dissemination buffer.

Larger clusters need a larger count for changes to reach every node.`,
	)
	fs.IntVar(
		&c.IndirectProbes,
		prefix+"indirect-probes",
		c.IndirectProbes,
		`
The number of helper nodes asked to probe a node that did not respond to a
direct probe.`,
	)
	fs.IntVar(
		&c.MaxPiggyback,
		prefix+"max-piggyback",
		c.MaxPiggyback,
		`
The maximum number of membership changes buffered for dissemination.

When full, the change that has been disseminated the most is evicted.`,
	)
	fs.IntVar(
		&c.MaxParents,
		prefix+"max-parents",
		c.MaxParents,
		`
The maximum number of open nodes a nated node uses as parents to relay its
traffic.`,
	)
	fs.DurationVar(
		&c.ProbeInterval,
		prefix+"probe-interval",
		c.ProbeInterval,
		`
The interval to probe a random member.`,
	)
	fs.DurationVar(
		&c.StatusInterval,
		prefix+"status-interval",
		c.StatusInterval,
		`
The interval to report status to the aggregator.`,
	)
	fs.DurationVar(
		&c.AckTimeout,
		prefix+"ack-timeout",
		c.AckTimeout,
		`
The time to wait for a probe ack before suspecting the probed node.`,
	)
	fs.DurationVar(
		&c.DeadTimeout,
		prefix+"dead-timeout",
		c.DeadTimeout,
		`
The time a node may stay suspected before it is declared dead.`,
	)
	fs.DurationVar(
		&c.IndirectProbeTimeout,
		prefix+"indirect-probe-timeout",
		c.IndirectProbeTimeout,
		`
The time to wait for helper nodes to report a suspected node alive before
declaring it dead.

Must exceed the ack timeout plus the delete request timeout.`,
	)
	fs.DurationVar(
		&c.DeleteRequestTimeout,
		prefix+"delete-request-timeout",
		c.DeleteRequestTimeout,
		`
The time a helper node remembers which node asked it to probe a target.`,
	)
	fs.DurationVar(
		&c.ParentPingInterval,
		prefix+"parent-ping-interval",
		c.ParentPingInterval,
		`
The interval a nated node pings each of its parents.`,
	)
	fs.DurationVar(
		&c.ParentAckTimeout,
		prefix+"parent-ack-timeout",
		c.ParentAckTimeout,
		`
The time to wait for a parent to respond to a ping before the parent is
dropped.`,
	)
	fs.IntVar(
		&c.TabuCacheSize,
		prefix+"tabu-cache-size",
		c.TabuCacheSize,
		`
The maximum number of nodes whose parent history is remembered.

A parent that has already been added to or removed from a node is not added
again until the history is evicted.`,
	)
	fs.IntVar(
		&c.MaxPacketSize,
		prefix+"max-packet-size",
		c.MaxPacketSize,
		`
The maximum size of any packet sent.

Depending on your networks MTU you may be able to increase to include more
membership changes in each packet.`,
	)
}
