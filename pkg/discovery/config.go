package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// Endpoints contains the etcd endpoints. Discovery is disabled if
	// empty.
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Prefix is the key prefix nodes register under.
	Prefix string `json:"prefix" yaml:"prefix"`

	// TTL is the lease TTL of the registration. If the node stops keeping
	// the lease alive, its registration is removed after the TTL.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// DialTimeout is the timeout to connect to etcd.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

func Default() *Config {
	return &Config{
		Prefix:      "/swimrelay/nodes/",
		TTL:         time.Second * 10,
		DialTimeout: time.Second * 5,
	}
}

// Enabled returns whether etcd discovery is configured.
func (c *Config) Enabled() bool {
	return len(c.Endpoints) > 0
}

func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Prefix == "" || !strings.HasSuffix(c.Prefix, "/") {
		return fmt.Errorf("prefix must end with '/': %q", c.Prefix)
	}
	if c.TTL < time.Second {
		return fmt.Errorf("ttl must be at least 1s")
	}
	if c.DialTimeout == 0 {
		return fmt.Errorf("missing dial timeout")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += ".etcd."

	fs.StringSliceVar(
		&c.Endpoints,
		prefix+"endpoints",
		c.Endpoints,
		`
etcd endpoints used to discover existing nodes.

When set, the node registers its address under the configured prefix and
bootstraps from the addresses of the other registered nodes, in addition to
any nodes given with '--cluster.join'.`,
	)
	fs.StringVar(
		&c.Prefix,
		prefix+"prefix",
		c.Prefix,
		`
The etcd key prefix nodes register under.`,
	)
	fs.DurationVar(
		&c.TTL,
		prefix+"ttl",
		c.TTL,
		`
The TTL of the nodes registration lease.

If the node exits without deregistering, its registration is removed once the
lease expires.`,
	)
	fs.DurationVar(
		&c.DialTimeout,
		prefix+"dial-timeout",
		c.DialTimeout,
		`
The timeout to connect to etcd.`,
	)
}
