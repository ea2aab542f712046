package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/swimrelay/pkg/admin"
	"github.com/andydunstall/swimrelay/pkg/log"
)

type AggregatorConfig struct {
	// BindAddr is the UDP address to listen for status reports.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// NodeTimeout is the duration after which a node that hasn't reported
	// is removed.
	NodeTimeout time.Duration `json:"node_timeout" yaml:"node_timeout"`
}

func (c *AggregatorConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if c.NodeTimeout == 0 {
		return fmt.Errorf("missing node timeout")
	}
	return nil
}

func (c *AggregatorConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"aggregator.bind-addr",
		c.BindAddr,
		`
The host/port to listen for status reports over UDP.

Nodes are configured to report to the aggregator with
'--status.aggregator <id>@<advertised host:port>'.`,
	)
	fs.DurationVar(
		&c.NodeTimeout,
		"aggregator.node-timeout",
		c.NodeTimeout,
		`
The duration after which a node that hasn't sent a report is removed.`,
	)
}

type Config struct {
	Aggregator AggregatorConfig `json:"aggregator" yaml:"aggregator"`
	Admin      admin.Config     `json:"admin" yaml:"admin"`
	Log        log.Config       `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the aggregator.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Aggregator: AggregatorConfig{
			BindAddr:    ":7950",
			NodeTimeout: time.Minute,
		},
		Admin:       *admin.Default(":8003"),
		Log:         *log.Default(),
		GracePeriod: time.Second * 30,
	}
}

func (c *Config) Validate() error {
	if err := c.Aggregator.Validate(); err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
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
	c.Aggregator.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs, "admin")
	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the aggregator.`,
	)
}
