package sampling

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// Interval is the interval to emit a new sample.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Size is the maximum number of addresses in each sample.
	Size int `json:"size" yaml:"size"`
}

func Default() *Config {
	return &Config{
		Interval: time.Second * 5,
		Size:     8,
	}
}

func (c *Config) Validate() error {
	if c.Interval == 0 {
		return fmt.Errorf("missing interval")
	}
	if c.Size <= 0 {
		return fmt.Errorf("missing size")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(
		&c.Interval,
		"sampling.interval",
		c.Interval,
		`
The interval to sample open nodes as parent candidates.

Only used by nated nodes.`,
	)
	fs.IntVar(
		&c.Size,
		"sampling.size",
		c.Size,
		`
The maximum number of open nodes in each sample.`,
	)
}
