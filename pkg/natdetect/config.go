package natdetect

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// Servers contains the STUN servers to query for the nodes public
	// address, as 'host:port'.
	Servers []string `json:"servers" yaml:"servers"`

	// Timeout is the time to wait for each STUN response.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Retries is the number of times to retry a STUN server before moving
	// on to the next one.
	Retries int `json:"retries" yaml:"retries"`
}

func Default() *Config {
	return &Config{
		Servers: []string{"stun.l.google.com:19302"},
		Timeout: time.Second * 5,
		Retries: 2,
	}
}

func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("missing servers")
	}
	if c.Timeout == 0 {
		return fmt.Errorf("missing timeout")
	}
	if c.Retries < 0 {
		return fmt.Errorf("invalid retries: %d", c.Retries)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix += "."

	fs.StringSliceVar(
		&c.Servers,
		prefix+"stun-servers",
		c.Servers,
		`
STUN servers used to discover the nodes public address when the NAT type is
'auto'.

If the public address matches a local interface address the node is open,
otherwise it is nated.`,
	)
	fs.DurationVar(
		&c.Timeout,
		prefix+"stun-timeout",
		c.Timeout,
		`
The time to wait for a STUN response.`,
	)
	fs.IntVar(
		&c.Retries,
		prefix+"stun-retries",
		c.Retries,
		`
The number of times to retry each STUN server before trying the next.`,
	)
}
