package swim

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"dissemination count", func(c *Config) { c.DisseminationCount = 0 }},
		{"indirect probes", func(c *Config) { c.IndirectProbes = 0 }},
		{"max parents", func(c *Config) { c.MaxParents = -1 }},
		{"probe interval", func(c *Config) { c.ProbeInterval = 0 }},
		{"tabu cache size", func(c *Config) { c.TabuCacheSize = 0 }},
		{"max packet size", func(c *Config) { c.MaxPacketSize = maxBodyOverhead }},
		{"indirect probe timeout", func(c *Config) {
			c.IndirectProbeTimeout = c.AckTimeout + c.DeleteRequestTimeout
		}},
		{"dead timeout", func(c *Config) { c.DeadTimeout = c.IndirectProbeTimeout }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := Default()
			tt.modify(conf)
			assert.Error(t, conf.Validate())
		})
	}
}

func TestConfig_RegisterFlags(t *testing.T) {
	conf := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--swim.max-parents", "2",
		"--swim.ack-timeout", "500ms",
		"--swim.max-packet-size", "9000",
	}))

	assert.Equal(t, 2, conf.MaxParents)
	assert.Equal(t, time.Millisecond*500, conf.AckTimeout)
	assert.Equal(t, 9000, conf.MaxPacketSize)
	// Unset flags keep their defaults.
	assert.Equal(t, Default().DeadTimeout, conf.DeadTimeout)
}
