package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	conf := Default()
	assert.NoError(t, conf.Validate())

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--aggregator.bind-addr", ":9000",
		"--aggregator.node-timeout", "10s",
		"--admin.bind-addr", ":9001",
	}))
	require.NoError(t, conf.Validate())

	assert.Equal(t, ":9000", conf.Aggregator.BindAddr)
	assert.Equal(t, time.Second*10, conf.Aggregator.NodeTimeout)
	assert.Equal(t, ":9001", conf.Admin.BindAddr)

	conf.Aggregator.NodeTimeout = 0
	assert.EqualError(t, conf.Validate(), "aggregator: missing node timeout")
}
