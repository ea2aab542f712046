package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/swim"
)

func TestParsePeer(t *testing.T) {
	prefix := Default().Prefix

	t.Run("open", func(t *testing.T) {
		addr := swim.PeerAddress{ID: 3, Addr: "10.26.104.14:7946"}

		parsed, err := parsePeer(prefix, nodeKey(prefix, 3), addr.String())
		require.NoError(t, err)
		assert.Equal(t, addr, parsed)
	})

	t.Run("nated", func(t *testing.T) {
		addr := swim.PeerAddress{ID: 4, Addr: "192.168.1.4:7946", NAT: swim.NATTypeNated}

		parsed, err := parsePeer(prefix, nodeKey(prefix, 4), addr.String())
		require.NoError(t, err)
		assert.Equal(t, addr, parsed)
	})

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"wrong prefix", "/other/3", "3@10.26.104.14:7946"},
		{"invalid id", prefix + "abc", "3@10.26.104.14:7946"},
		{"invalid value", prefix + "3", "10.26.104.14:7946"},
		{"mismatched id", prefix + "3", "4@10.26.104.14:7946"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePeer(prefix, tt.key, tt.value)
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	// Disabled config is always valid.
	conf := Default()
	conf.TTL = 0
	assert.NoError(t, conf.Validate())

	conf = Default()
	conf.Endpoints = []string{"localhost:2379"}
	assert.NoError(t, conf.Validate())

	conf.Prefix = "/swimrelay/nodes"
	assert.Error(t, conf.Validate())

	conf = Default()
	conf.Endpoints = []string{"localhost:2379"}
	conf.TTL = time.Millisecond * 500
	assert.Error(t, conf.Validate())
}
