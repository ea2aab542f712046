//go:build integration

package discovery

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

// Requires an etcd server at $SWIMRELAY_ETCD_ENDPOINT.
func TestRegistry(t *testing.T) {
	endpoint := os.Getenv("SWIMRELAY_ETCD_ENDPOINT")
	if endpoint == "" {
		t.Skip("SWIMRELAY_ETCD_ENDPOINT not set")
	}

	conf := Default()
	conf.Endpoints = []string{endpoint}
	conf.Prefix = "/swimrelay-test/" + t.Name() + "/"

	r1, err := NewRegistry(conf, log.NewNopLogger())
	require.NoError(t, err)
	r2, err := NewRegistry(conf, log.NewNopLogger())
	require.NoError(t, err)
	defer r2.Close(context.Background())

	addr1 := swim.PeerAddress{ID: 1, Addr: "10.0.0.1:7946"}
	addr2 := swim.PeerAddress{ID: 2, Addr: "10.0.0.2:7946", NAT: swim.NATTypeNated}
	require.NoError(t, r1.Register(context.Background(), addr1))
	require.NoError(t, r2.Register(context.Background(), addr2))

	peers, err := r2.Peers(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []swim.PeerAddress{addr1, addr2}, peers)

	// Closing revokes the registration.
	require.NoError(t, r1.Close(context.Background()))

	peers, err = r2.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []swim.PeerAddress{addr2}, peers)
}
