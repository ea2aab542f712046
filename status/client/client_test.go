package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/status"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	client := NewClient(u, time.Second*5, nil)
	t.Cleanup(client.Close)
	return client
}

func TestSwim(t *testing.T) {
	member := swim.Member{
		Address: swim.PeerAddress{
			ID:   2,
			Addr: "192.168.1.2:7946",
			NAT:  swim.NATTypeNated,
			Parents: []swim.PeerAddress{
				{ID: 1, Addr: "10.0.0.1:7946"},
			},
		},
		State:       swim.MemberStateSuspected,
		Incarnation: 3,
	}

	var cleared bool
	mux := http.NewServeMux()
	mux.HandleFunc("/status/swim/members", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]swim.Member{member})
	})
	mux.HandleFunc("/status/swim/members/2", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(member)
	})
	mux.HandleFunc("/status/swim/members/3", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(status.NewErrorInfo(
			http.StatusNotFound, "member not found",
		))
	})
	mux.HandleFunc("/status/swim/tabu/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cleared = true
	})

	client := NewSwim(newTestClient(t, mux))

	t.Run("members", func(t *testing.T) {
		members, err := client.Members()
		require.NoError(t, err)
		assert.Equal(t, []swim.Member{member}, members)
	})

	t.Run("member", func(t *testing.T) {
		m, err := client.Member(2)
		require.NoError(t, err)
		assert.Equal(t, member, m)
	})

	t.Run("member not found", func(t *testing.T) {
		_, err := client.Member(3)
		var errorInfo *status.ErrorInfo
		require.ErrorAs(t, err, &errorInfo)
		assert.Equal(t, "member not found", errorInfo.Message)
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := client.Local()
		assert.EqualError(t, err, "request: bad status: 404")
	})

	t.Run("clear tabu", func(t *testing.T) {
		require.NoError(t, client.ClearTabu())
		assert.True(t, cleared)
	})
}
