package aggregator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/status"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

func TestStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	at := newAggregatorTest(t)

	addr := swim.PeerAddress{ID: 1, Addr: "10.0.0.1:7946"}
	at.report(t, addr, &swim.Status{NodeID: 1, RunID: "a", Members: 3})
	assert.Eventually(t, func() bool {
		_, ok := at.aggregator.Node(1)
		return ok
	}, time.Second, time.Millisecond*10)

	router := gin.New()
	NewStatus(at.aggregator).Register(router.Group("/status/aggregator"))

	t.Run("list nodes", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status/aggregator/nodes", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var nodes []NodeStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
		require.Len(t, nodes, 1)
		assert.Equal(t, addr, nodes[0].Address)
		assert.Equal(t, 3, nodes[0].Status.Members)
	})

	t.Run("get node", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status/aggregator/nodes/1", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var node NodeStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
		assert.Equal(t, addr, node.Address)
	})

	t.Run("node not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status/aggregator/nodes/5", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)

		var errorInfo status.ErrorInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errorInfo))
		assert.Equal(t, "node not found", errorInfo.Message)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status/aggregator/nodes/abc", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
