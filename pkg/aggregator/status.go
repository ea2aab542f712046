package aggregator

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/swimrelay/pkg/status"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

type Status struct {
	aggregator *Aggregator
}

func NewStatus(aggregator *Aggregator) *Status {
	return &Status{
		aggregator: aggregator,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("/nodes", s.listNodesRoute)
	group.GET("/nodes/:id", s.getNodeRoute)
}

func (s *Status) listNodesRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.aggregator.Nodes())
}

func (s *Status) getNodeRoute(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, status.NewErrorInfo(
			http.StatusBadRequest, "invalid node id",
		))
		return
	}
	node, ok := s.aggregator.Node(swim.NodeID(id))
	if !ok {
		c.JSON(http.StatusNotFound, status.NewErrorInfo(
			http.StatusNotFound, "node not found",
		))
		return
	}
	c.JSON(http.StatusOK, node)
}

var _ status.Handler = &Status{}
