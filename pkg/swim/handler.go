package swim

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/swimrelay/pkg/status"
)

// StatusHandler exposes the local membership view in the status API.
type StatusHandler struct {
	swim *Swim
}

func NewStatusHandler(swim *Swim) *StatusHandler {
	return &StatusHandler{
		swim: swim,
	}
}

func (h *StatusHandler) Register(group *gin.RouterGroup) {
	group.GET("/members", h.listMembersRoute)
	group.GET("/members/:id", h.getMemberRoute)
	group.GET("/local", h.localRoute)
	group.GET("/status", h.statusRoute)
	group.POST("/tabu/clear", h.clearTabuRoute)
}

func (h *StatusHandler) listMembersRoute(c *gin.Context) {
	members, err := h.swim.Members(c.Request.Context())
	if err != nil {
		h.unavailable(c)
		return
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Address.ID < members[j].Address.ID
	})
	c.JSON(http.StatusOK, members)
}

func (h *StatusHandler) getMemberRoute(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, status.NewErrorInfo(
			http.StatusBadRequest, "invalid member id",
		))
		return
	}

	member, ok, err := h.swim.Member(c.Request.Context(), NodeID(id))
	if err != nil {
		h.unavailable(c)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, status.NewErrorInfo(
			http.StatusNotFound, "member not found",
		))
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *StatusHandler) localRoute(c *gin.Context) {
	addr, err := h.swim.LocalAddress(c.Request.Context())
	if err != nil {
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, addr)
}

func (h *StatusHandler) statusRoute(c *gin.Context) {
	s, err := h.swim.Status(c.Request.Context())
	if err != nil {
		h.unavailable(c)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *StatusHandler) clearTabuRoute(c *gin.Context) {
	if err := h.swim.ClearTabu(c.Request.Context()); err != nil {
		h.unavailable(c)
		return
	}
	c.Status(http.StatusOK)
}

func (h *StatusHandler) unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, status.NewErrorInfo(
		http.StatusServiceUnavailable, "node not running",
	))
}

var _ status.Handler = &StatusHandler{}
