package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"contentcollab/backend/internal/cache"
	"contentcollab/backend/internal/collab"
)

// RoomsHandler 房间状态的只读 REST 视图，给运营后台和调试用。
// 写操作一律走 WebSocket，这里不提供。
type RoomsHandler struct {
	svc      collab.Service
	presence cache.PresenceCache
}

func NewRoomsHandler(svc collab.Service, presence cache.PresenceCache) *RoomsHandler {
	return &RoomsHandler{svc: svc, presence: presence}
}

// ListActive GET /collab/rooms 当前有活跃房间的内容 ID 列表
func (h *RoomsHandler) ListActive(c *gin.Context) {
	docs, err := h.presence.GetDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "PRESENCE_UNAVAILABLE", "message": err.Error()})
		return
	}
	if docs == nil {
		docs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": docs})
}

// GetRoom GET /collab/rooms/:contentId 房间权威快照
func (h *RoomsHandler) GetRoom(c *gin.Context) {
	contentID := c.Param("contentId")
	state, err := h.svc.Snapshot(c.Request.Context(), contentID)
	if err != nil {
		if errors.Is(err, collab.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "ROOM_NOT_FOUND", "message": contentID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "SNAPSHOT_FAILED", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetPresence GET /collab/rooms/:contentId/presence 心跳仍存活的成员
func (h *RoomsHandler) GetPresence(c *gin.Context) {
	contentID := c.Param("contentId")
	members, err := h.presence.GetAliveMembersWithNames(c.Request.Context(), contentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "PRESENCE_UNAVAILABLE", "message": err.Error()})
		return
	}
	if members == nil {
		members = []cache.PresenceMember{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
