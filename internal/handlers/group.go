package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/telemetry"
)

// GroupHandler manages group-related endpoints.
type GroupHandler struct {
	groups *chat.GroupService
	audit  *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groups *chat.GroupService, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{groups: groups, audit: audit}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name    string   `json:"name" binding:"required,max=100"`
		Members []string `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groups.Create(c.Request.Context(), userIDFromContext(c), req.Name, req.Members)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// ListGroups handles GET /groups/my.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListForUser(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetMembers handles GET /groups/:groupId/members.
func (h *GroupHandler) GetMembers(c *gin.Context) {
	members, err := h.groups.Members(c.Request.Context(), c.Param("groupId"), userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddMembers handles POST /groups/:groupId/members.
func (h *GroupHandler) AddMembers(c *gin.Context) {
	var req struct {
		Members []string `json:"members" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groups.AddMembers(c.Request.Context(), c.Param("groupId"), userIDFromContext(c), req.Members)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// RenameGroup handles PUT /groups/:groupId.
func (h *GroupHandler) RenameGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required,max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groups.Rename(c.Request.Context(), c.Param("groupId"), userIDFromContext(c), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// DeleteGroup handles DELETE /groups/:groupId.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID := c.Param("groupId")
	if err := h.groups.Delete(c.Request.Context(), groupID, userIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	emitAudit(c, h.audit, "delete", "group", groupID, "")
	c.JSON(http.StatusOK, gin.H{"groupId": groupID})
}

// LeaveGroup handles POST /groups/:groupId/leave.
func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	userID := userIDFromContext(c)
	h.removeMember(c, c.Param("groupId"), userID)
}

// RemoveMember handles DELETE /groups/:groupId/members/:userId.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	h.removeMember(c, c.Param("groupId"), c.Param("userId"))
}

func (h *GroupHandler) removeMember(c *gin.Context, groupID, userID string) {
	if err := h.groups.RemoveMember(c.Request.Context(), groupID, userIDFromContext(c), userID); err != nil {
		writeError(c, err)
		return
	}
	emitAudit(c, h.audit, "remove_member", "group", groupID, userID)
	c.Status(http.StatusNoContent)
}
