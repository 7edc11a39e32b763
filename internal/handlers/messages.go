package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// MessageHandler serves message history and the REST equivalents of the
// realtime events.
type MessageHandler struct {
	engine *chat.Engine
	users  repositories.UserRepository
	audit  *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(engine *chat.Engine, users repositories.UserRepository, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{engine: engine, users: users, audit: audit}
}

type sendRequest struct {
	Content        string                 `json:"content" binding:"max=10000"`
	Recipient      string                 `json:"recipient"`
	Group          string                 `json:"group"`
	FileAttachment *models.FileAttachment `json:"fileAttachment"`
	Forwarded      bool                   `json:"forwarded"`
	ClientRef      string                 `json:"clientRef" binding:"max=64"`
}

// ListDirectMessages handles GET /messages/user/:userId.
func (h *MessageHandler) ListDirectMessages(c *gin.Context) {
	h.history(c, models.PeerUser, c.Param("userId"))
}

// ListGroupMessages handles GET /messages/group/:groupId.
func (h *MessageHandler) ListGroupMessages(c *gin.Context) {
	h.history(c, models.PeerGroup, c.Param("groupId"))
}

func (h *MessageHandler) history(c *gin.Context, peerType models.PeerType, peerID string) {
	msgs, err := h.engine.History(c.Request.Context(), userIDFromContext(c), peerType, peerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("expand") != "users" {
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
		return
	}

	ids := lo.Uniq(lo.FlatMap(msgs, func(m models.Message, _ int) []string {
		return lo.Compact([]string{m.Sender, m.Recipient})
	}))
	users, err := h.users.GetUsers(c.Request.Context(), ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	byID := lo.KeyBy(users, func(u models.User) string { return u.ID })
	expanded := lo.Map(msgs, func(m models.Message, _ int) models.ExpandedMessage { return m.Expand(byID) })
	c.JSON(http.StatusOK, gin.H{"messages": expanded})
}

// SendMessage handles POST /messages.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), userIDFromContext(c), chat.SendInput{
		Content:        req.Content,
		Recipient:      req.Recipient,
		Group:          req.Group,
		FileAttachment: req.FileAttachment,
		Forwarded:      req.Forwarded,
		ClientRef:      req.ClientRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "clientRef": req.ClientRef})
}

// EditMessage handles PUT /messages/:messageId.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"max=10000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messageID := c.Param("messageId")
	msg, err := h.engine.EditMessage(c.Request.Context(), messageID, userIDFromContext(c), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	emitAudit(c, h.audit, "edit", "message", messageID, "")
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage handles DELETE /messages/:messageId.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("messageId")
	msg, err := h.engine.DeleteMessage(c.Request.Context(), messageID, userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	_, peerID := msg.Destination()
	emitAudit(c, h.audit, "delete", "message", messageID, peerID)
	c.JSON(http.StatusOK, gin.H{"messageId": messageID})
}

// ForwardMessage handles POST /messages/:messageId/forward.
func (h *MessageHandler) ForwardMessage(c *gin.Context) {
	var dest chat.Destination
	if err := c.ShouldBindJSON(&dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.ForwardMessage(c.Request.Context(), c.Param("messageId"), userIDFromContext(c), dest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkDelivered handles POST /messages/:messageId/delivered.
func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	if err := h.engine.MarkDelivered(c.Request.Context(), c.Param("messageId"), userIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkSeen handles POST /messages/:messageId/seen.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	if err := h.engine.MarkSeen(c.Request.Context(), c.Param("messageId"), userIDFromContext(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
