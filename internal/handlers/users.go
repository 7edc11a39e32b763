package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

// PresenceReader answers live presence questions.
type PresenceReader interface {
	IsOnline(userID string) bool
}

// UserHandler serves user listings with live presence.
type UserHandler struct {
	users    repositories.UserRepository
	presence PresenceReader
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users repositories.UserRepository, presence PresenceReader) *UserHandler {
	return &UserHandler{users: users, presence: presence}
}

// ListUsers handles GET /users. The caller is left out.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	self := userIDFromContext(c)
	resp := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		resp = append(resp, h.withPresence(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

// GetStatus handles GET /users/:userId/status.
func (h *UserHandler) GetStatus(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, chat.StoreError("load user", err))
		return
	}
	user = h.withPresence(user)
	c.JSON(http.StatusOK, models.StatusChange{UserID: user.ID, IsOnline: user.IsOnline, LastSeen: user.LastSeen})
}

// withPresence overlays the in-memory registry, which is authoritative when
// a persisted transition failed.
func (h *UserHandler) withPresence(u models.User) models.User {
	if h.presence != nil {
		u.IsOnline = h.presence.IsOnline(u.ID)
	}
	return u
}
