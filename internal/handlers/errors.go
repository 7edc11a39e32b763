package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/chat"
)

var statusByCode = map[string]int{
	"InvalidDestination": http.StatusBadRequest,
	"EmptyMessage":       http.StatusBadRequest,
	"InvalidAttachment":  http.StatusBadRequest,
	"InvalidInput":       http.StatusBadRequest,
	"NotAuthorized":      http.StatusForbidden,
	"NotFound":           http.StatusNotFound,
	"Conflict":           http.StatusConflict,
	"CreatorMembership":  http.StatusConflict,
}

// writeError maps a chat error to its HTTP status. Server-side failures
// are not described to the caller.
func writeError(c *gin.Context, err error) {
	code := chat.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
