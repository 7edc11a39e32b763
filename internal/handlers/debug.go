package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/telemetry"
)

// OnlineLister exposes the presence registry to debug endpoints.
type OnlineLister interface {
	OnlineUsers() []string
	Connections(userID string) []string
}

// ConnCounter reports the number of live websocket connections.
type ConnCounter interface {
	ClientCount() int
}

// DebugDeps are the collaborators debug endpoints read from. Any may be nil.
type DebugDeps struct {
	Audit    *telemetry.AuditEmitter
	Presence OnlineLister
	Hub      ConnCounter
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, deps.Audit, "test", "audit", "", "audit test")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/presence", func(c *gin.Context) {
		if deps.Presence == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence not configured"})
			return
		}
		online := deps.Presence.OnlineUsers()
		conns := make(map[string]int, len(online))
		for _, userID := range online {
			conns[userID] = len(deps.Presence.Connections(userID))
		}
		body := gin.H{"online": online, "connections": conns}
		if deps.Hub != nil {
			body["clients"] = deps.Hub.ClientCount()
		}
		c.JSON(http.StatusOK, body)
	})
}
