package ws

import (
	"time"

	"go.uber.org/zap"
)

// ConnInfo describes one authenticated websocket connection.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) logFields(extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("conn_id", i.ConnID),
		zap.String("user_id", i.UserID),
	}
	if i.DeviceID != "" {
		fields = append(fields, zap.String("device_id", i.DeviceID))
	}
	return append(fields, extra...)
}

// eventPayload is the body published for connection lifecycle events.
func (i ConnInfo) eventPayload(reason string) map[string]any {
	payload := map[string]any{
		"conn_id":    i.ConnID,
		"user_id":    i.UserID,
		"device_id":  i.DeviceID,
		"ip":         i.IP,
		"request_id": i.RequestID,
	}
	if !i.ConnectedAt.IsZero() {
		payload["connected_ms"] = time.Since(i.ConnectedAt).Milliseconds()
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return payload
}
