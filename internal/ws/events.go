package ws

import (
	"context"

	"chat-realtime/internal/observability"
)

// publishWSEvent records a connection lifecycle event on the event bus and
// in metrics.
func publishWSEvent(info ConnInfo, event, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	observability.Emit(context.Background(), observability.RoutingWSEvents, "ws_events", event, info.eventPayload(reason), headers)
	observability.IncWSEvent(event, "ok")
}
