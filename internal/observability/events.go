package observability

import (
	"context"
	"time"
)

// Routing keys on the events exchange.
const (
	RoutingWSEvents       = "ws_events.chat"
	RoutingMessageEvents  = "message_events"
	RoutingPresenceEvents = "presence_events"
	RoutingAuditEvents    = "audit_events.chat"
)

type EventEnvelope struct {
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// Emit publishes a best-effort event. Failures are only counted.
func Emit(ctx context.Context, routingKey, eventType, eventName string, payload any, headers map[string]string) {
	_ = PublishEvent(ctx, routingKey, EventEnvelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}, headers)
}
