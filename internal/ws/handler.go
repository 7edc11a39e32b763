package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Engine is the message routing surface used by websocket events.
type Engine interface {
	SendMessage(ctx context.Context, senderID string, in chat.SendInput) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID, userID string) error
	MarkSeen(ctx context.Context, messageID, userID string) error
	AuthorizeGroupJoin(ctx context.Context, groupID, userID string) error
	GroupIDsFor(ctx context.Context, userID string) ([]string, error)
}

// Presence tracks connection handles per user.
type Presence interface {
	Register(ctx context.Context, userID, connID string) bool
	Unregister(ctx context.Context, userID, connID string) bool
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Options tune per-connection behaviour.
type Options struct {
	EventTimeout time.Duration
	QueueSize    int
}

// Handler upgrades authenticated requests and serves the event protocol.
type Handler struct {
	hub      *Hub
	engine   Engine
	presence Presence
	auth     TokenValidator
	opts     Options
	validate *validator.Validate
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, engine Engine, presence Presence, auth TokenValidator, opts Options, logger *zap.Logger) *Handler {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Handler{
		hub:      hub,
		engine:   engine,
		presence: presence,
		auth:     auth,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades the connection and starts serving it.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c.GetHeader("Authorization"), c.Query("token"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.auth.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info, h.opts.QueueSize)

	// The request context ends when this handler returns.
	h.wg.Add(1)
	go h.serve(context.WithoutCancel(ctx), client)
}

// Wait blocks until every served connection has run its disconnect
// bookkeeping, including the offline presence write, or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve runs the read loop of one connection until it closes.
func (h *Handler) serve(ctx context.Context, client *Client) {
	defer h.wg.Done()
	info := client.info
	conn := client.conn

	h.connect(ctx, client)
	go client.writePump()

	var closeReason string
	defer func() {
		h.hub.RemoveClient(client)
		client.Close()
		h.presence.Unregister(ctx, info.UserID, info.ConnID)
		observability.DecWSActive()
		publishWSEvent(info, "ws_disconnect", closeReason)
		h.logger.Info("websocket disconnected", info.logFields(zap.String("reason", closeReason))...)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(info, "ws_error", closeReason)
			}
			return
		}
		h.dispatch(ctx, client, data)
	}
}

// connect subscribes the connection to its own channel and to every group
// the user belongs to, then marks the user online.
func (h *Handler) connect(ctx context.Context, client *Client) {
	info := client.info
	h.hub.AddClient(client)
	h.hub.JoinOwnChannel(info.UserID, client)

	groupCtx, cancel := context.WithTimeout(ctx, h.opts.EventTimeout)
	groupIDs, err := h.engine.GroupIDsFor(groupCtx, info.UserID)
	cancel()
	if err != nil {
		h.logger.Warn("load groups on connect failed", zap.String("user_id", info.UserID), zap.Error(err))
	}
	for _, groupID := range groupIDs {
		h.hub.JoinGroupChannel(groupID, client)
	}

	h.presence.Register(ctx, info.UserID, info.ConnID)
	observability.IncWSActive()
	publishWSEvent(info, "ws_connect", "")
	h.logger.Info("websocket connected", info.logFields(zap.Int("groups", len(groupIDs)))...)
}

// dispatch handles one inbound frame. Events from one connection are
// processed in the order they arrive.
func (h *Handler) dispatch(ctx context.Context, client *Client, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.reject(client, "", "", fmt.Errorf("%w: malformed frame", chat.ErrInvalidInput))
		observability.IncWSEvent("malformed", "error")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.EventTimeout)
	defer cancel()
	ctx, span := otel.Tracer("chat-realtime/ws").Start(ctx, "ws.event")
	defer span.End()
	span.SetAttributes(attribute.String("event", env.Event), attribute.String("user_id", client.info.UserID))

	clientRef, err := h.handleEvent(ctx, client, env)
	label := env.Event
	if errors.Is(err, errUnknownEvent) {
		label = "unknown"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, chat.Code(err))
		observability.IncWSEvent(label, "error")
		h.reject(client, env.Event, clientRef, err)
		return
	}
	observability.IncWSEvent(label, "ok")
}

var errUnknownEvent = fmt.Errorf("%w: unknown event", chat.ErrInvalidInput)

func (h *Handler) handleEvent(ctx context.Context, client *Client, env models.Envelope) (string, error) {
	self := client.info.UserID
	switch env.Event {
	case models.EventJoinUser:
		userID, err := decodeID(env.Data, "userId")
		if err != nil {
			return "", err
		}
		if userID != self {
			return "", fmt.Errorf("join user %s: %w", userID, chat.ErrNotAuthorized)
		}
		h.hub.JoinOwnChannel(self, client)
		return "", nil

	case models.EventJoinGroup:
		groupID, err := decodeID(env.Data, "groupId")
		if err != nil {
			return "", err
		}
		if err := h.engine.AuthorizeGroupJoin(ctx, groupID, self); err != nil {
			return "", err
		}
		h.hub.JoinGroupChannel(groupID, client)
		return "", nil

	case models.EventSend:
		var payload models.SendPayload
		if err := h.decode(env.Data, &payload); err != nil {
			return "", err
		}
		if payload.Sender != "" && payload.Sender != self {
			return payload.ClientRef, fmt.Errorf("send as %s: %w", payload.Sender, chat.ErrNotAuthorized)
		}
		_, err := h.engine.SendMessage(ctx, self, chat.SendInput{
			Content:        payload.Content,
			Recipient:      payload.Recipient,
			Group:          payload.Group,
			FileAttachment: payload.FileAttachment,
			Forwarded:      payload.Forwarded,
			ClientRef:      payload.ClientRef,
		})
		return payload.ClientRef, err

	case models.EventDelivered, models.EventSeen:
		var payload models.ReceiptPayload
		if err := h.decode(env.Data, &payload); err != nil {
			return "", err
		}
		if payload.UserID != self {
			return "", fmt.Errorf("receipt for %s: %w", payload.UserID, chat.ErrNotAuthorized)
		}
		if env.Event == models.EventDelivered {
			return "", h.engine.MarkDelivered(ctx, payload.MessageID, self)
		}
		return "", h.engine.MarkSeen(ctx, payload.MessageID, self)

	case models.EventUserOnline:
		userID, err := decodeID(env.Data, "userId")
		if err != nil {
			return "", err
		}
		if userID != self {
			return "", fmt.Errorf("online as %s: %w", userID, chat.ErrNotAuthorized)
		}
		h.presence.Register(ctx, self, client.info.ConnID)
		return "", nil

	default:
		return "", errUnknownEvent
	}
}

func (h *Handler) decode(data json.RawMessage, into any) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %w", chat.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(into); err != nil {
		return fmt.Errorf("%w: %w", chat.ErrInvalidInput, err)
	}
	return nil
}

// decodeID accepts either a bare JSON string or an object carrying the
// id under field.
func decodeID(data json.RawMessage, field string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err == nil && obj[field] != "" {
		return obj[field], nil
	}
	return "", fmt.Errorf("%w: %s is required", chat.ErrInvalidInput, field)
}

// reject reports a failed event to the originating connection only.
func (h *Handler) reject(client *Client, event, clientRef string, err error) {
	code := chat.Code(err)
	message := err.Error()
	if code == "PersistenceFailure" || code == "InternalError" {
		message = "internal error"
		h.logger.Error("websocket event failed", zap.String("event", event), zap.String("user_id", client.info.UserID), zap.Error(err))
	}
	h.hub.SendTo(client, models.EventError, models.ErrorPayload{
		Event:     event,
		Code:      code,
		Message:   message,
		ClientRef: clientRef,
	})
}
