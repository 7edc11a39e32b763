// Package chat routes messages and receipts between users and groups.
package chat

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// Publisher pushes an event to every connection subscribed to any of the
// channels. Delivery is best effort.
type Publisher interface {
	Publish(event string, data any, channels ...string) int
}

// SendInput is a message submitted by an authenticated sender.
type SendInput struct {
	Content        string
	Recipient      string
	Group          string
	FileAttachment *models.FileAttachment
	Forwarded      bool
	ClientRef      string
}

// Destination names exactly one of a recipient user or a group.
type Destination struct {
	Recipient string `json:"recipient,omitempty"`
	Group     string `json:"group,omitempty"`
}

// Engine persists messages and receipts and fans them out to the
// subscribed channels.
type Engine struct {
	users     repositories.UserRepository
	groups    repositories.GroupRepository
	messages  repositories.MessageRepository
	publisher Publisher
	validate  *validator.Validate
	locks     *keyedMutex
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine wires the engine to its stores and publisher.
func NewEngine(users repositories.UserRepository, groups repositories.GroupRepository, messages repositories.MessageRepository, publisher Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		users:     users,
		groups:    groups,
		messages:  messages,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		locks:     newKeyedMutex(),
		tracer:    otel.Tracer("chat-realtime/chat"),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage validates, persists and pushes a new message. The stored
// message is returned; nothing is pushed when persistence fails.
func (e *Engine) SendMessage(ctx context.Context, senderID string, in SendInput) (models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "chat.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("sender_id", senderID), attribute.Bool("forwarded", in.Forwarded))

	msg, err := e.sendMessage(ctx, senderID, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		return models.Message{}, err
	}
	span.SetAttributes(attribute.String("message_id", msg.ID))
	return msg, nil
}

func (e *Engine) sendMessage(ctx context.Context, senderID string, in SendInput) (models.Message, error) {
	if err := e.validateSend(in); err != nil {
		return models.Message{}, err
	}

	kind := "direct"
	if in.Group != "" {
		kind = "group"
		group, err := e.groups.GetGroup(ctx, in.Group)
		if err != nil {
			return models.Message{}, StoreError("load group", err)
		}
		if !group.HasMember(senderID) {
			return models.Message{}, fmt.Errorf("send to group %s: %w", in.Group, ErrNotAuthorized)
		}
	} else if _, err := e.users.GetUser(ctx, in.Recipient); err != nil {
		return models.Message{}, StoreError("load recipient", err)
	}

	draft := models.Message{
		Sender:         senderID,
		Recipient:      in.Recipient,
		Group:          in.Group,
		Content:        in.Content,
		FileAttachment: in.FileAttachment,
		Forwarded:      in.Forwarded,
	}

	unlock := e.locks.Lock(destinationKey(draft))
	defer unlock()

	msg, err := e.messages.CreateMessage(ctx, draft)
	if err != nil {
		e.logger.Error("persist message failed", zap.String("sender_id", senderID), zap.Error(err))
		return models.Message{}, StoreError("create message", err)
	}

	e.publisher.Publish(models.EventReceive, models.PushedMessage{Message: msg, ClientRef: in.ClientRef}, destinationChannels(msg)...)
	observability.IncMessageSent(kind)
	payload := map[string]any{
		"message_id": msg.ID,
		"sender_id":  msg.Sender,
		"recipient":  msg.Recipient,
		"group":      msg.Group,
		"forwarded":  msg.Forwarded,
		"attachment": msg.FileAttachment != nil,
	}
	if msg.FileAttachment != nil {
		attKind := attachmentKind(*msg.FileAttachment)
		observability.IncAttachmentSent(attKind)
		payload["attachment_kind"] = attKind
	}
	observability.Emit(ctx, observability.RoutingMessageEvents, "message_events", "message_sent", payload, nil)
	e.logger.Debug("message sent", zap.String("message_id", msg.ID), zap.String("kind", kind))
	return msg, nil
}

func (e *Engine) validateSend(in SendInput) error {
	if (in.Recipient == "") == (in.Group == "") {
		return ErrInvalidDestination
	}
	if strings.TrimSpace(in.Content) == "" && in.FileAttachment == nil {
		return ErrEmptyMessage
	}
	if in.FileAttachment != nil {
		if err := e.validateAttachment(*in.FileAttachment); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateAttachment(att models.FileAttachment) error {
	if err := e.validate.Struct(att); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAttachment, err)
	}
	if _, _, err := mime.ParseMediaType(att.Mimetype); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAttachment, err)
	}
	return nil
}

// attachmentKind reports "image" or "file". Aliases known to mimetype are
// resolved first; unknown types are classified by their top-level type.
func attachmentKind(att models.FileAttachment) string {
	mediaType, _, err := mime.ParseMediaType(att.Mimetype)
	if err != nil {
		return "file"
	}
	if known := mimetype.Lookup(mediaType); known != nil {
		mediaType = known.String()
	}
	if strings.HasPrefix(mediaType, "image/") {
		return "image"
	}
	return "file"
}

// MarkDelivered records that userID received the message.
func (e *Engine) MarkDelivered(ctx context.Context, messageID, userID string) error {
	return e.addReceipt(ctx, messageID, userID, repositories.ReceiptDelivered)
}

// MarkSeen records that userID viewed the message. It does not imply
// delivery.
func (e *Engine) MarkSeen(ctx context.Context, messageID, userID string) error {
	return e.addReceipt(ctx, messageID, userID, repositories.ReceiptSeen)
}

func (e *Engine) addReceipt(ctx context.Context, messageID, userID, kind string) error {
	ctx, span := e.tracer.Start(ctx, "chat.receipt")
	defer span.End()
	span.SetAttributes(attribute.String("message_id", messageID), attribute.String("kind", kind))

	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return StoreError("load message", err)
	}
	if msg.Sender == userID {
		return nil
	}
	if err := e.checkRecipient(ctx, msg, userID); err != nil {
		return err
	}

	added, err := e.messages.AddReceipt(ctx, messageID, userID, kind)
	if err != nil {
		span.RecordError(err)
		return StoreError("add receipt", err)
	}
	if !added {
		return nil
	}

	event := models.EventDelivered
	if kind == repositories.ReceiptSeen {
		event = models.EventSeen
	}
	e.publisher.Publish(event, models.ReceiptPayload{MessageID: messageID, UserID: userID}, models.UserChannel(msg.Sender))
	observability.IncReceipt(kind)
	return nil
}

// checkRecipient allows the direct recipient or a current group member.
func (e *Engine) checkRecipient(ctx context.Context, msg models.Message, userID string) error {
	if msg.IsDirect() {
		if msg.Recipient != userID {
			return fmt.Errorf("receipt on %s: %w", msg.ID, ErrNotAuthorized)
		}
		return nil
	}
	member, err := e.groups.IsMember(ctx, msg.Group, userID)
	if err != nil {
		return StoreError("check membership", err)
	}
	if !member {
		return fmt.Errorf("receipt on %s: %w", msg.ID, ErrNotAuthorized)
	}
	return nil
}

// EditMessage replaces the content of the requester's own message.
func (e *Engine) EditMessage(ctx context.Context, messageID, requesterID, content string) (models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "chat.edit_message")
	defer span.End()
	span.SetAttributes(attribute.String("message_id", messageID))

	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, StoreError("load message", err)
	}
	if msg.Sender != requesterID {
		return models.Message{}, fmt.Errorf("edit %s: %w", messageID, ErrNotAuthorized)
	}
	if strings.TrimSpace(content) == "" && msg.FileAttachment == nil {
		return models.Message{}, ErrEmptyMessage
	}

	unlock := e.locks.Lock(destinationKey(msg))
	defer unlock()

	updated, err := e.messages.UpdateContent(ctx, messageID, content, e.now())
	if err != nil {
		return models.Message{}, StoreError("update message", err)
	}
	e.publisher.Publish(models.EventEdited, updated, destinationChannels(updated)...)
	observability.Emit(ctx, observability.RoutingMessageEvents, "message_events", "message_edited", map[string]any{
		"message_id": updated.ID,
		"sender_id":  updated.Sender,
	}, nil)
	return updated, nil
}

// DeleteMessage removes the requester's own message and notifies the
// destination channels.
func (e *Engine) DeleteMessage(ctx context.Context, messageID, requesterID string) (models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "chat.delete_message")
	defer span.End()
	span.SetAttributes(attribute.String("message_id", messageID))

	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, StoreError("load message", err)
	}
	if msg.Sender != requesterID {
		return models.Message{}, fmt.Errorf("delete %s: %w", messageID, ErrNotAuthorized)
	}

	unlock := e.locks.Lock(destinationKey(msg))
	defer unlock()

	if err := e.messages.DeleteMessage(ctx, messageID); err != nil {
		return models.Message{}, StoreError("delete message", err)
	}
	e.publisher.Publish(models.EventDeleted, models.DeletedPayload{MessageID: messageID}, destinationChannels(msg)...)
	observability.Emit(ctx, observability.RoutingMessageEvents, "message_events", "message_deleted", map[string]any{
		"message_id": msg.ID,
		"sender_id":  msg.Sender,
	}, nil)
	return msg, nil
}

// ForwardMessage sends a copy of a message the sender can see to a new
// destination. The original is left untouched.
func (e *Engine) ForwardMessage(ctx context.Context, messageID, senderID string, dest Destination) (models.Message, error) {
	original, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, StoreError("load message", err)
	}
	if err := e.checkVisible(ctx, original, senderID); err != nil {
		return models.Message{}, err
	}

	var att *models.FileAttachment
	if original.FileAttachment != nil {
		copied := *original.FileAttachment
		att = &copied
	}
	return e.SendMessage(ctx, senderID, SendInput{
		Content:        original.Content,
		Recipient:      dest.Recipient,
		Group:          dest.Group,
		FileAttachment: att,
		Forwarded:      true,
	})
}

func (e *Engine) checkVisible(ctx context.Context, msg models.Message, userID string) error {
	if msg.Sender == userID {
		return nil
	}
	return e.checkRecipient(ctx, msg, userID)
}

// History returns the conversation between requesterID and a peer user,
// or a group's messages when the requester is a member.
func (e *Engine) History(ctx context.Context, requesterID string, peerType models.PeerType, peerID string) ([]models.Message, error) {
	ctx, span := e.tracer.Start(ctx, "chat.history")
	defer span.End()
	span.SetAttributes(attribute.String("peer_type", string(peerType)), attribute.String("peer_id", peerID))

	switch peerType {
	case models.PeerUser:
		if _, err := e.users.GetUser(ctx, peerID); err != nil {
			return nil, StoreError("load peer", err)
		}
		msgs, err := e.messages.ListDirectMessages(ctx, requesterID, peerID)
		if err != nil {
			return nil, StoreError("list direct messages", err)
		}
		return msgs, nil
	case models.PeerGroup:
		if err := e.AuthorizeGroupJoin(ctx, peerID, requesterID); err != nil {
			return nil, err
		}
		msgs, err := e.messages.ListGroupMessages(ctx, peerID)
		if err != nil {
			return nil, StoreError("list group messages", err)
		}
		return msgs, nil
	default:
		return nil, ErrInvalidDestination
	}
}

// AuthorizeGroupJoin succeeds when userID is a member of an existing group.
func (e *Engine) AuthorizeGroupJoin(ctx context.Context, groupID, userID string) error {
	group, err := e.groups.GetGroup(ctx, groupID)
	if err != nil {
		return StoreError("load group", err)
	}
	if !group.HasMember(userID) {
		return fmt.Errorf("group %s: %w", groupID, ErrNotAuthorized)
	}
	return nil
}

// GroupIDsFor lists the groups a connection should subscribe to on connect.
func (e *Engine) GroupIDsFor(ctx context.Context, userID string) ([]string, error) {
	groups, err := e.groups.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, StoreError("list groups", err)
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// destinationChannels lists the channels a message is pushed to. A direct
// message also reaches the sender's other devices.
func destinationChannels(msg models.Message) []string {
	if !msg.IsDirect() {
		return []string{models.GroupChannel(msg.Group)}
	}
	if msg.Sender == msg.Recipient {
		return []string{models.UserChannel(msg.Sender)}
	}
	return []string{models.UserChannel(msg.Sender), models.UserChannel(msg.Recipient)}
}

func destinationKey(msg models.Message) string {
	if !msg.IsDirect() {
		return "g:" + msg.Group
	}
	a, b := msg.Sender, msg.Recipient
	if b < a {
		a, b = b, a
	}
	return "d:" + a + ":" + b
}
