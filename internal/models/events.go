package models

import (
	"encoding/json"
	"time"
)

// Client to server event names.
const (
	EventJoinUser   = "joinUser"
	EventJoinGroup  = "joinGroup"
	EventSend       = "sendMessage"
	EventUserOnline = "userOnline"
)

// Server to client event names. EventDelivered and EventSeen are used in
// both directions.
const (
	EventReceive      = "receiveMessage"
	EventDelivered    = "messageDelivered"
	EventSeen         = "messageSeen"
	EventStatusChange = "userStatusChange"
	EventEdited       = "messageEdited"
	EventDeleted      = "messageDeleted"
	EventError        = "error"
)

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendPayload is the body of a sendMessage event.
type SendPayload struct {
	Content        string          `json:"content" validate:"max=10000"`
	Sender         string          `json:"sender,omitempty"`
	Recipient      string          `json:"recipient,omitempty"`
	Group          string          `json:"group,omitempty"`
	FileAttachment *FileAttachment `json:"fileAttachment,omitempty" validate:"-"`
	Forwarded      bool            `json:"forwarded,omitempty"`
	ClientRef      string          `json:"clientRef,omitempty" validate:"max=64"`
}

// ReceiptPayload acknowledges delivery or reading of a message.
type ReceiptPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
}

// PushedMessage is the receiveMessage payload. ClientRef echoes the
// optimistic entry the sender created, when there was one.
type PushedMessage struct {
	Message
	ClientRef string `json:"clientRef,omitempty"`
}

// StatusChange is broadcast to every client on presence transitions.
type StatusChange struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// DeletedPayload notifies that a message was removed.
type DeletedPayload struct {
	MessageID string `json:"messageId"`
}

// ErrorPayload reports a rejected event to the originating connection only.
type ErrorPayload struct {
	Event     string `json:"event"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"clientRef,omitempty"`
}

// NewEnvelope encodes data as the payload of event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// UserChannel is the channel a user's own connections subscribe to.
func UserChannel(userID string) string {
	return "user:" + userID
}

// GroupChannel is the channel a group's live members subscribe to.
func GroupChannel(groupID string) string {
	return "group:" + groupID
}
