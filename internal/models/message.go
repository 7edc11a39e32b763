package models

import (
	"time"

	"github.com/samber/lo"
)

// PeerType selects the kind of conversation a message belongs to.
type PeerType string

const (
	PeerUser  PeerType = "user"
	PeerGroup PeerType = "group"
)

// FileAttachment is an opaque descriptor produced by the upload service.
type FileAttachment struct {
	URL      string `json:"url" validate:"required"`
	Name     string `json:"name" validate:"required,max=255"`
	Mimetype string `json:"mimetype" validate:"required"`
	Size     int64  `json:"size" validate:"gte=0"`
}

// Message is a direct or group chat message. Exactly one of Recipient and
// Group is set. DeliveredTo and SeenBy only ever grow.
type Message struct {
	ID             string          `json:"id"`
	Sender         string          `json:"sender"`
	Recipient      string          `json:"recipient,omitempty"`
	Group          string          `json:"group,omitempty"`
	Content        string          `json:"content"`
	FileAttachment *FileAttachment `json:"fileAttachment,omitempty"`
	Forwarded      bool            `json:"forwarded"`
	CreatedAt      time.Time       `json:"createdAt"`
	EditedAt       *time.Time      `json:"editedAt,omitempty"`
	DeliveredTo    []string        `json:"deliveredTo"`
	SeenBy         []string        `json:"seenBy"`
}

// Destination returns the peer type and id the message is addressed to.
func (m Message) Destination() (PeerType, string) {
	if m.Group != "" {
		return PeerGroup, m.Group
	}
	return PeerUser, m.Recipient
}

// IsDirect reports whether the message is a 1:1 message.
func (m Message) IsDirect() bool {
	return m.Group == "" && m.Recipient != ""
}

// DeliveredToUser reports whether userID acknowledged delivery.
func (m Message) DeliveredToUser(userID string) bool {
	return lo.Contains(m.DeliveredTo, userID)
}

// SeenByUser reports whether userID acknowledged reading the message.
func (m Message) SeenByUser(userID string) bool {
	return lo.Contains(m.SeenBy, userID)
}

// BelongsTo reports whether the message is part of the conversation that
// self has with the given peer.
func (m Message) BelongsTo(self string, peerType PeerType, peerID string) bool {
	switch peerType {
	case PeerGroup:
		return m.Group == peerID
	case PeerUser:
		if m.Group != "" {
			return false
		}
		return (m.Sender == self && m.Recipient == peerID) || (m.Sender == peerID && m.Recipient == self)
	}
	return false
}

// ExpandedMessage renders sender and recipient as identity references
// instead of bare ids.
type ExpandedMessage struct {
	Message
	Sender    IdentityRef  `json:"sender"`
	Recipient *IdentityRef `json:"recipient,omitempty"`
}

// Expand resolves the message's user ids through users. Unknown ids keep
// an empty username.
func (m Message) Expand(users map[string]User) ExpandedMessage {
	ref := func(id string) IdentityRef {
		if u, ok := users[id]; ok {
			return u.Ref()
		}
		return IdentityRef{ID: id}
	}
	out := ExpandedMessage{Message: m, Sender: ref(m.Sender)}
	if m.Recipient != "" {
		r := ref(m.Recipient)
		out.Recipient = &r
	}
	return out
}
