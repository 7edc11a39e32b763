package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrGroupNameTaken  = errors.New("group name already taken")
	ErrUsernameTaken   = errors.New("username already taken")
)

// Receipt kinds stored per message and user.
const (
	ReceiptDelivered = "delivered"
	ReceiptSeen      = "seen"
)

// UserRepository abstracts user persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, username string) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
	// ResetPresence marks every user offline. Called at startup, before any
	// connection is accepted.
	ResetPresence(ctx context.Context) error
}

// GroupRepository abstracts group persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, creatorID string, name string, memberIDs []string) (models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, groupID string, userID string) (bool, error)
	AddMembers(ctx context.Context, groupID string, userIDs []string) error
	RemoveMember(ctx context.Context, groupID string, userID string) error
	RenameGroup(ctx context.Context, groupID string, name string) (models.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
}

// MessageRepository abstracts message persistence. Receipt additions are
// idempotent and report whether the user was newly added.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	UpdateContent(ctx context.Context, messageID string, content string, editedAt time.Time) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ListGroupMessages(ctx context.Context, groupID string) ([]models.Message, error)
	ListDirectMessages(ctx context.Context, userA string, userB string) ([]models.Message, error)
	AddReceipt(ctx context.Context, messageID string, userID string, kind string) (bool, error)
}

// NewID returns a time-ordered identifier for stored entities.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
