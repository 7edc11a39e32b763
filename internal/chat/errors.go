package chat

import (
	"errors"
	"fmt"

	"chat-realtime/internal/repositories"
)

var (
	ErrInvalidDestination = errors.New("message must have exactly one of recipient or group")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotFound           = errors.New("not found")
	ErrPersistence        = errors.New("persistence failure")
	ErrEmptyMessage       = errors.New("message has neither content nor attachment")
	ErrInvalidAttachment  = errors.New("invalid file attachment")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrCreatorMembership  = errors.New("group creator must remain a member")
)

// Code returns the wire name of err's category.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDestination):
		return "InvalidDestination"
	case errors.Is(err, ErrNotAuthorized):
		return "NotAuthorized"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrEmptyMessage):
		return "EmptyMessage"
	case errors.Is(err, ErrInvalidAttachment):
		return "InvalidAttachment"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrCreatorMembership):
		return "CreatorMembership"
	case errors.Is(err, ErrPersistence):
		return "PersistenceFailure"
	default:
		return "InternalError"
	}
}

// StoreError classifies a repository error as NotFound, Conflict or
// PersistenceFailure.
func StoreError(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrGroupNotFound),
		errors.Is(err, repositories.ErrUserNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case errors.Is(err, repositories.ErrGroupNameTaken),
		errors.Is(err, repositories.ErrUsernameTaken):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
	}
}
