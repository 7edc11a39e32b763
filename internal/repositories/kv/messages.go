package kv

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

func messageKey(id string) string { return "msg:" + id }

func groupConvPrefix(groupID string) string { return "conv:g:" + groupID + ":" }

func directConvPrefix(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return "conv:d:" + userA + ":" + userB + ":"
}

func convIndexKey(msg models.Message) string {
	if msg.Group != "" {
		return groupConvPrefix(msg.Group) + msg.ID
	}
	return directConvPrefix(msg.Sender, msg.Recipient) + msg.ID
}

// CreateMessage stores a new message and returns it with its assigned id
// and timestamp.
func (s *Store) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.ID = repositories.NewID()
	msg.CreatedAt = time.Now().UTC()
	msg.DeliveredTo = []string{}
	msg.SeenBy = []string{}

	err := s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, messageKey(msg.ID), msg); err != nil {
			return err
		}
		return txn.Set([]byte(convIndexKey(msg)), nil)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message with its receipts.
func (s *Store) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(messageID), &msg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, err
}

// UpdateContent replaces the text of a message. Attachments are immutable.
func (s *Store) UpdateContent(ctx context.Context, messageID string, content string, editedAt time.Time) (models.Message, error) {
	var updated models.Message
	err := s.mutateMessage(messageID, func(msg *models.Message) bool {
		msg.Content = content
		msg.EditedAt = lo.ToPtr(editedAt.UTC())
		updated = *msg
		return true
	})
	return updated, err
}

// DeleteMessage hard-deletes a message and its history index entry.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	err := s.update(func(txn *badger.Txn) error {
		var msg models.Message
		if err := getJSON(txn, messageKey(messageID), &msg); err != nil {
			return err
		}
		if err := txn.Delete([]byte(convIndexKey(msg))); err != nil {
			return err
		}
		return txn.Delete([]byte(messageKey(messageID)))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return repositories.ErrMessageNotFound
	}
	return err
}

// ListGroupMessages returns a group's messages ordered by creation.
func (s *Store) ListGroupMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	return s.listByPrefix(groupConvPrefix(groupID))
}

// ListDirectMessages returns the messages exchanged between two users in
// either direction, ordered by creation.
func (s *Store) ListDirectMessages(ctx context.Context, userA string, userB string) ([]models.Message, error) {
	return s.listByPrefix(directConvPrefix(userA, userB))
}

// AddReceipt records that userID has the given receipt for a message.
// Repeated calls are no-ops and report false.
func (s *Store) AddReceipt(ctx context.Context, messageID string, userID string, kind string) (bool, error) {
	var added bool
	err := s.mutateMessage(messageID, func(msg *models.Message) bool {
		set := &msg.DeliveredTo
		if kind == repositories.ReceiptSeen {
			set = &msg.SeenBy
		}
		added = !lo.Contains(*set, userID)
		if added {
			*set = append(*set, userID)
		}
		return added
	})
	return added, err
}

func (s *Store) listByPrefix(prefix string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range keysWithPrefix(txn, prefix) {
			var msg models.Message
			if err := getJSON(txn, messageKey(id), &msg); err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

// mutateMessage applies fn inside a transaction and writes the message back
// when fn reports a change.
func (s *Store) mutateMessage(messageID string, fn func(msg *models.Message) bool) error {
	err := s.update(func(txn *badger.Txn) error {
		var msg models.Message
		if err := getJSON(txn, messageKey(messageID), &msg); err != nil {
			return err
		}
		if !fn(&msg) {
			return nil
		}
		return setJSON(txn, messageKey(messageID), msg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return repositories.ErrMessageNotFound
	}
	return err
}
