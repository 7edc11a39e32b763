package kv

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

func userKey(id string) string       { return "user:" + id }
func usernameKey(name string) string { return "username:" + name }

// CreateUser inserts a user with a unique username.
func (s *Store) CreateUser(ctx context.Context, username string) (models.User, error) {
	user := models.User{ID: repositories.NewID(), Username: username, LastSeen: time.Now().UTC()}
	err := s.update(func(txn *badger.Txn) error {
		taken, err := exists(txn, usernameKey(username))
		if err != nil {
			return err
		}
		if taken {
			return repositories.ErrUsernameTaken
		}
		if err := txn.Set([]byte(usernameKey(username)), []byte(user.ID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(user.ID), user)
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.User{}, repositories.ErrUserNotFound
	}
	return user, err
}

// GetUsers fetches the users with the given ids; unknown ids are skipped.
func (s *Store) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	users := []models.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range userIDs {
			var user models.User
			err := getJSON(txn, userKey(id), &user)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	sortUsers(users)
	return users, err
}

// ListUsers returns every user ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, name := range keysWithPrefix(txn, "username:") {
			id, err := getString(txn, usernameKey(name))
			if err != nil {
				return err
			}
			var user models.User
			if err := getJSON(txn, userKey(id), &user); err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	sortUsers(users)
	return users, err
}

// SetUserPresence writes the online flag and last seen time together.
func (s *Store) SetUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	err := s.update(func(txn *badger.Txn) error {
		var user models.User
		if err := getJSON(txn, userKey(userID), &user); err != nil {
			return err
		}
		user.IsOnline = online
		user.LastSeen = lastSeen.UTC()
		return setJSON(txn, userKey(userID), user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return repositories.ErrUserNotFound
	}
	return err
}

// ResetPresence marks every user offline, keeping their last seen time.
func (s *Store) ResetPresence(ctx context.Context) error {
	return s.update(func(txn *badger.Txn) error {
		for _, id := range keysWithPrefix(txn, "user:") {
			var user models.User
			if err := getJSON(txn, userKey(id), &user); err != nil {
				return err
			}
			if !user.IsOnline {
				continue
			}
			user.IsOnline = false
			if err := setJSON(txn, userKey(id), user); err != nil {
				return err
			}
		}
		return nil
	})
}

func sortUsers(users []models.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
}
