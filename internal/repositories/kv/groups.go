package kv

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

func groupKey(id string) string       { return "group:" + id }
func groupNameKey(name string) string { return "groupname:" + name }
func memberKey(userID, groupID string) string {
	return "member:" + userID + ":" + groupID
}

// CreateGroup creates a group; the creator is always a member.
func (s *Store) CreateGroup(ctx context.Context, creatorID string, name string, memberIDs []string) (models.Group, error) {
	group := models.Group{
		ID:        repositories.NewID(),
		Name:      name,
		CreatorID: creatorID,
		Members:   lo.Uniq(append([]string{creatorID}, memberIDs...)),
		CreatedAt: time.Now().UTC(),
	}
	err := s.update(func(txn *badger.Txn) error {
		taken, err := exists(txn, groupNameKey(name))
		if err != nil {
			return err
		}
		if taken {
			return repositories.ErrGroupNameTaken
		}
		if err := txn.Set([]byte(groupNameKey(name)), []byte(group.ID)); err != nil {
			return err
		}
		for _, id := range group.Members {
			if err := txn.Set([]byte(memberKey(id, group.ID)), nil); err != nil {
				return err
			}
		}
		return setJSON(txn, groupKey(group.ID), group)
	})
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// GetGroup fetches a single group with its members.
func (s *Store) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, groupKey(groupID), &group)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	return group, err
}

// ListGroupsForUser returns groups that include the user, newest first.
func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	groups := []models.Group{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, groupID := range keysWithPrefix(txn, "member:"+userID+":") {
			var group models.Group
			err := getJSON(txn, groupKey(groupID), &group)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			groups = append(groups, group)
		}
		return nil
	})
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].CreatedAt.After(groups[j].CreatedAt) })
	return groups, err
}

// GetGroupMembers returns the member ids of a group.
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return group.Members, nil
}

// IsMember checks membership.
func (s *Store) IsMember(ctx context.Context, groupID string, userID string) (bool, error) {
	var member bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		member, err = exists(txn, memberKey(userID, groupID))
		return err
	})
	return member, err
}

// AddMembers adds users to a group, ignoring those already present.
func (s *Store) AddMembers(ctx context.Context, groupID string, userIDs []string) error {
	return s.mutateGroup(groupID, func(txn *badger.Txn, group *models.Group) error {
		for _, id := range userIDs {
			if group.HasMember(id) {
				continue
			}
			group.Members = append(group.Members, id)
			if err := txn.Set([]byte(memberKey(id, groupID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveMember removes a user from a group. Removing a non-member is a no-op.
func (s *Store) RemoveMember(ctx context.Context, groupID string, userID string) error {
	return s.mutateGroup(groupID, func(txn *badger.Txn, group *models.Group) error {
		group.Members = lo.Without(group.Members, userID)
		return txn.Delete([]byte(memberKey(userID, groupID)))
	})
}

// RenameGroup changes the group's name, keeping names unique.
func (s *Store) RenameGroup(ctx context.Context, groupID string, name string) (models.Group, error) {
	var renamed models.Group
	err := s.mutateGroup(groupID, func(txn *badger.Txn, group *models.Group) error {
		if group.Name != name {
			taken, err := exists(txn, groupNameKey(name))
			if err != nil {
				return err
			}
			if taken {
				return repositories.ErrGroupNameTaken
			}
			if err := txn.Delete([]byte(groupNameKey(group.Name))); err != nil {
				return err
			}
			if err := txn.Set([]byte(groupNameKey(name)), []byte(groupID)); err != nil {
				return err
			}
			group.Name = name
		}
		renamed = *group
		return nil
	})
	return renamed, err
}

// DeleteGroup removes a group and its memberships. Messages keep their
// group reference.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	err := s.update(func(txn *badger.Txn) error {
		var group models.Group
		if err := getJSON(txn, groupKey(groupID), &group); err != nil {
			return err
		}
		for _, id := range group.Members {
			if err := txn.Delete([]byte(memberKey(id, groupID))); err != nil {
				return err
			}
		}
		if err := txn.Delete([]byte(groupNameKey(group.Name))); err != nil {
			return err
		}
		return txn.Delete([]byte(groupKey(groupID)))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return repositories.ErrGroupNotFound
	}
	return err
}

func (s *Store) mutateGroup(groupID string, fn func(txn *badger.Txn, group *models.Group) error) error {
	err := s.update(func(txn *badger.Txn) error {
		var group models.Group
		if err := getJSON(txn, groupKey(groupID), &group); err != nil {
			return err
		}
		if err := fn(txn, &group); err != nil {
			return err
		}
		return setJSON(txn, groupKey(groupID), group)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return repositories.ErrGroupNotFound
	}
	return err
}
