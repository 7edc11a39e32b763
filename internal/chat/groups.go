package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

// Membership keeps live channel subscriptions in step with group changes.
type Membership interface {
	JoinGroupChannelForUser(groupID, userID string)
	LeaveGroupChannel(groupID, userID string)
	DropGroupChannel(groupID string)
}

// GroupService manages group lifecycle and membership.
type GroupService struct {
	groups     repositories.GroupRepository
	users      repositories.UserRepository
	membership Membership
	logger     *zap.Logger
}

func NewGroupService(groups repositories.GroupRepository, users repositories.UserRepository, membership Membership, logger *zap.Logger) *GroupService {
	return &GroupService{groups: groups, users: users, membership: membership, logger: logger}
}

// Create stores a group owned by creatorID. Every member must exist.
func (s *GroupService) Create(ctx context.Context, creatorID, name string, memberIDs []string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	memberIDs = lo.Without(lo.Uniq(memberIDs), creatorID)
	if err := s.ensureUsers(ctx, memberIDs); err != nil {
		return models.Group{}, err
	}
	group, err := s.groups.CreateGroup(ctx, creatorID, name, memberIDs)
	if err != nil {
		return models.Group{}, StoreError("create group", err)
	}
	for _, member := range group.Members {
		s.membership.JoinGroupChannelForUser(group.ID, member)
	}
	s.logger.Info("group created", zap.String("group_id", group.ID), zap.String("creator_id", creatorID), zap.Int("members", len(group.Members)))
	return group, nil
}

// ListForUser returns the groups userID belongs to.
func (s *GroupService) ListForUser(ctx context.Context, userID string) ([]models.Group, error) {
	groups, err := s.groups.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, StoreError("list groups", err)
	}
	return groups, nil
}

// Members returns the group's members. The requester must be one of them.
func (s *GroupService) Members(ctx context.Context, groupID, requesterID string) ([]models.User, error) {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(requesterID) {
		return nil, fmt.Errorf("members of %s: %w", groupID, ErrNotAuthorized)
	}
	users, err := s.users.GetUsers(ctx, group.Members)
	if err != nil {
		return nil, StoreError("load members", err)
	}
	return users, nil
}

// AddMembers adds users to the group. Only the creator may add members.
func (s *GroupService) AddMembers(ctx context.Context, groupID, requesterID string, userIDs []string) (models.Group, error) {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	if group.CreatorID != requesterID {
		return models.Group{}, fmt.Errorf("add members to %s: %w", groupID, ErrNotAuthorized)
	}
	userIDs = lo.Uniq(userIDs)
	if err := s.ensureUsers(ctx, userIDs); err != nil {
		return models.Group{}, err
	}
	if err := s.groups.AddMembers(ctx, groupID, userIDs); err != nil {
		return models.Group{}, StoreError("add members", err)
	}
	for _, userID := range userIDs {
		s.membership.JoinGroupChannelForUser(groupID, userID)
	}
	return s.load(ctx, groupID)
}

// RemoveMember removes userID from the group. The creator may remove
// anyone but themselves; any member may remove themselves.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, requesterID, userID string) error {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if requesterID != group.CreatorID && requesterID != userID {
		return fmt.Errorf("remove member from %s: %w", groupID, ErrNotAuthorized)
	}
	if userID == group.CreatorID {
		return ErrCreatorMembership
	}
	if !group.HasMember(userID) {
		return fmt.Errorf("member %s of %s: %w", userID, groupID, ErrNotFound)
	}
	if err := s.groups.RemoveMember(ctx, groupID, userID); err != nil {
		return StoreError("remove member", err)
	}
	s.membership.LeaveGroupChannel(groupID, userID)
	s.logger.Info("group member removed", zap.String("group_id", groupID), zap.String("user_id", userID), zap.String("by", requesterID))
	return nil
}

// Rename changes the group name. Creator only.
func (s *GroupService) Rename(ctx context.Context, groupID, requesterID, name string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	group, err := s.load(ctx, groupID)
	if err != nil {
		return models.Group{}, err
	}
	if group.CreatorID != requesterID {
		return models.Group{}, fmt.Errorf("rename %s: %w", groupID, ErrNotAuthorized)
	}
	renamed, err := s.groups.RenameGroup(ctx, groupID, name)
	if err != nil {
		return models.Group{}, StoreError("rename group", err)
	}
	return renamed, nil
}

// Delete removes the group and unsubscribes every live connection from it.
// Creator only.
func (s *GroupService) Delete(ctx context.Context, groupID, requesterID string) error {
	group, err := s.load(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != requesterID {
		return fmt.Errorf("delete %s: %w", groupID, ErrNotAuthorized)
	}
	if err := s.groups.DeleteGroup(ctx, groupID); err != nil {
		return StoreError("delete group", err)
	}
	s.membership.DropGroupChannel(groupID)
	s.logger.Info("group deleted", zap.String("group_id", groupID), zap.String("creator_id", requesterID))
	return nil
}

func (s *GroupService) load(ctx context.Context, groupID string) (models.Group, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, StoreError("load group", err)
	}
	return group, nil
}

func (s *GroupService) ensureUsers(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	users, err := s.users.GetUsers(ctx, userIDs)
	if err != nil {
		return StoreError("load users", err)
	}
	found := lo.Map(users, func(u models.User, _ int) string { return u.ID })
	if missing, _ := lo.Difference(userIDs, found); len(missing) > 0 {
		return fmt.Errorf("users %v: %w: %w", missing, ErrNotFound, repositories.ErrUserNotFound)
	}
	return nil
}
