package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var (
	_ repositories.UserRepository    = (*Store)(nil)
	_ repositories.GroupRepository   = (*Store)(nil)
	_ repositories.MessageRepository = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUsersAndPresence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	bob, err := store.CreateUser(ctx, "bob")
	require.NoError(t, err)
	alice, err := store.CreateUser(ctx, "alice")
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "bob")
	require.ErrorIs(t, err, repositories.ErrUsernameTaken)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)

	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.SetUserPresence(ctx, bob.ID, true, seen))
	got, err := store.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.True(t, seen.Equal(got.LastSeen))

	require.ErrorIs(t, store.SetUserPresence(ctx, "missing", true, seen), repositories.ErrUserNotFound)
	_, err = store.GetUser(ctx, "missing")
	require.ErrorIs(t, err, repositories.ErrUserNotFound)

	some, err := store.GetUsers(ctx, []string{alice.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, alice.ID, some[0].ID)
}

func TestResetPresenceMarksEveryoneOffline(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	alice, err := store.CreateUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, "bob")
	require.NoError(t, err)
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetUserPresence(ctx, alice.ID, true, seen))
	require.NoError(t, store.SetUserPresence(ctx, bob.ID, true, seen))

	require.NoError(t, store.ResetPresence(ctx))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.False(t, u.IsOnline, u.Username)
		assert.True(t, seen.Equal(u.LastSeen), u.Username)
	}

	_, err = store.CreateUser(ctx, "carol")
	require.NoError(t, err)
	require.NoError(t, store.ResetPresence(ctx))
	users, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	group, err := store.CreateGroup(ctx, "u1", "team", []string{"u2", "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, group.Members)

	_, err = store.CreateGroup(ctx, "u3", "team", nil)
	require.ErrorIs(t, err, repositories.ErrGroupNameTaken)

	require.NoError(t, store.AddMembers(ctx, group.ID, []string{"u3", "u2"}))
	members, err := store.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, members)

	ok, err := store.IsMember(ctx, group.ID, "u3")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.RemoveMember(ctx, group.ID, "u3"))
	ok, err = store.IsMember(ctx, group.ID, "u3")
	require.NoError(t, err)
	assert.False(t, ok)

	groups, err := store.ListGroupsForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].Name)

	other, err := store.CreateGroup(ctx, "u9", "other", nil)
	require.NoError(t, err)
	_, err = store.RenameGroup(ctx, group.ID, "other")
	require.ErrorIs(t, err, repositories.ErrGroupNameTaken)
	renamed, err := store.RenameGroup(ctx, group.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Name)

	require.NoError(t, store.DeleteGroup(ctx, other.ID))
	_, err = store.GetGroup(ctx, other.ID)
	require.ErrorIs(t, err, repositories.ErrGroupNotFound)
	require.ErrorIs(t, store.DeleteGroup(ctx, other.ID), repositories.ErrGroupNotFound)
	require.ErrorIs(t, store.AddMembers(ctx, other.ID, []string{"u1"}), repositories.ErrGroupNotFound)
}

func TestMessageHistoryAndAttachmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	attachment := &models.FileAttachment{URL: "x", Name: "f.png", Mimetype: "image/png", Size: 100}
	first, err := store.CreateMessage(ctx, models.Message{Sender: "a", Recipient: "b", Content: "hi", FileAttachment: attachment})
	require.NoError(t, err)
	second, err := store.CreateMessage(ctx, models.Message{Sender: "b", Recipient: "a", Content: "hey"})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.Message{Sender: "a", Recipient: "c", Content: "other chat"})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.Message{Sender: "a", Group: "g1", Content: "group"})
	require.NoError(t, err)

	history, err := store.ListDirectMessages(ctx, "b", "a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
	assert.Equal(t, *attachment, *history[0].FileAttachment)
	assert.Empty(t, history[0].DeliveredTo)
	assert.Empty(t, history[0].SeenBy)

	groupHistory, err := store.ListGroupMessages(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, groupHistory, 1)
	assert.Equal(t, "group", groupHistory[0].Content)
}

func TestReceiptsAreIdempotentAndIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	msg, err := store.CreateMessage(ctx, models.Message{Sender: "a", Group: "g1", Content: "hello"})
	require.NoError(t, err)

	added, err := store.AddReceipt(ctx, msg.ID, "b", repositories.ReceiptDelivered)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.AddReceipt(ctx, msg.ID, "b", repositories.ReceiptDelivered)
	require.NoError(t, err)
	assert.False(t, added)
	added, err = store.AddReceipt(ctx, msg.ID, "c", repositories.ReceiptSeen)
	require.NoError(t, err)
	assert.True(t, added)

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.DeliveredTo)
	assert.Equal(t, []string{"c"}, got.SeenBy)

	_, err = store.AddReceipt(ctx, "missing", "b", repositories.ReceiptSeen)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	msg, err := store.CreateMessage(ctx, models.Message{Sender: "a", Recipient: "b", Content: "typo"})
	require.NoError(t, err)

	edited, err := store.UpdateContent(ctx, msg.ID, "fixed", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	require.NotNil(t, edited.EditedAt)

	require.NoError(t, store.DeleteMessage(ctx, msg.ID))
	_, err = store.GetMessage(ctx, msg.ID)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
	require.ErrorIs(t, store.DeleteMessage(ctx, msg.ID), repositories.ErrMessageNotFound)

	history, err := store.ListDirectMessages(ctx, "a", "b")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = store.UpdateContent(ctx, msg.ID, "again", time.Now())
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
}
