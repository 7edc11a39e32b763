package repositories_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/db"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var (
	_ repositories.UserRepository    = (*repositories.UserRepo)(nil)
	_ repositories.GroupRepository   = (*repositories.GroupRepo)(nil)
	_ repositories.MessageRepository = (*repositories.MessageRepo)(nil)
)

// openTestDB connects to the database named by DB_DSN and skips the test
// when none is configured or reachable.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	database, err := db.Connect(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func createTestUsers(t *testing.T, database *sqlx.DB, names ...string) []models.User {
	t.Helper()
	users := repositories.NewUserRepo(database)
	created := make([]models.User, 0, len(names))
	ids := make([]string, 0, len(names))
	for _, name := range names {
		u, err := users.CreateUser(context.Background(), name+"-"+repositories.NewID())
		require.NoError(t, err)
		created = append(created, u)
		ids = append(ids, u.ID)
	}
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM users WHERE id = ANY($1)`, pq.Array(ids))
	})
	return created
}

func TestPostgresReceiptsAreIdempotent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	people := createTestUsers(t, database, "alice", "bob")
	alice, bob := people[0], people[1]
	messages := repositories.NewMessageRepo(database)

	msg, err := messages.CreateMessage(ctx, models.Message{Sender: alice.ID, Recipient: bob.ID, Content: "hi"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = messages.DeleteMessage(context.Background(), msg.ID) })

	added, err := messages.AddReceipt(ctx, msg.ID, bob.ID, repositories.ReceiptDelivered)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = messages.AddReceipt(ctx, msg.ID, bob.ID, repositories.ReceiptDelivered)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = messages.AddReceipt(ctx, msg.ID, bob.ID, repositories.ReceiptSeen)
	require.NoError(t, err)
	assert.True(t, added)

	stored, err := messages.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.ID}, stored.DeliveredTo)
	assert.Equal(t, []string{bob.ID}, stored.SeenBy)

	_, err = messages.AddReceipt(ctx, repositories.NewID(), bob.ID, repositories.ReceiptSeen)
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestPostgresPresenceAndReset(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	people := createTestUsers(t, database, "carol")
	users := repositories.NewUserRepo(database)

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, users.SetUserPresence(ctx, people[0].ID, true, seen))
	require.ErrorIs(t, users.SetUserPresence(ctx, repositories.NewID(), true, seen), repositories.ErrUserNotFound)

	require.NoError(t, users.ResetPresence(ctx))

	got, err := users.GetUser(ctx, people[0].ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
	assert.True(t, seen.Equal(got.LastSeen))
}

func TestPostgresGroupMembership(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	people := createTestUsers(t, database, "dave", "erin")
	dave, erin := people[0], people[1]
	groups := repositories.NewGroupRepo(database)

	group, err := groups.CreateGroup(ctx, dave.ID, "team-"+repositories.NewID(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = groups.DeleteGroup(context.Background(), group.ID) })
	assert.Equal(t, []string{dave.ID}, group.Members)

	_, err = groups.CreateGroup(ctx, erin.ID, group.Name, nil)
	require.ErrorIs(t, err, repositories.ErrGroupNameTaken)

	require.NoError(t, groups.AddMembers(ctx, group.ID, []string{erin.ID, erin.ID}))
	member, err := groups.IsMember(ctx, group.ID, erin.ID)
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, groups.RemoveMember(ctx, group.ID, erin.ID))
	members, err := groups.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dave.ID}, members)

	_, err = groups.GetGroup(ctx, repositories.NewID())
	require.ErrorIs(t, err, repositories.ErrGroupNotFound)
}
