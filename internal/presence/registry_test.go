package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
)

type presenceWrite struct {
	userID string
	online bool
}

type fakeStore struct {
	mu     sync.Mutex
	writes []presenceWrite
	err    error
}

func (s *fakeStore) SetUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, presenceWrite{userID: userID, online: online})
	return s.err
}

func (s *fakeStore) snapshot() []presenceWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presenceWrite{}, s.writes...)
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	changes []models.StatusChange
}

func (b *fakeBroadcaster) BroadcastAll(event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event == models.EventStatusChange {
		b.changes = append(b.changes, data.(models.StatusChange))
	}
}

func (b *fakeBroadcaster) snapshot() []models.StatusChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.StatusChange{}, b.changes...)
}

func newTestRegistry() (*Registry, *fakeStore, *fakeBroadcaster) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	return NewRegistry(store, broadcaster, zap.NewNop()), store, broadcaster
}

func TestFirstConnectionBringsUserOnline(t *testing.T) {
	ctx := context.Background()
	reg, store, broadcaster := newTestRegistry()

	assert.True(t, reg.Register(ctx, "u1", "c1"))
	assert.False(t, reg.Register(ctx, "u1", "c2"))
	assert.False(t, reg.Register(ctx, "u1", "c2"))

	assert.True(t, reg.IsOnline("u1"))
	assert.Equal(t, []string{"c1", "c2"}, reg.Connections("u1"))
	assert.Equal(t, 1, reg.OnlineCount())
	assert.Equal(t, []presenceWrite{{"u1", true}}, store.snapshot())

	changes := broadcaster.snapshot()
	require.Len(t, changes, 1)
	assert.Equal(t, "u1", changes[0].UserID)
	assert.True(t, changes[0].IsOnline)
}

func TestLastConnectionTakesUserOffline(t *testing.T) {
	ctx := context.Background()
	reg, store, broadcaster := newTestRegistry()

	reg.Register(ctx, "u1", "c1")
	reg.Register(ctx, "u1", "c2")

	assert.False(t, reg.Unregister(ctx, "u1", "c1"))
	assert.True(t, reg.IsOnline("u1"))
	assert.True(t, reg.Unregister(ctx, "u1", "c2"))
	assert.False(t, reg.IsOnline("u1"))
	assert.Equal(t, 0, reg.OnlineCount())

	assert.Equal(t, []presenceWrite{{"u1", true}, {"u1", false}}, store.snapshot())
	changes := broadcaster.snapshot()
	require.Len(t, changes, 2)
	assert.False(t, changes[1].IsOnline)
	assert.Empty(t, reg.entries)
}

func TestUnregisterUnknownHandleIsNoop(t *testing.T) {
	ctx := context.Background()
	reg, store, broadcaster := newTestRegistry()

	assert.False(t, reg.Unregister(ctx, "ghost", "c1"))
	reg.Register(ctx, "u1", "c1")
	assert.False(t, reg.Unregister(ctx, "u1", "unknown"))

	assert.True(t, reg.IsOnline("u1"))
	assert.Len(t, store.snapshot(), 1)
	assert.Len(t, broadcaster.snapshot(), 1)
}

func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	ctx := context.Background()
	reg, store, broadcaster := newTestRegistry()
	store.err = assert.AnError

	assert.True(t, reg.Register(ctx, "u1", "c1"))
	assert.True(t, reg.IsOnline("u1"))
	assert.Len(t, broadcaster.snapshot(), 1)
}

func TestConcurrentDevicesNeverFlapOffline(t *testing.T) {
	ctx := context.Background()
	reg, _, broadcaster := newTestRegistry()

	// c0 stays connected for the whole test.
	require.True(t, reg.Register(ctx, "u1", "c0"))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			reg.Register(ctx, "u1", connID)
			reg.Unregister(ctx, "u1", connID)
		}(i)
	}
	wg.Wait()

	changes := broadcaster.snapshot()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].IsOnline)
	assert.Equal(t, []string{"c0"}, reg.Connections("u1"))
}

func TestTransitionsAlternateUnderContention(t *testing.T) {
	ctx := context.Background()
	reg, store, broadcaster := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			reg.Register(ctx, "u1", connID)
			reg.Unregister(ctx, "u1", connID)
		}(i)
	}
	wg.Wait()

	assert.False(t, reg.IsOnline("u1"))
	changes := broadcaster.snapshot()
	require.NotEmpty(t, changes)
	for i, change := range changes {
		assert.Equal(t, i%2 == 0, change.IsOnline, "transition %d out of order", i)
	}
	writes := store.snapshot()
	assert.Equal(t, len(changes), len(writes))
	assert.False(t, writes[len(writes)-1].online)
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []presenceWrite
	err   error
}

func (m *fakeMirror) SetOnline(ctx context.Context, userID string, lastSeen time.Time) error {
	return m.record(userID, true)
}

func (m *fakeMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return m.record(userID, false)
}

func (m *fakeMirror) record(userID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, presenceWrite{userID: userID, online: online})
	return m.err
}

func TestMirrorFollowsTransitionsOnly(t *testing.T) {
	ctx := context.Background()
	reg, _, broadcaster := newTestRegistry()
	mirror := &fakeMirror{}
	reg.WithMirror(mirror)

	reg.Register(ctx, "u1", "c1")
	reg.Register(ctx, "u1", "c2")
	reg.Unregister(ctx, "u1", "c1")
	reg.Unregister(ctx, "u1", "c2")

	assert.Equal(t, []presenceWrite{{"u1", true}, {"u1", false}}, mirror.calls)
	assert.Len(t, broadcaster.snapshot(), 2)
}

func TestMirrorFailureDoesNotBlockBroadcast(t *testing.T) {
	reg, _, broadcaster := newTestRegistry()
	reg.WithMirror(&fakeMirror{err: fmt.Errorf("redis down")})

	require.True(t, reg.Register(context.Background(), "u1", "c1"))
	assert.Len(t, broadcaster.snapshot(), 1)
}

func TestOnlineUsersSorted(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()

	reg.Register(ctx, "zed", "c1")
	reg.Register(ctx, "amy", "c2")
	reg.Register(ctx, "amy", "c3")

	assert.Equal(t, []string{"amy", "zed"}, reg.OnlineUsers())
	assert.ElementsMatch(t, []string{"c2", "c3"}, reg.Connections("amy"))

	reg.Unregister(ctx, "zed", "c1")
	assert.Equal(t, []string{"amy"}, reg.OnlineUsers())
}
