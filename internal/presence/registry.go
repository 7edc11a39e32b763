// Package presence tracks which users have live connections.
package presence

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Store persists presence transitions on the user record.
type Store interface {
	SetUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

// Broadcaster delivers presence changes to every connected client.
type Broadcaster interface {
	BroadcastAll(event string, data any)
}

// Mirror publishes presence to an external cache. Optional.
type Mirror interface {
	SetOnline(ctx context.Context, userID string, lastSeen time.Time) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

type entry struct {
	mu    sync.Mutex
	conns map[string]struct{}
	size  atomic.Int32
	refs  int
}

// Registry maps user ids to their active connection handles. A user is
// online while at least one handle is registered.
//
// Transitions for one user are serialized by that user's entry lock, which
// is held across the persist and the broadcast; users never block each other.
type Registry struct {
	mu          sync.Mutex
	entries     map[string]*entry
	online      int
	store       Store
	broadcaster Broadcaster
	mirror      Mirror
	logger      *zap.Logger
	now         func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry(store Store, broadcaster Broadcaster, logger *zap.Logger) *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithMirror sets the optional external presence mirror.
func (r *Registry) WithMirror(mirror Mirror) *Registry {
	r.mirror = mirror
	return r
}

// Register adds connID to userID's active set. It reports whether this
// connection brought the user online.
func (r *Registry) Register(ctx context.Context, userID, connID string) bool {
	e := r.acquire(userID)
	defer r.release(userID, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[connID]; ok {
		return false
	}
	e.conns[connID] = struct{}{}
	e.size.Store(int32(len(e.conns)))
	if len(e.conns) != 1 {
		return false
	}

	r.adjustOnline(1)
	r.transition(ctx, userID, true)
	return true
}

// Unregister removes connID from userID's active set. Unknown handles are
// ignored. It reports whether this connection took the user offline.
func (r *Registry) Unregister(ctx context.Context, userID, connID string) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.refs++
	r.mu.Unlock()
	defer r.release(userID, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)
	e.size.Store(int32(len(e.conns)))
	if len(e.conns) != 0 {
		return false
	}

	r.adjustOnline(-1)
	r.transition(ctx, userID, false)
	return true
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	return len(r.Connections(userID)) > 0
}

// Connections returns the user's registered connection handles.
func (r *Registry) Connections(userID string) []string {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.refs++
	r.mu.Unlock()
	defer r.release(userID, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	conns := make([]string, 0, len(e.conns))
	for id := range e.conns {
		conns = append(conns, id)
	}
	sort.Strings(conns)
	return conns
}

// OnlineUsers returns the ids of users with at least one live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.size.Load() > 0 {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// OnlineCount returns the number of online users.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

func (r *Registry) transition(ctx context.Context, userID string, online bool) {
	lastSeen := r.now()
	observability.IncPresenceTransition(online)

	if err := r.store.SetUserPresence(ctx, userID, online, lastSeen); err != nil {
		observability.IncPresencePersistError()
		r.logger.Error("persist presence failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
	if r.mirror != nil {
		var err error
		if online {
			err = r.mirror.SetOnline(ctx, userID, lastSeen)
		} else {
			err = r.mirror.SetOffline(ctx, userID, lastSeen)
		}
		if err != nil {
			r.logger.Warn("presence mirror update failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	r.broadcaster.BroadcastAll(models.EventStatusChange, models.StatusChange{
		UserID:   userID,
		IsOnline: online,
		LastSeen: lastSeen,
	})
	observability.Emit(ctx, observability.RoutingPresenceEvents, "presence_events", "user_status_change", map[string]any{
		"user_id":   userID,
		"is_online": online,
		"last_seen": lastSeen,
	}, nil)
	r.logger.Debug("presence changed", zap.String("user_id", userID), zap.Bool("online", online))
}

func (r *Registry) adjustOnline(delta int) {
	r.mu.Lock()
	r.online += delta
	n := r.online
	r.mu.Unlock()
	observability.SetOnlineUsers(n)
}

func (r *Registry) acquire(userID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		r.entries[userID] = e
	}
	e.refs++
	return e
}

// release drops the caller's reference and removes the entry once nobody
// holds it and it has no connections.
func (r *Registry) release(userID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.size.Load() == 0 && r.entries[userID] == e {
		delete(r.entries, userID)
	}
}
