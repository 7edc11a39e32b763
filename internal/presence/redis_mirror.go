package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey      = "presence:online"
	lastSeenKeyPrefix = "presence:last_seen:"
	lastSeenTTL       = 30 * 24 * time.Hour
)

// RedisMirror copies presence into Redis so sibling services can read it
// without going through the chat database.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, onlineSetKey, userID)
		pipe.Set(ctx, lastSeenKeyPrefix+userID, lastSeen.Format(time.RFC3339Nano), lastSeenTTL)
		return nil
	})
	return err
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, onlineSetKey, userID)
		pipe.Set(ctx, lastSeenKeyPrefix+userID, lastSeen.Format(time.RFC3339Nano), lastSeenTTL)
		return nil
	})
	return err
}

// Reset clears the online set. Called on startup, since this process owns
// every connection.
func (m *RedisMirror) Reset(ctx context.Context) error {
	return m.client.Del(ctx, onlineSetKey).Err()
}
