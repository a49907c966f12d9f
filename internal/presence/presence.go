package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records which users currently hold a live session. Directory
// listings consult it to annotate entries with is_online.
type Tracker interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	// Refresh re-asserts an existing session's presence without altering
	// session counts. Sessions call it periodically so TTL-based state
	// outlives the TTL.
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// RedisTracker stores presence as TTL keys so state survives across service
// instances and expires on its own when a session dies without cleanup.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker constructs a RedisTracker.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

func (t *RedisTracker) MarkOnline(ctx context.Context, userID string) error {
	return t.client.Set(ctx, presenceKey(userID), "1", t.ttl).Err()
}

func (t *RedisTracker) MarkOffline(ctx context.Context, userID string) error {
	return t.client.Del(ctx, presenceKey(userID)).Err()
}

// Refresh rewrites the key so a session longer than the TTL stays online even
// if the key already expired.
func (t *RedisTracker) Refresh(ctx context.Context, userID string) error {
	return t.client.Set(ctx, presenceKey(userID), "1", t.ttl).Err()
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.client.Exists(ctx, presenceKey(userID)).Result()
	return n > 0, err
}

func (t *RedisTracker) OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	pipe := t.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(userIDs))
	for _, id := range userIDs {
		cmds[id] = pipe.Exists(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for id, cmd := range cmds {
		result[id] = cmd.Val() > 0
	}
	return result, nil
}

// LocalTracker is the in-memory fallback when Redis is not configured. It
// refcounts sessions so a user with two tabs stays online until both close.
type LocalTracker struct {
	mu       sync.RWMutex
	sessions map[string]int
}

// NewLocalTracker constructs a LocalTracker.
func NewLocalTracker() *LocalTracker {
	return &LocalTracker{sessions: make(map[string]int)}
}

func (t *LocalTracker) MarkOnline(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[userID]++
	return nil
}

func (t *LocalTracker) MarkOffline(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[userID] > 1 {
		t.sessions[userID]--
	} else {
		delete(t.sessions, userID)
	}
	return nil
}

// Refresh is a no-op: local state has no TTL and session counts are owned by
// MarkOnline/MarkOffline.
func (t *LocalTracker) Refresh(ctx context.Context, userID string) error {
	return nil
}

func (t *LocalTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[userID] > 0, nil
}

func (t *LocalTracker) OnlineSet(ctx context.Context, userIDs []string) (map[string]bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		result[id] = t.sessions[id] > 0
	}
	return result, nil
}
