// Package presence provides a redis-backed implementation of the chat
// core's active-viewing tracker, for deployments where more than one process
// serves websocket traffic and viewing state must be shared.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sharathr123/restochat/internal/chat"
)

// Entries self-expire so a crashed process cannot leave a user permanently
// "viewing" a conversation; reconnecting clients re-enter and refresh.
const viewTTL = 24 * time.Hour

// RedisViews satisfies chat.ViewTracker using Redis. State keeps the same
// non-persistence contract as the in-memory tracker: losing it only costs
// some unread-suppression until clients re-enter their conversations.
type RedisViews struct {
	client *redis.Client
}

// NewRedisViews connects to the Redis instance at the given URL and verifies
// connectivity before returning.
func NewRedisViews(ctx context.Context, url string) (*RedisViews, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("presence: ping redis: %w", err)
	}
	return &RedisViews{client: c}, nil
}

var _ chat.ViewTracker = (*RedisViews)(nil)

func viewKey(userID string) string {
	return "viewing:" + userID
}

// Leave must only clear the entry when it still points at the conversation
// being left, atomically, so the compare-and-delete runs server-side.
var leaveScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Enter records the conversation the user has open.
func (v *RedisViews) Enter(ctx context.Context, userID, chatID string) error {
	return v.client.Set(ctx, viewKey(userID), chatID, viewTTL).Err()
}

// Leave clears the entry only if it still points at chatID.
func (v *RedisViews) Leave(ctx context.Context, userID, chatID string) error {
	return leaveScript.Run(ctx, v.client, []string{viewKey(userID)}, chatID).Err()
}

// Clear drops the user's entry unconditionally.
func (v *RedisViews) Clear(ctx context.Context, userID string) error {
	return v.client.Del(ctx, viewKey(userID)).Err()
}

// Viewing reports whether the user currently has the conversation open.
func (v *RedisViews) Viewing(ctx context.Context, userID, chatID string) (bool, error) {
	current, err := v.client.Get(ctx, viewKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current == chatID, nil
}

// Close releases the underlying client.
func (v *RedisViews) Close() error {
	return v.client.Close()
}
