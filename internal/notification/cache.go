package notification

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	unreadKeyPrefix           = "notifications:unread:"
	unreadGenerationKeyPrefix = "notifications:unread-gen:"
	generationTTL             = 24 * time.Hour
)

// setIfGeneration writes the counter only when no invalidation happened since
// the caller read the generation. A missing generation key counts as "0".
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if (gen or "0") ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// UnreadCache keeps short-lived unread counters in redis. A nil cache is a
// valid no-op cache.
//
// Writers bump a per-user generation on every invalidation, and a counter
// computed from the database is stored only if the generation it was read
// under is still current.
type UnreadCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUnreadCache(client *redis.Client, ttl time.Duration) *UnreadCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &UnreadCache{client: client, ttl: ttl}
}

func unreadKey(userID string) string {
	return unreadKeyPrefix + userID
}

func unreadGenerationKey(userID string) string {
	return unreadGenerationKeyPrefix + userID
}

// Get returns the cached count and whether it was present.
func (c *UnreadCache) Get(ctx context.Context, userID string) (int, bool, error) {
	if c == nil {
		return 0, false, nil
	}
	n, err := c.client.Get(ctx, unreadKey(userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Generation returns the current invalidation generation of userID.
func (c *UnreadCache) Generation(ctx context.Context, userID string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, unreadGenerationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetIfGeneration stores count unless userID was invalidated after gen was
// read. It reports whether the value was written.
func (c *UnreadCache) SetIfGeneration(ctx context.Context, userID string, gen int64, count int) (bool, error) {
	if c == nil {
		return false, nil
	}
	keys := []string{unreadKey(userID), unreadGenerationKey(userID)}
	stored, err := setIfGeneration.Run(ctx, c.client, keys,
		strconv.FormatInt(gen, 10), count, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Invalidate drops the counter and bumps the generation in one transaction.
func (c *UnreadCache) Invalidate(ctx context.Context, userID string) error {
	if c == nil {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, unreadGenerationKey(userID))
		pipe.Expire(ctx, unreadGenerationKey(userID), generationTTL)
		pipe.Del(ctx, unreadKey(userID))
		return nil
	})
	return err
}
