package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "user-directory-service/internal/domain/user"
)

// KeyPrefix namespaces user entries in Redis.
const KeyPrefix = "user:"

const generationPrefix = KeyPrefix + "gen:"

// UserCache defines the interface for user caching operations.
//
// Every Delete bumps a per-user generation. A reader takes the generation
// before loading from the database and passes it to Set, which refuses to
// store the row once the generation has moved on.
type UserCache interface {
	// Get returns nil without error on a miss.
	Get(ctx context.Context, id int64) (*domain.User, error)
	Generation(ctx context.Context, id int64) (int64, error)
	// Set reports false when the entry was invalidated after generation was read.
	Set(ctx context.Context, user *domain.User, generation int64) (bool, error)
	Delete(ctx context.Context, ids ...int64) error
}

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[2].
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// invalidateEntries takes KEYS as (entry, generation) pairs.
var invalidateEntries = redis.NewScript(`
local ttl = tonumber(ARGV[1])
for i = 1, #KEYS, 2 do
	redis.call('DEL', KEYS[i])
	redis.call('INCR', KEYS[i + 1])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[i + 1], ARGV[1])
	end
end
return 1
`)

// entry is the JSON shape stored under each key.
type entry struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Version int64  `json:"version"`
}

// RedisUserCache implements UserCache on top of Redis strings.
type RedisUserCache struct {
	client redis.Cmdable
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisUserCache creates a new Redis-backed user cache.
func NewRedisUserCache(client redis.Cmdable, ttl time.Duration, log *zap.Logger) *RedisUserCache {
	return &RedisUserCache{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// Key returns the Redis key holding user id.
func Key(id int64) string {
	return KeyPrefix + strconv.FormatInt(id, 10)
}

// GenerationKey returns the Redis key counting invalidations of user id.
func GenerationKey(id int64) string {
	return generationPrefix + strconv.FormatInt(id, 10)
}

// Get retrieves a user from Redis.
func (c *RedisUserCache) Get(ctx context.Context, id int64) (*domain.User, error) {
	data, err := c.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.Debug("cache miss", zap.Int64("user_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d from cache: %w", id, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cached user %d: %w", id, err)
	}

	c.log.Debug("cache hit", zap.Int64("user_id", id))
	return &domain.User{ID: e.ID, Name: e.Name, Email: e.Email, Version: e.Version}, nil
}

// Generation returns the invalidation counter of user id, zero if never invalidated.
func (c *RedisUserCache) Generation(ctx context.Context, id int64) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cache generation of user %d: %w", id, err)
	}
	return gen, nil
}

// Set stores a user with the configured TTL unless the user was
// invalidated since generation was read.
func (c *RedisUserCache) Set(ctx context.Context, user *domain.User, generation int64) (bool, error) {
	if user == nil {
		return false, errors.New("cannot cache nil user")
	}

	data, err := json.Marshal(entry{ID: user.ID, Name: user.Name, Email: user.Email, Version: user.Version})
	if err != nil {
		return false, fmt.Errorf("encode user %d: %w", user.ID, err)
	}

	stored, err := setIfGeneration.Run(ctx, c.client,
		[]string{Key(user.ID), GenerationKey(user.ID)},
		data,
		generation,
		c.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("set user %d in cache: %w", user.ID, err)
	}
	if stored == 0 {
		c.log.Debug("skipped caching invalidated user", zap.Int64("user_id", user.ID), zap.Int64("generation", generation))
		return false, nil
	}

	c.log.Debug("cached user", zap.Int64("user_id", user.ID), zap.Duration("ttl", c.ttl))
	return true, nil
}

// Delete removes the given users from Redis and bumps their generations.
func (c *RedisUserCache) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, Key(id), GenerationKey(id))
	}

	if err := invalidateEntries.Run(ctx, c.client, keys, c.generationTTL().Milliseconds()).Err(); err != nil {
		return fmt.Errorf("delete %d users from cache: %w", len(ids), err)
	}

	c.log.Debug("invalidated cache", zap.Int64s("user_ids", ids))
	return nil
}

// generationTTL keeps counters around well past any entry they guard.
func (c *RedisUserCache) generationTTL() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	return 2 * c.ttl
}
