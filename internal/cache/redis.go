package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisValuePrefix = "lmt:cache:v:"
	redisTagPrefix   = "lmt:cache:t:"
	redisGenPrefix   = "lmt:cache:g:"
)

// tagMember adds a value key to a tag set and only ever extends the set's lifetime.
// A member without TTL makes the set persistent.
var tagMember = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
	redis.call('PERSIST', KEYS[1])
	return 1
end
local current = redis.call('PTTL', KEYS[1])
if existed == 0 or (current >= 0 and current < ttl) then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// RedisStore shares projections between API replicas. Tags are Redis sets of value keys.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore parses a redis:// URL and returns a store backed by it.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, redisValuePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set implements Store. Tag sets live at least as long as the longest member.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, key, value, ttl, normalizeTags(tags))
		return nil
	})
	return err
}

// Fence implements Fencer.
func (s *RedisStore) Fence(ctx context.Context, tags []string) (string, error) {
	return s.generationOf(ctx, s.client, normalizeTags(tags))
}

// SetFenced implements Fencer. The write is dropped when Invalidate advanced a tag after fence was taken.
func (s *RedisStore) SetFenced(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string, fence string) error {
	tags = normalizeTags(tags)
	genKeys := make([]string, len(tags))
	for i, tag := range tags {
		genKeys[i] = redisGenPrefix + tag
	}
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.generationOf(ctx, tx, tags)
		if err != nil {
			return err
		}
		if current != fence {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, key, value, ttl, tags)
			return nil
		})
		return err
	}, genKeys...)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, key string, value []byte, ttl time.Duration, tags []string) {
	pipe.Set(ctx, redisValuePrefix+key, value, ttl)
	for _, tag := range tags {
		tagMember.Eval(ctx, pipe, []string{redisTagPrefix + tag}, key, ttl.Milliseconds())
	}
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *RedisStore) generationOf(ctx context.Context, c multiGetter, tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = redisGenPrefix + tag
	}
	raw, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return "", err
	}
	gens := make([]uint64, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if gens[i], err = strconv.ParseUint(str, 10, 64); err != nil {
			return "", err
		}
	}
	return joinGenerations(gens), nil
}

// Invalidate implements Store.
func (s *RedisStore) Invalidate(ctx context.Context, tags ...string) error {
	for _, tag := range normalizeTags(tags) {
		if err := s.client.Incr(ctx, redisGenPrefix+tag).Err(); err != nil {
			return err
		}
		tagKey := redisTagPrefix + tag
		members, err := s.client.SMembers(ctx, tagKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		keys := make([]string, 0, len(members)+1)
		for _, member := range members {
			keys = append(keys, redisValuePrefix+member)
		}
		keys = append(keys, tagKey)
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
