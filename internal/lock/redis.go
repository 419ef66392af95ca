package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisManager backs locks with SET NX PX so exclusivity holds across
// processes. The lease is the key TTL: a crashed holder frees its slot
// when the TTL lapses. Release deletes the key only when the stored token
// still matches, so an expired lock cannot release a successor's.
type RedisManager struct {
	rdb    *redis.Client
	prefix string
	retry  time.Duration
}

var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisManager(rdb *redis.Client, prefix string) *RedisManager {
	if prefix == "" {
		prefix = "lock"
	}
	return &RedisManager{rdb: rdb, prefix: prefix, retry: 100 * time.Millisecond}
}

func (m *RedisManager) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lock, error) {
	token := uuid.NewString()
	redisKey := m.prefix + ":" + key
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.rdb.SetNX(ctx, redisKey, token, lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisLock{rdb: m.rdb, key: redisKey, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retry):
		}
	}
}

type redisLock struct {
	rdb   *redis.Client
	key   string
	token string
}

func (l *redisLock) Release(ctx context.Context) error {
	// Result 0 means the lease already expired; that is not an error here.
	return redisReleaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
