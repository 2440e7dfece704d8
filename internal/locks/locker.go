package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/waplink/internal/config"
	"go.uber.org/fx"
)

// Locker serializes reconciliation of one session across processes.
// The in-process singleflight already coalesces local callers; this
// guards against concurrent replicas.
type Locker interface {
	// Acquire returns a release func, or false when someone else holds
	// the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool)
}

const keyPrefix = "waplink:sync:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false
	}
	return func() {
		releaseScript.Run(context.Background(), l.client, []string{key}, token)
	}, true
}

// noopLocker is used when redis is not configured; single-process
// deployments rely on singleflight alone.
type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (func(), bool) {
	return func() {}, true
}

func NewLocker(cfg config.Config) Locker {
	if cfg.RedisAddr == "" {
		return noopLocker{}
	}
	return NewRedisLocker(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
}

var Module = fx.Module("locks",
	fx.Provide(NewLocker),
)
