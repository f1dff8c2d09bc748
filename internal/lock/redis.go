package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseIfOwnerScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendIfOwnerScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLocker is a KeyedLocker shared by every process pointing at the same Redis.
// While held, the key's TTL is renewed every third of the TTL, so a long
// transaction keeps the lock; a holder that dies keeps the key until the TTL expires.
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	retry     time.Duration
	keyPrefix string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		retry:     50 * time.Millisecond,
		keyPrefix: "billing:lock:",
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, redisKey, ctx.Err())
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(redisKey, token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed

			// release must outlive a cancelled request context
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseIfOwnerScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		})
	}, nil
}

func (l *RedisLocker) renewInterval() time.Duration {
	interval := l.ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// renew extends the lease until stop is closed or ownership is lost.
func (l *RedisLocker) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.renewInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renewInterval())
			n, err := extendIfOwnerScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				// the lease already expired and may belong to someone else
				return
			}
		}
	}
}
