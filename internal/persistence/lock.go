package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderLock is a best-effort Redis lock used to elect one sweeper per tick.
type LeaderLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	token  string
}

// NewLeaderLock builds a lock on key. Each instance gets its own token.
func NewLeaderLock(client redis.UniversalClient, key string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

// TryAcquire atomically takes the lock with SET NX PX.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire leader lock: %w", err)
	}
	return acquired, nil
}

// Release drops the lock if this instance still owns it.
func (l *LeaderLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release leader lock: %w", err)
	}
	return nil
}
