package cache

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
return 0`)

// Locker hands out short lived exclusive leases on redis keys.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs a Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// TryAcquire attempts to take key for ttl. It returns a nil lease when the key is held elsewhere.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return &Lease{key: key}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release frees the lock if it is still owned by this lease.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.client == nil || le.token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err()
	le.token = ""
	if err != nil && err != redis.Nil {
		return fmt.Errorf("platform/cache: release %s: %w", le.key, err)
	}
	return nil
}
