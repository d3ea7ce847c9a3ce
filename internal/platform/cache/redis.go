package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const defaultTimeout = 5 * time.Second

// Options configures the client behind the alias cache and the sync lock.
type Options struct {
	Addr    string
	Timeout time.Duration
}

// New connects to redis and pings it. Callers choose whether a failure is fatal.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: redis address required", shared.ErrValidation)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, shared.Infra("platform/cache: ping", err)
	}
	return client, nil
}
