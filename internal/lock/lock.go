// Package lock implements the drain lease: a redis key that at most one
// drainer instance holds while it processes a batch.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKey namespaces the email queue lease.
	DefaultKey = "lmsmail:email-queue:drain"

	// DefaultTTL bounds how long a crashed holder blocks other drainers.
	// It covers a default batch of 10 sends at the 30s send timeout.
	DefaultTTL = 10 * time.Minute
)

var ErrNotAcquired = errors.New("queue drain already in progress")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release gives the lease back.
type Release func(ctx context.Context) error

type Locker struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

// NewClient parses a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func New(rdb redis.Cmdable, key string, ttl time.Duration) *Locker {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{rdb: rdb, key: key, ttl: ttl}
}

// Acquire takes the lease with SET NX PX. It returns ErrNotAcquired when
// another holder has it.
func (l *Locker) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}, nil
}
