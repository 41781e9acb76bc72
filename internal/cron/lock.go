package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/evtrade-backend/pkg/instance"
)

const (
	minLease     = 30 * time.Second
	defaultLease = 23 * time.Hour
)

// Lock keeps a schedule to one worker replica per cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock is a lease on one schedule key. The lease is shorter than the
// schedule interval so a crashed holder never costs more than one cycle.
type RedisLock struct {
	store leaseStore
	key   string
	lease time.Duration
	token string
}

// NewRedisLock builds a lease for a schedule that ticks every interval.
func NewRedisLock(store leaseStore, key string, interval time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	return &RedisLock{store: store, key: key, lease: leaseFor(interval)}, nil
}

func leaseFor(interval time.Duration) time.Duration {
	if interval <= 0 {
		return defaultLease
	}
	lease := interval - interval/10
	if lease < minLease {
		return minLease
	}
	return lease
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := instance.GetID() + ":" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.lease)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lease if this lock still holds it; an expired lease that
// another replica has since taken is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	held, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		l.token = ""
		return nil
	case err != nil:
		return fmt.Errorf("read lease %s: %w", l.key, err)
	case held != l.token:
		l.token = ""
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("drop lease %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
