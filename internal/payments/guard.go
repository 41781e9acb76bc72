package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CallbackKey(txnCode string) string
}

// CallbackGuard keeps two deliveries of one callback from being applied at
// the same time. The transaction status stays the durable guard.
type CallbackGuard struct {
	store replayStore
	ttl   time.Duration
}

func NewCallbackGuard(store replayStore, ttl time.Duration) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("callback guard store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &CallbackGuard{store: store, ttl: ttl}, nil
}

// Acquire reports whether the caller holds the callback for txnCode.
func (g *CallbackGuard) Acquire(ctx context.Context, txnCode string) (bool, error) {
	if txnCode == "" {
		return false, errors.New("transaction code is required")
	}
	set, err := g.store.SetNX(ctx, g.store.CallbackKey(txnCode), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set callback guard: %w", err)
	}
	return set, nil
}

// Release lets a later delivery retry after a failed application.
func (g *CallbackGuard) Release(ctx context.Context, txnCode string) error {
	if txnCode == "" {
		return errors.New("transaction code is required")
	}
	return g.store.Del(ctx, g.store.CallbackKey(txnCode))
}
