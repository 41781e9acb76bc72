package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/evtrade-backend/pkg/redis"
)

// Guard remembers which outbox events a sink has already accepted. The
// publisher marks an event after the sink acknowledges it and checks the mark
// before publishing, so a row whose published_at update rolled back is not
// delivered twice. Keys follow `evt:idempotency:evt:published:<sink>:<event_id>`.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewGuard builds a guard whose marks expire after ttl.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// AlreadyPublished reports whether sink has acknowledged eventID.
func (g *Guard) AlreadyPublished(ctx context.Context, sink string, eventID uuid.UUID) (bool, error) {
	key, err := g.publishedKey(sink, eventID)
	if err != nil {
		return false, err
	}
	if _, err := g.store.Get(ctx, key); err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkPublished records the acknowledgement. It returns false when the mark
// already existed.
func (g *Guard) MarkPublished(ctx context.Context, sink string, eventID uuid.UUID) (bool, error) {
	key, err := g.publishedKey(sink, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, "1", g.ttl)
}

// Forget drops the mark so the event is delivered again.
func (g *Guard) Forget(ctx context.Context, sink string, eventID uuid.UUID) error {
	key, err := g.publishedKey(sink, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) publishedKey(sink string, eventID uuid.UUID) (string, error) {
	if sink == "" {
		return "", errors.New("sink name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:published:%s", sink)
	return g.store.IdempotencyKey(scope, eventID.String()), nil
}
