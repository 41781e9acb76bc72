package middleware

import (
	"context"

	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
)

type contextKey string

const (
	ctxActor contextKey = "actor"
)

// ActorFromContext returns the authenticated caller. ok is false on routes
// that do not run Auth.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	if ctx == nil {
		return types.Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(types.Actor)
	if !ok || actor.IsSystem() {
		return types.Actor{}, false
	}
	return actor, true
}

// UserIDFromContext returns the caller id as a string, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return actor.UserID.String()
}

// WithActor injects the caller into the context.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

// RequireActor is ActorFromContext for handlers: a missing actor is an
// unauthorized error.
func RequireActor(ctx context.Context) (types.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor, nil
}
