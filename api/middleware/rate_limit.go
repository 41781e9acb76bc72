package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/evtrade-backend/api/responses"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
)

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy throttles one traffic surface (payment initiation, gateway
// callbacks) with fixed windows keyed by client address and by caller.
type RateLimitPolicy struct {
	name      string
	window    time.Duration
	ipLimit   int
	userLimit int
}

// NewRateLimitPolicy builds a policy. A zero limit disables that counter.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, userLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, userLimit: userLimit}
}

type windowCounter struct {
	kind    string
	subject string
	limit   int
}

func (c windowCounter) scope(policy string) string {
	return c.kind + ":" + policy + ":" + c.subject
}

// counters lists the windows a request is charged against. The user counter
// only exists behind Auth.
func (p RateLimitPolicy) counters(r *http.Request) []windowCounter {
	var out []windowCounter
	if p.ipLimit > 0 {
		if ip := ClientIP(r); ip != "" {
			out = append(out, windowCounter{kind: "ip", subject: ip, limit: p.ipLimit})
		}
	}
	if p.userLimit > 0 {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			out = append(out, windowCounter{kind: "user", subject: userID, limit: p.userLimit})
		}
	}
	return out
}

// RateLimit rejects with 429 once any counter for the request exceeds its
// limit inside the window.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || policy.window <= 0 || (policy.ipLimit <= 0 && policy.userLimit <= 0) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, counter := range policy.counters(r) {
				allowed, hits, err := store.FixedWindowAllow(ctx, counter.scope(policy.name), int64(counter.limit), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if allowed {
					continue
				}
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":   policy.name,
						"scope":    counter.kind,
						"subject":  counter.subject,
						"attempts": hits,
						"limit":    counter.limit,
					}), "rate_limit.blocked")
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Seconds())))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the caller address: the first X-Forwarded-For hop, then
// X-Real-IP, then the socket peer.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
