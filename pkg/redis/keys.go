package redis

import "strings"

const keyNamespace = "evt"

// key families; every key is evt:<family>:<parts...>
const (
	familyIdempotency = "idempotency"
	familyRateLimit   = "rate_limit"
	familyLock        = "lock"
	familyCallback    = "gateway_callback"
)

func buildKey(family string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(family)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

// IdempotencyKey is where a replayable HTTP response or a consumed outbox
// event id is remembered.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(familyIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(familyRateLimit, scope)
}

// LockKey names a cron lease.
func (c *Client) LockKey(name string) string {
	return buildKey(familyLock, name)
}

// CallbackKey guards one gateway transaction code against concurrent IPN
// and return-URL processing.
func (c *Client) CallbackKey(txnCode string) string {
	return buildKey(familyCallback, txnCode)
}
