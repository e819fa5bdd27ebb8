package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Limiter counts requests per (clientKey, route) in rolling fixed windows.
// A store outage fails closed: the request is treated as limited, so an
// outage never becomes an open door for abuse.
type Limiter struct {
	store  Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(store Store, policy Policy, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, policy: policy, logger: logger, now: time.Now}
}

// windowGrace keeps idle window keys alive slightly past their window so
// in-flight checks never race reclamation.
const windowGrace = 10 * time.Second

// Check consumes one slot from the route budget of the client and reports
// the verdict. Limited verdicts carry the duration until the window resets.
func (l *Limiter) Check(ctx context.Context, clientKey, route string) Verdict {
	rl := l.policy.RouteLimit(route)
	now := l.now()
	windowStart := now.Truncate(rl.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", route, clientKey, windowStart.Unix())

	count, err := l.store.IncrWindow(ctx, key, rl.Window+windowGrace)
	if err != nil {
		l.logger.Error("rate limit store unavailable, failing closed",
			slog.String("route", route),
			slog.String("client", clientKey),
			slog.Any("error", err))
		return Verdict{Allowed: false, RetryAfter: rl.Window}
	}
	if count > int64(rl.Limit) {
		return Verdict{Allowed: false, RetryAfter: windowStart.Add(rl.Window).Sub(now)}
	}
	return Verdict{Allowed: true}
}
