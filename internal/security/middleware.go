package security

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pulseboard/pulseboard/internal/platform/httpx"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// DecisionObserver counts request-pipeline outcomes per route.
type DecisionObserver interface {
	ObserveSecurityDecision(route, outcome string)
}

// Guard is the per-route request gate. Order matters: the ban check runs
// before the rate limiter, so a banned address is rejected without ever
// consuming a slot from the route budget.
type Guard struct {
	limiter *Limiter
	bans    *BanList
	obs     DecisionObserver
	logger  *slog.Logger
}

// NewGuard constructs a Guard. obs may be nil.
func NewGuard(limiter *Limiter, bans *BanList, obs DecisionObserver, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{limiter: limiter, bans: bans, obs: obs, logger: logger}
}

// Protect returns middleware enforcing the ban list and the rate limit for
// one logical route.
func (g *Guard) Protect(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := shared.ClientIP(r)

			if entry, banned := g.bans.IsBanned(r.Context(), ip); banned {
				g.observe(route, "banned")
				retryAfter(w, entry.TTLRemaining(time.Now()))
				httpx.Problem(w, http.StatusForbidden, "Forbidden",
					"address is temporarily banned")
				return
			}

			verdict := g.limiter.Check(r.Context(), ip, route)
			if !verdict.Allowed {
				if ban, err := g.bans.RecordViolation(r.Context(), ip); err != nil {
					g.logger.Error("record violation failed",
						slog.String("ip", ip), slog.Any("error", err))
				} else if ban != nil {
					g.observe(route, "banned")
					retryAfter(w, ban.TTLRemaining(time.Now()))
					httpx.Problem(w, http.StatusForbidden, "Forbidden",
						"address is temporarily banned")
					return
				}
				g.observe(route, "limited")
				retryAfter(w, verdict.RetryAfter)
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests",
					"rate limit exceeded, retry later")
				return
			}

			g.observe(route, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) observe(route, outcome string) {
	if g.obs != nil {
		g.obs.ObserveSecurityDecision(route, outcome)
	}
}

func retryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
