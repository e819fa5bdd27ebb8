package security

import "time"

// RouteLimit configures the request budget for one logical route.
type RouteLimit struct {
	Limit  int
	Window time.Duration
}

// BanEntry records one banned address. Violations counts how many bans the
// address accumulated while the entry stayed alive; it drives escalation.
type BanEntry struct {
	IP         string    `json:"ip"`
	BannedAt   time.Time `json:"banned_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Violations int       `json:"violations"`
}

// TTLRemaining returns the remaining ban duration, clamped at zero so the
// effective duration only ever decreases with wall-clock time.
func (b BanEntry) TTLRemaining(now time.Time) time.Duration {
	remaining := b.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Active reports whether the ban still blocks requests.
func (b BanEntry) Active(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// Verdict is the outcome of a rate-limit check.
type Verdict struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Logical route names used by the request pipeline. Route names identify
// endpoints, not raw paths, so equivalent endpoints share one budget.
const (
	RouteAuthLogin     = "auth.login"
	RouteAuthReset     = "auth.password_reset"
	RouteHealth        = "health"
	RouteRBACAdmin     = "rbac.admin"
	RouteAuditRead     = "audit.read"
	RouteAuditExport   = "audit.export"
	RouteSecurityAdmin = "security.admin"
)

// Policy bundles every tunable of the abuse-prevention layer.
type Policy struct {
	Routes       map[string]RouteLimit
	DefaultLimit RouteLimit

	// ViolationThreshold bans an address once it collects this many
	// rate-limit violations within ViolationInterval.
	ViolationThreshold int
	ViolationInterval  time.Duration

	// BanTiers holds the fixed TTL per repeat offense; the last tier
	// repeats. Escalation is monotonically non-decreasing.
	BanTiers []time.Duration
}

// DefaultPolicy returns the shipped policy: authentication-adjacent routes
// tightly limited, health checks loose, three-tier ban escalation.
func DefaultPolicy() Policy {
	return Policy{
		Routes: map[string]RouteLimit{
			RouteAuthLogin:     {Limit: 5, Window: time.Minute},
			RouteAuthReset:     {Limit: 3, Window: 5 * time.Minute},
			RouteHealth:        {Limit: 120, Window: time.Minute},
			RouteRBACAdmin:     {Limit: 30, Window: time.Minute},
			RouteAuditRead:     {Limit: 60, Window: time.Minute},
			RouteAuditExport:   {Limit: 10, Window: time.Minute},
			RouteSecurityAdmin: {Limit: 30, Window: time.Minute},
		},
		DefaultLimit:       RouteLimit{Limit: 60, Window: time.Minute},
		ViolationThreshold: 10,
		ViolationInterval:  10 * time.Minute,
		BanTiers:           []time.Duration{15 * time.Minute, time.Hour, 24 * time.Hour},
	}
}

// RouteLimit resolves the budget for a route, falling back to the default.
func (p Policy) RouteLimit(route string) RouteLimit {
	if rl, ok := p.Routes[route]; ok && rl.Limit > 0 && rl.Window > 0 {
		return rl
	}
	return p.DefaultLimit
}

// TierTTL returns the ban duration for the nth offense (1-based).
func (p Policy) TierTTL(offense int) time.Duration {
	if len(p.BanTiers) == 0 {
		return 15 * time.Minute
	}
	if offense < 1 {
		offense = 1
	}
	if offense > len(p.BanTiers) {
		offense = len(p.BanTiers)
	}
	return p.BanTiers[offense-1]
}

// Audit action emitted when an operator clears a ban.
const ActionIPUnbanned = "security.ip.unbanned"
