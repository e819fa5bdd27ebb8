package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Actor describes the authenticated caller of a request. The superuser
// classification is an explicit variant, not a role: it bypasses permission
// resolution entirely and must stay visible at call sites.
type Actor struct {
	UserID    int64
	Superuser bool
	IP        string
	UserAgent string
}

// Authenticated reports whether the actor maps to a known user.
func (a Actor) Authenticated() bool {
	return a.UserID > 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is
// returned for anonymous requests.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}

// IdentityResolver maps bearer tokens issued by the session layer to actors.
// Token issuance itself lives outside this service; the resolver only reads.
type IdentityResolver struct {
	client *redis.Client
	ttl    time.Duration
}

type sessionPayload struct {
	UserID    int64 `json:"user_id"`
	Superuser bool  `json:"superuser"`
}

// NewIdentityResolver constructs an IdentityResolver.
func NewIdentityResolver(client *redis.Client, ttl time.Duration) *IdentityResolver {
	return &IdentityResolver{client: client, ttl: ttl}
}

// SessionKey builds the redis key under which the session layer stores tokens.
func SessionKey(token string) string {
	return "session:" + token
}

// Resolve returns the actor for a request, or the zero Actor when the
// request carries no valid token.
func (ir *IdentityResolver) Resolve(ctx context.Context, r *http.Request) (Actor, error) {
	actor := Actor{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	token := bearerToken(r)
	if token == "" || ir == nil || ir.client == nil {
		return actor, nil
	}
	payload, err := ir.client.Get(ctx, SessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return actor, nil
		}
		return actor, fmt.Errorf("shared: resolve session: %w", err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return actor, fmt.Errorf("shared: decode session: %w", err)
	}
	if ir.ttl > 0 {
		_ = ir.client.Expire(ctx, SessionKey(token), ir.ttl).Err()
	}
	actor.UserID = stored.UserID
	actor.Superuser = stored.Superuser
	return actor, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// ClientIP extracts the caller's address from the request.
func ClientIP(r *http.Request) string {
	// chi middleware.RealIP rewrites RemoteAddr before this runs.
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx > 0 {
			host = host[1:idx]
		}
	}
	return host
}
