package rbac

import (
	"context"
	"net/http"

	"github.com/pulseboard/pulseboard/internal/platform/httpx"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// PermissionChecker answers point permission checks for an actor.
type PermissionChecker interface {
	HasPermission(ctx context.Context, actor shared.Actor, permission string) bool
}

// Middleware wires authorization helpers for HTTP handlers. Checks fail
// closed: resolution errors deny rather than error out.
type Middleware struct {
	Checker PermissionChecker
}

// RequireAny ensures the actor holds at least one of the permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			for _, perm := range perms {
				if m.Checker.HasPermission(r.Context(), actor, perm) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing required permission")
		})
	}
}

// RequireAll ensures the actor holds every listed permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			for _, perm := range perms {
				if !m.Checker.HasPermission(r.Context(), actor, perm) {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing required permission")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
