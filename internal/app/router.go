package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/pulseboard/pulseboard/internal/audit/http"
	"github.com/pulseboard/pulseboard/internal/observability"
	"github.com/pulseboard/pulseboard/internal/rbac"
	"github.com/pulseboard/pulseboard/internal/security"
	securityhttp "github.com/pulseboard/pulseboard/internal/security/http"
	"github.com/pulseboard/pulseboard/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Middleware []func(http.Handler) http.Handler

	Guard          *security.Guard
	RBACMiddleware rbac.Middleware

	RBACHandler     *rbac.Handler
	UsersHandler    *users.Handler
	AuditHandler    *audithttp.Handler
	SecurityHandler *securityhttp.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range params.Middleware {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Group(func(r chi.Router) {
		r.Use(params.Guard.Protect(security.RouteHealth))
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.Protect(security.RouteRBACAdmin))
			params.RBACHandler.MountRoutes(r)
			if params.UsersHandler != nil {
				params.UsersHandler.MountRoutes(r)
			}
		})

		if params.AuditHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(rbac.PermAuditView))
				params.AuditHandler.MountRoutes(r,
					params.Guard.Protect(security.RouteAuditRead),
					params.Guard.Protect(security.RouteAuditExport))
			})
		}

		if params.SecurityHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.Guard.Protect(security.RouteSecurityAdmin))
				r.Use(params.RBACMiddleware.RequireAll(rbac.PermSecurityManage))
				params.SecurityHandler.MountRoutes(r)
			})
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
