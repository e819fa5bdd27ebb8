package securityhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the ban management endpoints. Permission
// enforcement is applied by the caller's middleware group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/security/blocked-ips", h.listBlockedIPs)
	r.Post("/security/blocked-ips/{ip}/unban", h.unbanIP)
}

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
