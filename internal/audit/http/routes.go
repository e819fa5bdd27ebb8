package audithttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the audit trail read endpoints. Reads and exports
// carry separate middleware because they are budgeted independently.
// Permission enforcement is applied by the caller's middleware group.
func (h *Handler) MountRoutes(r chi.Router, readMW, exportMW func(http.Handler) http.Handler) {
	r.Group(func(gr chi.Router) {
		if readMW != nil {
			gr.Use(readMW)
		}
		gr.Get("/audit-logs", h.handleQuery)
		gr.Get("/audit-logs/actions", h.handleActions)
	})
	r.Group(func(gr chi.Router) {
		if exportMW != nil {
			gr.Use(exportMW)
		}
		gr.Get("/audit-logs/export.csv", h.handleExport)
	})
}
