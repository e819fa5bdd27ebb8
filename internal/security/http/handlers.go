package securityhttp

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard/internal/platform/httpx"
	"github.com/pulseboard/pulseboard/internal/security"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// BanService is the subset of the ban list the handlers need.
type BanService interface {
	ListActive(ctx context.Context) ([]security.BanEntry, error)
	Unban(ctx context.Context, actor shared.Actor, ip string) error
}

// Handler exposes the ban registry to operators.
type Handler struct {
	logger  *slog.Logger
	service BanService
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service BanService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

type banResponse struct {
	IP         string    `json:"ip"`
	BannedAt   time.Time `json:"banned_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Violations int       `json:"violations"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

func (h *Handler) listBlockedIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListActive(r.Context())
	if err != nil {
		h.logger.Error("list bans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	now := h.now()
	out := make([]banResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, banResponse{
			IP:         e.IP,
			BannedAt:   e.BannedAt,
			ExpiresAt:  e.ExpiresAt,
			Violations: e.Violations,
			TTLSeconds: int64(e.TTLRemaining(now).Seconds()),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) unbanIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := h.pathIP(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := h.service.Unban(r.Context(), actor, ip); err != nil {
		h.logger.Error("unban", slog.String("ip", ip), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("ban cleared",
		slog.String("ip", ip),
		slog.Int64("actor_id", actor.UserID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathIP(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := pathParam(r, "ip")
	if net.ParseIP(raw) == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid IP address")
		return "", false
	}
	return raw, true
}
