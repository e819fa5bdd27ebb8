package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/audit"
	"github.com/pulseboard/pulseboard/internal/platform/httpx"
)

// TrailService is the business contract behind the audit endpoints.
type TrailService interface {
	Query(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Actions(ctx context.Context) ([]string, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// Handler serves the audit trail read API.
type Handler struct {
	logger  *slog.Logger
	service TrailService
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service TrailService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

type entryResponse struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	EntityID  string         `json:"entity_id"`
	ActorID   int64          `json:"actor_id"`
	IP        string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type queryResponse struct {
	Entries []entryResponse `json:"entries"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("query audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := queryResponse{
		Entries: make([]entryResponse, 0, len(result.Entries)),
		Total:   result.Total,
		Page:    result.Page,
		Limit:   result.Limit,
	}
	for _, e := range result.Entries {
		out.Entries = append(out.Entries, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.service.Actions(r.Context())
	if err != nil {
		h.logger.Error("list audit actions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, actions)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	filename := fmt.Sprintf("audit-trail-%s.csv", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := audit.WriteCSV(w, entries); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	filters := audit.Filters{
		Action: strings.TrimSpace(q.Get("action")),
	}
	if v := firstParam(q, "actor_id", "userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return audit.Filters{}, fmt.Errorf("invalid actor_id")
		}
		filters.ActorID = id
	}
	if v := firstParam(q, "from", "startDate"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("invalid from")
		}
		filters.From = t
	}
	if v := firstParam(q, "to", "endDate"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return audit.Filters{}, fmt.Errorf("invalid to")
		}
		filters.To = t
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return audit.Filters{}, fmt.Errorf("from is after to")
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return audit.Filters{}, fmt.Errorf("invalid page")
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return audit.Filters{}, fmt.Errorf("invalid limit")
		}
		filters.Limit = limit
	}
	return filters, nil
}

// firstParam returns the first non-empty value among aliased query keys.
// The dashboard frontend historically sent camelCase names.
func firstParam(q url.Values, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// parseTime accepts full RFC3339 timestamps or bare dates.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func toEntryResponse(e audit.Entry) entryResponse {
	return entryResponse{
		ID:        e.ID,
		Action:    e.Action,
		Resource:  e.Resource,
		EntityID:  e.EntityID,
		ActorID:   e.ActorID,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}
}
