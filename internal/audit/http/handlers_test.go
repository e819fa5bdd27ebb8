package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/audit"
)

type stubTrailService struct {
	lastFilters audit.Filters
	result      audit.Result
	actions     []string
	exported    []audit.Entry
	err         error
}

func (s *stubTrailService) Query(_ context.Context, filters audit.Filters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, s.err
}

func (s *stubTrailService) Actions(context.Context) ([]string, error) {
	return s.actions, s.err
}

func (s *stubTrailService) Export(_ context.Context, filters audit.Filters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exported, s.err
}

func newTestRouter(svc TrailService) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r, nil, nil)
	return r
}

func TestHandleQueryParsesFilters(t *testing.T) {
	svc := &stubTrailService{result: audit.Result{Page: 2, Limit: 10}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet,
		"/audit-logs?action=rbac.&actor_id=7&from=2026-01-01&to=2026-02-01T12:00:00Z&page=2&limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "rbac.", svc.lastFilters.Action)
	require.Equal(t, int64(7), svc.lastFilters.ActorID)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), svc.lastFilters.From)
	require.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), svc.lastFilters.To)
	require.Equal(t, 2, svc.lastFilters.Page)
	require.Equal(t, 10, svc.lastFilters.Limit)
}

func TestHandleQueryAcceptsLegacyParamNames(t *testing.T) {
	svc := &stubTrailService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet,
		"/audit-logs?userId=3&startDate=2026-01-01&endDate=2026-01-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(3), svc.lastFilters.ActorID)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), svc.lastFilters.From)
	require.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), svc.lastFilters.To)
}

func TestHandleQueryReturnsEntries(t *testing.T) {
	svc := &stubTrailService{result: audit.Result{
		Entries: []audit.Entry{{
			ID:       1,
			Action:   "rbac.role.created",
			Resource: "role",
			EntityID: "3",
			ActorID:  5,
		}},
		Total: 1,
		Page:  1,
		Limit: 20,
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []map[string]any `json:"entries"`
		Total   int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Len(t, body.Entries, 1)
	require.Equal(t, "rbac.role.created", body.Entries[0]["action"])
}

func TestHandleQueryRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubTrailService{})

	for _, query := range []string{
		"actor_id=zero",
		"actor_id=-4",
		"from=yesterday",
		"to=2026-13-99",
		"from=2026-02-01&to=2026-01-01",
		"page=-1",
		"limit=abc",
	} {
		req := httptest.NewRequest(http.MethodGet, "/audit-logs?"+query, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "query %q", query)
	}
}

func TestHandleActions(t *testing.T) {
	svc := &stubTrailService{actions: []string{"rbac.role.created", "security.ip.unbanned"}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs/actions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var actions []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actions))
	require.Equal(t, svc.actions, actions)
}

func TestHandleExportStreamsCSV(t *testing.T) {
	svc := &stubTrailService{exported: []audit.Entry{
		{Action: "rbac.role.created", Resource: "role", EntityID: "1", CreatedAt: time.Now()},
		{Action: "rbac.role.deleted", Resource: "role", EntityID: "1", CreatedAt: time.Now()},
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs/export.csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
}
