package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Store is the persistence contract the service depends on.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filters Filters) ([]Entry, int, error)
	All(ctx context.Context, filters Filters) ([]Entry, error)
	DistinctActions(ctx context.Context) ([]string, error)
}

// Service coordinates the audit trail.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Record appends one entry. Failures never propagate to the caller: a
// privileged mutation must not be rolled back because the trail is down.
// The gap is surfaced to the operational log instead.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if strings.TrimSpace(entry.Action) == "" || strings.TrimSpace(entry.Resource) == "" {
		s.logger.Error("audit entry rejected", slog.String("action", entry.Action), slog.String("resource", entry.Resource))
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Error("audit record failed",
			slog.String("action", entry.Action),
			slog.String("resource", entry.Resource),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
	}
}

// Query returns one page of entries plus the total count.
func (s *Service) Query(ctx context.Context, filters Filters) (Result, error) {
	filters = clamp(filters)
	entries, total, err := s.store.Query(ctx, filters)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: entries, Total: total, Page: filters.Page, Limit: filters.Limit}, nil
}

// Actions lists every distinct action name recorded so far.
func (s *Service) Actions(ctx context.Context) ([]string, error) {
	return s.store.DistinctActions(ctx)
}

// Export returns all matching entries without paging.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	return s.store.All(ctx, filters)
}

func clamp(filters Filters) Filters {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = defaultLimit
	}
	if filters.Limit > maxLimit {
		filters.Limit = maxLimit
	}
	return filters
}
