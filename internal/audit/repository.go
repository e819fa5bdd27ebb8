package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry. The table is append-only: nothing in the
// application updates or deletes rows.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	var details []byte
	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("audit: encode details: %w", err)
		}
		details = encoded
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (action, resource, entity_id, actor_id, ip_address, user_agent, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Action, entry.Resource, entry.EntityID, entry.ActorID, entry.IP, entry.UserAgent, details, createdAt)
	return err
}

// Query returns one page of entries plus the total count for the filters.
func (r *Repository) Query(ctx context.Context, filters Filters) ([]Entry, int, error) {
	where, args := buildWhere(filters)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (filters.Page - 1) * filters.Limit
	pageArgs := append(args, filters.Limit, offset)
	query := fmt.Sprintf(
		`SELECT id, action, resource, entity_id, actor_id, ip_address, user_agent, details, created_at
		 FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)

	rows, err := r.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// All returns every entry matching the filters, newest first. Used by exports.
func (r *Repository) All(ctx context.Context, filters Filters) ([]Entry, error) {
	where, args := buildWhere(filters)
	rows, err := r.pool.Query(ctx,
		`SELECT id, action, resource, entity_id, actor_id, ip_address, user_agent, details, created_at
		 FROM audit_logs`+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DistinctActions returns every action name ever recorded, sorted.
func (r *Repository) DistinctActions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT action FROM audit_logs ORDER BY action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func buildWhere(filters Filters) (string, []any) {
	var clauses []string
	var args []any

	if action := strings.TrimSpace(filters.Action); action != "" {
		if strings.HasSuffix(action, ".") {
			args = append(args, action+"%")
			clauses = append(clauses, fmt.Sprintf("action LIKE $%d", len(args)))
		} else {
			args = append(args, action)
			clauses = append(clauses, fmt.Sprintf("action = $%d", len(args)))
		}
	}
	if filters.ActorID > 0 {
		args = append(args, filters.ActorID)
		clauses = append(clauses, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows rowScanner) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Resource, &entry.EntityID,
			&entry.ActorID, &entry.IP, &entry.UserAgent, &details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
