package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseboard/pulseboard/internal/platform/db"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// DBTX abstracts over pool and transaction execution.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for roles, permissions
// and the two assignment edge sets.
type Repository struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithinTx runs fn against a transaction-bound view of the repository.
func (r *Repository) WithinTx(ctx context.Context, fn func(Queries) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

const roleColumns = `id, name, description, is_system, created_at, updated_at`

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// FindRoleByName fetches a role by case-insensitive name.
func (r *Repository) FindRoleByName(ctx context.Context, name string) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE lower(name) = lower($1)`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("rbac: role %q: %w", name, shared.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role. A case-insensitive name collision maps to
// shared.ErrConflict via the unique index on lower(name).
func (r *Repository) CreateRole(ctx context.Context, name, description string, isSystem bool) (Role, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO roles (name, description, is_system, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW()) RETURNING `+roleColumns, name, description, isSystem)
	role, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, fmt.Errorf("rbac: role name %q already exists: %w", name, shared.ErrConflict)
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates name and description of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		 WHERE id = $1 RETURNING `+roleColumns, id, name, description)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return Role{}, fmt.Errorf("rbac: role name %q already exists: %w", name, shared.ErrConflict)
		}
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role and its edges.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// LockRole takes a row lock on the role, serialising guarded mutations.
func (r *Repository) LockRole(ctx context.Context, id int64) error {
	var locked int64
	if err := r.db.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
		}
		return err
	}
	return nil
}

const permissionColumns = `id, name, label, category, icon`

// UpsertPermission inserts or refreshes a catalog permission.
func (r *Repository) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO permissions (name, label, category, icon)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET label = EXCLUDED.label, category = EXCLUDED.category, icon = EXCLUDED.icon
		 RETURNING `+permissionColumns, p.Name, p.Label, string(p.Category), string(p.Icon))
	return scanPermission(row)
}

// ListPermissions returns the full catalog ordered by category then name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	p, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("rbac: permission %d: %w", id, shared.ErrNotFound)
		}
		return Permission{}, err
	}
	return p, nil
}

// ListRolePermissions returns the permissions granted to a role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id, p.name, p.label, p.category, p.icon
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CountRolePermissions counts grant edges for a role.
func (r *Repository) CountRolePermissions(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

// RoleHasPermission reports whether the grant edge exists.
func (r *Repository) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2)`,
		roleID, permissionID).Scan(&exists)
	return exists, err
}

// AttachPermission adds a grant edge, idempotently.
func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())
		 ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// DetachPermission removes a grant edge.
func (r *Repository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// CopyRolePermissions copies every grant edge from one role to another and
// returns the number of edges copied.
func (r *Repository) CopyRolePermissions(ctx context.Context, sourceID, targetID int64) (int, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, created_at)
		 SELECT $2, permission_id, NOW() FROM role_permissions WHERE role_id = $1`,
		sourceID, targetID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// AssignRole adds an assignment edge, idempotently.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())
		 ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// UnassignRole removes an assignment edge and reports how many rows went away.
func (r *Repository) UnassignRole(ctx context.Context, userID, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UserHoldsRole reports whether the assignment edge exists.
func (r *Repository) UserHoldsRole(ctx context.Context, userID, roleID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2)`,
		userID, roleID).Scan(&exists)
	return exists, err
}

// CountRoleHolders counts users currently holding the role.
func (r *Repository) CountRoleHolders(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

// UserPermissionNames returns the deduplicated union of permission names
// across every role assigned to the user.
func (r *Repository) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var category, icon string
	if err := row.Scan(&p.ID, &p.Name, &p.Label, &category, &icon); err != nil {
		return Permission{}, err
	}
	p.Category = Category(category)
	p.Icon = Icon(icon)
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
