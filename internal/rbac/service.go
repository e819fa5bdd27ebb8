package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pulseboard/pulseboard/internal/audit"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// Queries is the query surface shared by pool- and transaction-bound
// repositories.
type Queries interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name, description string, isSystem bool) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	LockRole(ctx context.Context, id int64) error

	UpsertPermission(ctx context.Context, p Permission) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	CountRolePermissions(ctx context.Context, roleID int64) (int, error)
	RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
	CopyRolePermissions(ctx context.Context, sourceID, targetID int64) (int, error)

	AssignRole(ctx context.Context, userID, roleID int64) error
	UnassignRole(ctx context.Context, userID, roleID int64) (int64, error)
	UserHoldsRole(ctx context.Context, userID, roleID int64) (bool, error)
	CountRoleHolders(ctx context.Context, roleID int64) (int, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
}

// Store adds transactional execution on top of Queries.
type Store interface {
	Queries
	WithinTx(ctx context.Context, fn func(Queries) error) error
}

// AuditRecorder appends entries to the audit trail, best effort.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service orchestrates role management and permission resolution.
type Service struct {
	store   Store
	cache   *Cache
	catalog *Catalog
	audits  AuditRecorder
	guard   AntiLockoutGuard
	logger  *slog.Logger

	adminID atomic.Int64
}

// NewService constructs a Service.
func NewService(store Store, cache *Cache, catalog *Catalog, audits AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, catalog: catalog, audits: audits, logger: logger}
}

// Bootstrap seeds the permission catalog and guarantees the admin role
// exists with every permission granted. Run once at startup.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.store.WithinTx(ctx, func(q Queries) error {
		if err := s.catalog.Seed(ctx, q); err != nil {
			return err
		}
		admin, err := q.FindRoleByName(ctx, AdminRoleName)
		if errors.Is(err, shared.ErrNotFound) {
			admin, err = q.CreateRole(ctx, AdminRoleName, "Full administrative access", true)
		}
		if err != nil {
			return fmt.Errorf("rbac: ensure admin role: %w", err)
		}
		perms, err := q.ListPermissions(ctx)
		if err != nil {
			return err
		}
		for _, p := range perms {
			if err := q.AttachPermission(ctx, admin.ID, p.ID); err != nil {
				return err
			}
		}
		s.adminID.Store(admin.ID)
		holders, err := q.CountRoleHolders(ctx, admin.ID)
		if err != nil {
			return err
		}
		if holders == 0 {
			s.logger.Warn("admin role has no holders; assign one before exposing the service")
		}
		return nil
	})
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// ListPermissions returns the persisted permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// RolePermissions lists the permissions granted to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.ListRolePermissions(ctx, roleID)
}

// CreateRole inserts a new custom role.
func (s *Service) CreateRole(ctx context.Context, actor shared.Actor, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrConflict)
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description), false)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, ActionRoleCreated, "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole applies a partial update. System roles refuse renames.
func (s *Service) UpdateRole(ctx context.Context, actor shared.Actor, id int64, patch RolePatch) (Role, error) {
	var updated Role
	var previous Role
	err := s.store.WithinTx(ctx, func(q Queries) error {
		role, err := q.GetRole(ctx, id)
		if err != nil {
			return err
		}
		previous = role

		name := role.Name
		if patch.Name != nil {
			trimmed := strings.TrimSpace(*patch.Name)
			if trimmed == "" {
				return fmt.Errorf("rbac: role name required: %w", shared.ErrConflict)
			}
			if role.IsSystem && !strings.EqualFold(trimmed, role.Name) {
				return fmt.Errorf("rbac: system role %q cannot be renamed: %w", role.Name, shared.ErrForbidden)
			}
			name = trimmed
		}
		description := role.Description
		if patch.Description != nil {
			description = strings.TrimSpace(*patch.Description)
		}

		if existing, err := q.FindRoleByName(ctx, name); err == nil && existing.ID != id {
			return fmt.Errorf("rbac: role name %q already exists: %w", name, shared.ErrConflict)
		} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		updated, err = q.UpdateRole(ctx, id, name, description)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, ActionRoleUpdated, "role", id, map[string]any{
		"diff": audit.Diff{
			Previous: roleSnapshot(previous),
			Next:     roleSnapshot(updated),
		},
	})
	return updated, nil
}

// DeleteRole removes a custom role and every edge touching it.
func (s *Service) DeleteRole(ctx context.Context, actor shared.Actor, id int64) error {
	var deleted Role
	err := s.store.WithinTx(ctx, func(q Queries) error {
		role, err := q.GetRole(ctx, id)
		if err != nil {
			return err
		}
		adminID, err := s.adminRoleID(ctx, q)
		if err != nil {
			return err
		}
		if err := s.guard.CheckDeleteRole(ctx, q, id, adminID); err != nil {
			return err
		}
		if role.IsSystem {
			return fmt.Errorf("rbac: system role %q cannot be deleted: %w", role.Name, shared.ErrForbidden)
		}
		deleted = role
		return q.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	// Holders of the deleted role lose its permissions; flush everyone.
	if err := s.invalidateAll(ctx); err != nil {
		return err
	}
	s.record(ctx, actor, ActionRoleDeleted, "role", id, map[string]any{"name": deleted.Name})
	return nil
}

// CloneRole creates a new role carrying the complete current permission set
// of the source. The copy happens in one transaction: a partial clone never
// becomes visible.
func (s *Service) CloneRole(ctx context.Context, actor shared.Actor, sourceID int64, newName, newDescription string) (Role, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrConflict)
	}
	var clone Role
	var copied int
	var source Role
	err := s.store.WithinTx(ctx, func(q Queries) error {
		var err error
		source, err = q.GetRole(ctx, sourceID)
		if err != nil {
			return err
		}
		clone, err = q.CreateRole(ctx, newName, strings.TrimSpace(newDescription), false)
		if err != nil {
			return err
		}
		copied, err = q.CopyRolePermissions(ctx, sourceID, clone.ID)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, ActionRoleCloned, "role", clone.ID, map[string]any{
		"source_role_id":     source.ID,
		"source_role_name":   source.Name,
		"permissions_copied": copied,
	})
	return clone, nil
}

// AssignRole adds a role to a user and invalidates the user's cached
// permission set before reporting success.
func (s *Service) AssignRole(ctx context.Context, actor shared.Actor, userID, roleID int64) error {
	err := s.store.WithinTx(ctx, func(q Queries) error {
		if _, err := q.GetRole(ctx, roleID); err != nil {
			return err
		}
		return q.AssignRole(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}
	if err := s.invalidateUser(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, actor, ActionRoleAssigned, "user_role", userID, map[string]any{"role_id": roleID})
	return nil
}

// UnassignRole removes a role from a user, refusing to strip the last
// administrator.
func (s *Service) UnassignRole(ctx context.Context, actor shared.Actor, userID, roleID int64) error {
	err := s.store.WithinTx(ctx, func(q Queries) error {
		adminID, err := s.adminRoleID(ctx, q)
		if err != nil {
			return err
		}
		if err := s.guard.CheckUnassign(ctx, q, userID, roleID, adminID); err != nil {
			return err
		}
		rows, err := q.UnassignRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("rbac: user %d does not hold role %d: %w", userID, roleID, shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.invalidateUser(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, actor, ActionRoleUnassigned, "user_role", userID, map[string]any{"role_id": roleID})
	return nil
}

// TogglePermission grants or revokes one permission on a role and flushes
// every cached permission set before reporting success.
func (s *Service) TogglePermission(ctx context.Context, actor shared.Actor, roleID, permissionID int64, enabled bool) error {
	var role Role
	var perm Permission
	err := s.store.WithinTx(ctx, func(q Queries) error {
		var err error
		role, err = q.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		perm, err = q.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		if enabled {
			return q.AttachPermission(ctx, roleID, permissionID)
		}
		adminID, err := s.adminRoleID(ctx, q)
		if err != nil {
			return err
		}
		if err := s.guard.CheckRevokePermission(ctx, q, roleID, permissionID, adminID); err != nil {
			return err
		}
		return q.DetachPermission(ctx, roleID, permissionID)
	})
	if err != nil {
		return err
	}
	if err := s.invalidateAll(ctx); err != nil {
		return err
	}
	action := ActionPermissionGranted
	if !enabled {
		action = ActionPermissionRevoked
	}
	s.record(ctx, actor, action, "role_permission", roleID, map[string]any{
		"role_name":  role.Name,
		"permission": perm.Name,
	})
	return nil
}

// UserPermissions resolves the effective permission set of a user: the
// union over every assigned role, served from cache when warm.
func (s *Service) UserPermissions(ctx context.Context, userID int64) (map[string]struct{}, error) {
	names, err := s.cache.Fetch(ctx, userID, func(ctx context.Context) ([]string, error) {
		return s.store.UserPermissionNames(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

// HasPermission answers a point permission check. It fails closed: any
// resolution error or unknown permission name yields false.
func (s *Service) HasPermission(ctx context.Context, actor shared.Actor, permission string) bool {
	if actor.Superuser {
		return true
	}
	if !actor.Authenticated() {
		return false
	}
	if !s.catalog.Known(permission) {
		return false
	}
	perms, err := s.UserPermissions(ctx, actor.UserID)
	if err != nil {
		s.logger.Error("permission resolution failed, denying",
			slog.Int64("user_id", actor.UserID),
			slog.String("permission", permission),
			slog.Any("error", err))
		return false
	}
	_, ok := perms[permission]
	return ok
}

func (s *Service) adminRoleID(ctx context.Context, q Queries) (int64, error) {
	if id := s.adminID.Load(); id != 0 {
		return id, nil
	}
	admin, err := q.FindRoleByName(ctx, AdminRoleName)
	if err != nil {
		return 0, fmt.Errorf("rbac: resolve admin role: %w", err)
	}
	s.adminID.Store(admin.ID)
	return admin.ID, nil
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) error {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Error("permission cache invalidate failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("rbac: invalidate permission cache: %w", shared.ErrStoreUnavailable)
	}
	return nil
}

func (s *Service) invalidateAll(ctx context.Context) error {
	if err := s.cache.BumpAll(ctx); err != nil {
		s.logger.Error("permission cache bump failed", slog.Any("error", err))
		return fmt.Errorf("rbac: invalidate permission cache: %w", shared.ErrStoreUnavailable)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, resource string, entityID int64, details map[string]any) {
	if s.audits == nil {
		return
	}
	s.audits.Record(ctx, audit.Entry{
		Action:    action,
		Resource:  resource,
		EntityID:  strconv.FormatInt(entityID, 10),
		ActorID:   actor.UserID,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
		Details:   details,
	})
}

func roleSnapshot(role Role) map[string]any {
	return map[string]any{
		"name":        role.Name,
		"description": role.Description,
	}
}
