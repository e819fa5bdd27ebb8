package rbac

import (
	"context"
	"fmt"

	"github.com/pulseboard/pulseboard/internal/shared"
)

// AntiLockoutGuard refuses mutations that would leave the installation
// without an administrator. It is state-free and not configurable: callers
// invoke it inside the same transaction as the mutation it protects, after
// taking a row lock on the admin role so concurrent removals serialise.
type AntiLockoutGuard struct{}

// ErrAntiLockout wraps shared.ErrConflict with the actionable message
// surfaced to operators.
var ErrAntiLockout = fmt.Errorf("cannot remove the last administrator: %w", shared.ErrConflict)

// CheckUnassign rejects removing the sole holder of the admin role.
func (AntiLockoutGuard) CheckUnassign(ctx context.Context, q Queries, userID, roleID, adminRoleID int64) error {
	if roleID != adminRoleID {
		return nil
	}
	if err := q.LockRole(ctx, adminRoleID); err != nil {
		return err
	}
	holds, err := q.UserHoldsRole(ctx, userID, adminRoleID)
	if err != nil {
		return err
	}
	if !holds {
		return nil
	}
	count, err := q.CountRoleHolders(ctx, adminRoleID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrAntiLockout
	}
	return nil
}

// CheckDeleteRole rejects deleting the admin role outright: deletion drops
// every assignment edge and with it all administrative capability.
func (AntiLockoutGuard) CheckDeleteRole(ctx context.Context, q Queries, roleID, adminRoleID int64) error {
	if roleID != adminRoleID {
		return nil
	}
	return ErrAntiLockout
}

// CheckRevokePermission rejects stripping the admin role of its last
// remaining grant.
func (AntiLockoutGuard) CheckRevokePermission(ctx context.Context, q Queries, roleID, permissionID, adminRoleID int64) error {
	if roleID != adminRoleID {
		return nil
	}
	if err := q.LockRole(ctx, adminRoleID); err != nil {
		return err
	}
	granted, err := q.RoleHasPermission(ctx, adminRoleID, permissionID)
	if err != nil {
		return err
	}
	if !granted {
		return nil
	}
	count, err := q.CountRolePermissions(ctx, adminRoleID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return fmt.Errorf("cannot revoke the administrator role's last permission: %w", shared.ErrConflict)
	}
	return nil
}
