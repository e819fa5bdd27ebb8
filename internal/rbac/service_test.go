package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pulseboard/pulseboard/internal/audit"
	"github.com/pulseboard/pulseboard/internal/shared"
)

// storeData holds fake state without locking; memoryStore serialises access
// the way the row lock in the real repository does.
type storeData struct {
	roles      map[int64]Role
	perms      map[int64]Permission
	rolePerms  map[int64]map[int64]struct{}
	userRoles  map[int64]map[int64]struct{}
	nextRoleID int64
	nextPermID int64

	failUserPerms bool
}

func newStoreData() *storeData {
	return &storeData{
		roles:     make(map[int64]Role),
		perms:     make(map[int64]Permission),
		rolePerms: make(map[int64]map[int64]struct{}),
		userRoles: make(map[int64]map[int64]struct{}),
	}
}

func (d *storeData) ListRoles(context.Context) ([]Role, error) {
	out := make([]Role, 0, len(d.roles))
	for _, r := range d.roles {
		out = append(out, r)
	}
	return out, nil
}

func (d *storeData) GetRole(_ context.Context, id int64) (Role, error) {
	role, ok := d.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	return role, nil
}

func (d *storeData) FindRoleByName(_ context.Context, name string) (Role, error) {
	for _, r := range d.roles {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("rbac: role %q: %w", name, shared.ErrNotFound)
}

func (d *storeData) CreateRole(_ context.Context, name, description string, isSystem bool) (Role, error) {
	for _, r := range d.roles {
		if strings.EqualFold(r.Name, name) {
			return Role{}, fmt.Errorf("rbac: role name %q already exists: %w", name, shared.ErrConflict)
		}
	}
	d.nextRoleID++
	role := Role{
		ID:          d.nextRoleID,
		Name:        name,
		Description: description,
		IsSystem:    isSystem,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	d.roles[role.ID] = role
	d.rolePerms[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (d *storeData) UpdateRole(_ context.Context, id int64, name, description string) (Role, error) {
	role, ok := d.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	for _, r := range d.roles {
		if r.ID != id && strings.EqualFold(r.Name, name) {
			return Role{}, fmt.Errorf("rbac: role name %q already exists: %w", name, shared.ErrConflict)
		}
	}
	role.Name = name
	role.Description = description
	role.UpdatedAt = time.Now()
	d.roles[id] = role
	return role, nil
}

func (d *storeData) DeleteRole(_ context.Context, id int64) error {
	if _, ok := d.roles[id]; !ok {
		return fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	delete(d.roles, id)
	delete(d.rolePerms, id)
	for userID := range d.userRoles {
		delete(d.userRoles[userID], id)
	}
	return nil
}

func (d *storeData) LockRole(_ context.Context, id int64) error {
	if _, ok := d.roles[id]; !ok {
		return fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (d *storeData) UpsertPermission(_ context.Context, p Permission) (Permission, error) {
	for id, existing := range d.perms {
		if existing.Name == p.Name {
			p.ID = id
			d.perms[id] = p
			return p, nil
		}
	}
	d.nextPermID++
	p.ID = d.nextPermID
	d.perms[p.ID] = p
	return p, nil
}

func (d *storeData) ListPermissions(context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(d.perms))
	for _, p := range d.perms {
		out = append(out, p)
	}
	return out, nil
}

func (d *storeData) GetPermission(_ context.Context, id int64) (Permission, error) {
	p, ok := d.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("rbac: permission %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (d *storeData) ListRolePermissions(_ context.Context, roleID int64) ([]Permission, error) {
	var out []Permission
	for permID := range d.rolePerms[roleID] {
		out = append(out, d.perms[permID])
	}
	return out, nil
}

func (d *storeData) CountRolePermissions(_ context.Context, roleID int64) (int, error) {
	return len(d.rolePerms[roleID]), nil
}

func (d *storeData) RoleHasPermission(_ context.Context, roleID, permissionID int64) (bool, error) {
	_, ok := d.rolePerms[roleID][permissionID]
	return ok, nil
}

func (d *storeData) AttachPermission(_ context.Context, roleID, permissionID int64) error {
	if d.rolePerms[roleID] == nil {
		d.rolePerms[roleID] = make(map[int64]struct{})
	}
	d.rolePerms[roleID][permissionID] = struct{}{}
	return nil
}

func (d *storeData) DetachPermission(_ context.Context, roleID, permissionID int64) error {
	delete(d.rolePerms[roleID], permissionID)
	return nil
}

func (d *storeData) CopyRolePermissions(_ context.Context, sourceID, targetID int64) (int, error) {
	if d.rolePerms[targetID] == nil {
		d.rolePerms[targetID] = make(map[int64]struct{})
	}
	copied := 0
	for permID := range d.rolePerms[sourceID] {
		d.rolePerms[targetID][permID] = struct{}{}
		copied++
	}
	return copied, nil
}

func (d *storeData) AssignRole(_ context.Context, userID, roleID int64) error {
	if d.userRoles[userID] == nil {
		d.userRoles[userID] = make(map[int64]struct{})
	}
	d.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (d *storeData) UnassignRole(_ context.Context, userID, roleID int64) (int64, error) {
	if _, ok := d.userRoles[userID][roleID]; !ok {
		return 0, nil
	}
	delete(d.userRoles[userID], roleID)
	return 1, nil
}

func (d *storeData) UserHoldsRole(_ context.Context, userID, roleID int64) (bool, error) {
	_, ok := d.userRoles[userID][roleID]
	return ok, nil
}

func (d *storeData) CountRoleHolders(_ context.Context, roleID int64) (int, error) {
	count := 0
	for _, roles := range d.userRoles {
		if _, ok := roles[roleID]; ok {
			count++
		}
	}
	return count, nil
}

func (d *storeData) UserPermissionNames(_ context.Context, userID int64) ([]string, error) {
	if d.failUserPerms {
		return nil, errors.New("storage offline")
	}
	seen := make(map[string]struct{})
	var out []string
	for roleID := range d.userRoles[userID] {
		for permID := range d.rolePerms[roleID] {
			name := d.perms[permID].Name
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out, nil
}

// memoryStore wraps storeData behind a mutex. WithinTx holds the lock for
// the whole callback, mirroring how the production repository serialises
// admin-role mutations behind SELECT ... FOR UPDATE.
type memoryStore struct {
	mu   sync.Mutex
	data *storeData
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: newStoreData()}
}

func (s *memoryStore) WithinTx(_ context.Context, fn func(Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *memoryStore) locked(fn func(*storeData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *memoryStore) ListRoles(ctx context.Context) (out []Role, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.ListRoles(ctx); return err })
	return
}

func (s *memoryStore) GetRole(ctx context.Context, id int64) (out Role, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.GetRole(ctx, id); return err })
	return
}

func (s *memoryStore) FindRoleByName(ctx context.Context, name string) (out Role, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.FindRoleByName(ctx, name); return err })
	return
}

func (s *memoryStore) CreateRole(ctx context.Context, name, description string, isSystem bool) (out Role, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.CreateRole(ctx, name, description, isSystem); return err })
	return
}

func (s *memoryStore) UpdateRole(ctx context.Context, id int64, name, description string) (out Role, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.UpdateRole(ctx, id, name, description); return err })
	return
}

func (s *memoryStore) DeleteRole(ctx context.Context, id int64) error {
	return s.locked(func(d *storeData) error { return d.DeleteRole(ctx, id) })
}

func (s *memoryStore) LockRole(ctx context.Context, id int64) error {
	return s.locked(func(d *storeData) error { return d.LockRole(ctx, id) })
}

func (s *memoryStore) UpsertPermission(ctx context.Context, p Permission) (out Permission, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.UpsertPermission(ctx, p); return err })
	return
}

func (s *memoryStore) ListPermissions(ctx context.Context) (out []Permission, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.ListPermissions(ctx); return err })
	return
}

func (s *memoryStore) GetPermission(ctx context.Context, id int64) (out Permission, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.GetPermission(ctx, id); return err })
	return
}

func (s *memoryStore) ListRolePermissions(ctx context.Context, roleID int64) (out []Permission, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.ListRolePermissions(ctx, roleID); return err })
	return
}

func (s *memoryStore) CountRolePermissions(ctx context.Context, roleID int64) (out int, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.CountRolePermissions(ctx, roleID); return err })
	return
}

func (s *memoryStore) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (out bool, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.RoleHasPermission(ctx, roleID, permissionID); return err })
	return
}

func (s *memoryStore) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	return s.locked(func(d *storeData) error { return d.AttachPermission(ctx, roleID, permissionID) })
}

func (s *memoryStore) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	return s.locked(func(d *storeData) error { return d.DetachPermission(ctx, roleID, permissionID) })
}

func (s *memoryStore) CopyRolePermissions(ctx context.Context, sourceID, targetID int64) (out int, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.CopyRolePermissions(ctx, sourceID, targetID); return err })
	return
}

func (s *memoryStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	return s.locked(func(d *storeData) error { return d.AssignRole(ctx, userID, roleID) })
}

func (s *memoryStore) UnassignRole(ctx context.Context, userID, roleID int64) (out int64, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.UnassignRole(ctx, userID, roleID); return err })
	return
}

func (s *memoryStore) UserHoldsRole(ctx context.Context, userID, roleID int64) (out bool, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.UserHoldsRole(ctx, userID, roleID); return err })
	return
}

func (s *memoryStore) CountRoleHolders(ctx context.Context, roleID int64) (out int, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.CountRoleHolders(ctx, roleID); return err })
	return
}

func (s *memoryStore) UserPermissionNames(ctx context.Context, userID int64) (out []string, err error) {
	err = s.locked(func(d *storeData) error { out, err = d.UserPermissionNames(ctx, userID); return err })
	return
}

// FindPermissionByName is a test-only convenience lookup.
func (s *memoryStore) FindPermissionByName(_ context.Context, name string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.data.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("rbac: permission %q: %w", name, shared.ErrNotFound)
}

type captureAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureAudit) Record(_ context.Context, entry audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAudit) byAction(action string) []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Entry
	for _, e := range c.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	service *Service
	store   *memoryStore
	audits  *captureAudit
	adminID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	audits := &captureAudit{}
	service := NewService(store, NewCache(client, 30*time.Second), NewCatalog(), audits, slog.Default())
	require.NoError(t, service.Bootstrap(context.Background()))

	admin, err := store.FindRoleByName(context.Background(), AdminRoleName)
	require.NoError(t, err)
	return &fixture{service: service, store: store, audits: audits, adminID: admin.ID}
}

func testActor() shared.Actor {
	return shared.Actor{UserID: 99, IP: "203.0.113.7", UserAgent: "test"}
}

func TestBootstrapSeedsAdminWithFullCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.service.GetRole(ctx, f.adminID)
	require.NoError(t, err)
	require.True(t, admin.IsSystem)

	perms, err := f.service.RolePermissions(ctx, f.adminID)
	require.NoError(t, err)
	require.Len(t, perms, len(NewCatalog().All()))
}

func TestCreateRoleRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateRole(ctx, testActor(), "Support", "tier one")
	require.NoError(t, err)

	_, err = f.service.CreateRole(ctx, testActor(), "sUpPoRt", "shadow")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateRoleSystemRenameForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "Root"
	_, err := f.service.UpdateRole(ctx, testActor(), f.adminID, RolePatch{Name: &name})
	require.ErrorIs(t, err, shared.ErrForbidden)

	// Descriptions of system roles stay editable.
	desc := "The operators"
	updated, err := f.service.UpdateRole(ctx, testActor(), f.adminID, RolePatch{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, desc, updated.Description)
	require.Equal(t, AdminRoleName, updated.Name)
}

func TestUpdateRoleRejectsNameCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.service.CreateRole(ctx, testActor(), "Analysts", "")
	require.NoError(t, err)
	_, err = f.service.CreateRole(ctx, testActor(), "Auditors", "")
	require.NoError(t, err)

	clash := "auditors"
	_, err = f.service.UpdateRole(ctx, testActor(), a.ID, RolePatch{Name: &clash})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteAdminRoleYieldsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.DeleteRole(ctx, testActor(), f.adminID)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.NotErrorIs(t, err, shared.ErrForbidden)
}

func TestDeleteSystemRoleForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sys, err := f.store.CreateRole(ctx, "Service", "machine accounts", true)
	require.NoError(t, err)

	err = f.service.DeleteRole(ctx, testActor(), sys.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeleteRoleRemovesAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, testActor(), "Temps", "")
	require.NoError(t, err)
	require.NoError(t, f.service.AssignRole(ctx, testActor(), 7, role.ID))

	require.NoError(t, f.service.DeleteRole(ctx, testActor(), role.ID))

	holds, err := f.store.UserHoldsRole(ctx, 7, role.ID)
	require.NoError(t, err)
	require.False(t, holds)
}

func TestCloneRoleCopiesFullPermissionSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clone, err := f.service.CloneRole(ctx, testActor(), f.adminID, "Deputy", "admin minus nothing")
	require.NoError(t, err)
	require.False(t, clone.IsSystem)

	source, err := f.service.RolePermissions(ctx, f.adminID)
	require.NoError(t, err)
	copied, err := f.service.RolePermissions(ctx, clone.ID)
	require.NoError(t, err)
	require.Equal(t, len(source), len(copied))

	entries := f.audits.byAction(ActionRoleCloned)
	require.Len(t, entries, 1)
	require.Equal(t, len(source), entries[0].Details["permissions_copied"])
}

func TestCloneRoleNameConflictLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.service.ListRoles(ctx)
	require.NoError(t, err)

	_, err = f.service.CloneRole(ctx, testActor(), f.adminID, AdminRoleName, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	after, err := f.service.ListRoles(ctx)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	require.Empty(t, f.audits.byAction(ActionRoleCloned))
}

func TestUnassignLastAdminRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 1, f.adminID))

	err := f.service.UnassignRole(ctx, testActor(), 1, f.adminID)
	require.ErrorIs(t, err, shared.ErrConflict)

	holds, err := f.store.UserHoldsRole(ctx, 1, f.adminID)
	require.NoError(t, err)
	require.True(t, holds)
}

func TestUnassignAdminWithRemainingHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 1, f.adminID))
	require.NoError(t, f.service.AssignRole(ctx, testActor(), 2, f.adminID))

	require.NoError(t, f.service.UnassignRole(ctx, testActor(), 1, f.adminID))

	count, err := f.store.CountRoleHolders(ctx, f.adminID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUnassignRoleNotHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, testActor(), "Ghost", "")
	require.NoError(t, err)

	err = f.service.UnassignRole(ctx, testActor(), 5, role.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConcurrentUnassignKeepsAtLeastOneAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 1, f.adminID))
	require.NoError(t, f.service.AssignRole(ctx, testActor(), 2, f.adminID))

	var g errgroup.Group
	results := make([]error, 2)
	g.Go(func() error {
		results[0] = f.service.UnassignRole(ctx, testActor(), 1, f.adminID)
		return nil
	})
	g.Go(func() error {
		results[1] = f.service.UnassignRole(ctx, testActor(), 2, f.adminID)
		return nil
	})
	require.NoError(t, g.Wait())

	failures := 0
	for _, err := range results {
		if err != nil {
			require.ErrorIs(t, err, shared.ErrConflict)
			failures++
		}
	}
	require.Equal(t, 1, failures, "exactly one concurrent removal must be refused")

	count, err := f.store.CountRoleHolders(ctx, f.adminID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTogglePermissionGrantAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, testActor(), "Sellers", "")
	require.NoError(t, err)
	perm, err := f.store.FindPermissionByName(ctx, PermSaleCreate)
	require.NoError(t, err)

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 10, role.ID))
	require.NoError(t, f.service.TogglePermission(ctx, testActor(), role.ID, perm.ID, true))

	perms, err := f.service.UserPermissions(ctx, 10)
	require.NoError(t, err)
	require.Contains(t, perms, PermSaleCreate)

	// Revocation must be visible immediately, not after TTL expiry.
	require.NoError(t, f.service.TogglePermission(ctx, testActor(), role.ID, perm.ID, false))
	perms, err = f.service.UserPermissions(ctx, 10)
	require.NoError(t, err)
	require.NotContains(t, perms, PermSaleCreate)
}

func TestRevokeLastAdminPermissionRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	perms, err := f.service.RolePermissions(ctx, f.adminID)
	require.NoError(t, err)
	require.NotEmpty(t, perms)

	// Strip the admin role down to a single grant.
	for _, p := range perms[:len(perms)-1] {
		require.NoError(t, f.service.TogglePermission(ctx, testActor(), f.adminID, p.ID, false))
	}
	last := perms[len(perms)-1]

	err = f.service.TogglePermission(ctx, testActor(), f.adminID, last.ID, false)
	require.ErrorIs(t, err, shared.ErrConflict)

	remaining, err := f.service.RolePermissions(ctx, f.adminID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestUserPermissionsUnionAcrossRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sales, err := f.service.CreateRole(ctx, testActor(), "Sales", "")
	require.NoError(t, err)
	reports, err := f.service.CreateRole(ctx, testActor(), "Reporting", "")
	require.NoError(t, err)

	salePerm, err := f.store.FindPermissionByName(ctx, PermSaleCreate)
	require.NoError(t, err)
	reportPerm, err := f.store.FindPermissionByName(ctx, PermReportView)
	require.NoError(t, err)
	sharedPerm, err := f.store.FindPermissionByName(ctx, PermDashboardView)
	require.NoError(t, err)

	require.NoError(t, f.service.TogglePermission(ctx, testActor(), sales.ID, salePerm.ID, true))
	require.NoError(t, f.service.TogglePermission(ctx, testActor(), sales.ID, sharedPerm.ID, true))
	require.NoError(t, f.service.TogglePermission(ctx, testActor(), reports.ID, reportPerm.ID, true))
	require.NoError(t, f.service.TogglePermission(ctx, testActor(), reports.ID, sharedPerm.ID, true))

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 42, sales.ID))
	require.NoError(t, f.service.AssignRole(ctx, testActor(), 42, reports.ID))

	perms, err := f.service.UserPermissions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, perms, 3)
	require.Contains(t, perms, PermSaleCreate)
	require.Contains(t, perms, PermReportView)
	require.Contains(t, perms, PermDashboardView)
}

func TestHasPermissionSuperuserBypass(t *testing.T) {
	f := newFixture(t)

	root := shared.Actor{UserID: 1, Superuser: true}
	require.True(t, f.service.HasPermission(context.Background(), root, PermSecurityManage))
	// Even names outside the catalog: the superuser variant short-circuits.
	require.True(t, f.service.HasPermission(context.Background(), root, "made:up"))
}

func TestHasPermissionDeniesAnonymousAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.False(t, f.service.HasPermission(ctx, shared.Actor{}, PermDashboardView))

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 3, f.adminID))
	require.False(t, f.service.HasPermission(ctx, shared.Actor{UserID: 3}, "not:in:catalog"))
}

func TestHasPermissionFailsClosedOnStoreError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AssignRole(ctx, testActor(), 4, f.adminID))
	f.store.mu.Lock()
	f.store.data.failUserPerms = true
	f.store.mu.Unlock()

	require.False(t, f.service.HasPermission(ctx, shared.Actor{UserID: 4}, PermDashboardView))
}

func TestEveryMutationAuditedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := testActor()

	role, err := f.service.CreateRole(ctx, actor, "Audited", "")
	require.NoError(t, err)
	desc := "renamed"
	_, err = f.service.UpdateRole(ctx, actor, role.ID, RolePatch{Description: &desc})
	require.NoError(t, err)
	require.NoError(t, f.service.AssignRole(ctx, actor, 8, role.ID))
	require.NoError(t, f.service.UnassignRole(ctx, actor, 8, role.ID))
	require.NoError(t, f.service.DeleteRole(ctx, actor, role.ID))

	for _, action := range []string{
		ActionRoleCreated,
		ActionRoleUpdated,
		ActionRoleAssigned,
		ActionRoleUnassigned,
		ActionRoleDeleted,
	} {
		entries := f.audits.byAction(action)
		require.Len(t, entries, 1, "action %s", action)
		require.Equal(t, actor.UserID, entries[0].ActorID)
		require.Equal(t, actor.IP, entries[0].IP)
	}
}

func TestFailedMutationNotAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.service.DeleteRole(ctx, testActor(), f.adminID)
	require.Empty(t, f.audits.byAction(ActionRoleDeleted))
}
