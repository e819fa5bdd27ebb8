package users

import (
	"context"
	"sort"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]UserWithRoles, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// PermissionResolver resolves a user's effective permission names.
type PermissionResolver interface {
	UserPermissions(ctx context.Context, userID int64) (map[string]struct{}, error)
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	perms PermissionResolver
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, perms PermissionResolver) *Service {
	return &Service{repo: repo, perms: perms}
}

// ListUsers returns all users with their roles.
func (s *Service) ListUsers(ctx context.Context) ([]UserWithRoles, error) {
	return s.repo.ListUsers(ctx)
}

// EffectivePermissions returns the union of permissions granted through a
// user's roles. The user must exist.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	set, err := s.perms.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
