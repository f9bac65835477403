package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/events"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

// UserRoleStore is the slice of the user store role assignment needs
type UserRoleStore interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
	SetSystemRole(ctx context.Context, id int64, roleID int64) error
}

// Invalidator drops cached permission checks
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// ServiceConfig controls role assignment policy
type ServiceConfig struct {
	// EnforceProjectRoleKind rejects system roles on the project path
	EnforceProjectRoleKind bool
}

// RoleService manages roles, permissions and their assignment to users
type RoleService struct {
	store       *Store
	users       UserRoleStore
	invalidator Invalidator
	emitter     *events.Emitter
	logger      logrus.FieldLogger
	config      ServiceConfig
}

// NewRoleService creates a role service. emitter may be nil.
func NewRoleService(store *Store, userStore UserRoleStore, invalidator Invalidator, emitter *events.Emitter, logger logrus.FieldLogger, cfg ServiceConfig) *RoleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RoleService{
		store:       store,
		users:       userStore,
		invalidator: invalidator,
		emitter:     emitter,
		logger:      logger.WithField("component", "rbac"),
		config:      cfg,
	}
}

// activeRole resolves a role by name. Inactive roles are reported as missing.
func (s *RoleService) activeRole(ctx context.Context, roleName string) (*Role, error) {
	name := strings.ToLower(strings.TrimSpace(roleName))
	if name == "" {
		return nil, ErrRoleNotFound
	}
	role, err := s.store.GetRoleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !role.IsActive || role.ID == 0 {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// AssignSystemRole sets the user's system role, replacing any previous one
func (s *RoleService) AssignSystemRole(ctx context.Context, userID int64, roleName string) error {
	role, err := s.activeRole(ctx, roleName)
	if err != nil {
		return err
	}
	if !role.IsSystemRole {
		return fmt.Errorf("%w: %s", ErrNotSystemRole, role.Name)
	}

	if err := s.users.SetSystemRole(ctx, userID, role.ID); err != nil {
		return err
	}

	s.invalidateUser(ctx, userID)
	s.logger.WithFields(logrus.Fields{"user_id": userID, "role": role.Name}).Info("Assigned system role")
	s.emitter.Emit(ctx, events.SubjectSystemRoleAssigned, events.SystemRoleAssignedPayload{
		UserID:   userID,
		RoleID:   role.ID,
		RoleName: role.Name,
	})
	return nil
}

// AssignProjectRole gives the user exactly one role in the project. An
// existing assignment is updated in place, so repeating a call is a no-op.
func (s *RoleService) AssignProjectRole(ctx context.Context, userID, projectID int64, roleName string) error {
	role, err := s.activeRole(ctx, roleName)
	if err != nil {
		return err
	}
	if s.config.EnforceProjectRoleKind && role.IsSystemRole {
		return fmt.Errorf("%w: %s", ErrRoleIsSystemRole, role.Name)
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}

	existing, err := s.store.GetProjectAssignment(ctx, userID, projectID)
	switch {
	case err == nil:
		if existing.RoleID != role.ID {
			err = s.store.UpdateProjectAssignmentRole(ctx, userID, projectID, role.ID)
		}
	case errors.Is(err, ErrAssignmentNotFound):
		err = s.store.InsertProjectAssignment(ctx, &UserProjectRole{UserID: userID, ProjectID: projectID, RoleID: role.ID})
		if errors.Is(err, ErrAssignmentExists) {
			// Lost an insert race; the winner's row gets our role
			err = s.store.UpdateProjectAssignmentRole(ctx, userID, projectID, role.ID)
		}
	}
	if err != nil {
		return err
	}

	s.invalidateUser(ctx, userID)
	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"project_id": projectID,
		"role":       role.Name,
	}).Info("Assigned project role")
	s.emitter.Emit(ctx, events.SubjectProjectRoleAssigned, events.ProjectRoleAssignedPayload{
		UserID:    userID,
		ProjectID: projectID,
		RoleID:    role.ID,
		RoleName:  role.Name,
	})
	return nil
}

// RemoveProjectMember deletes the user's assignment in the project
func (s *RoleService) RemoveProjectMember(ctx context.Context, userID, projectID int64) error {
	if err := s.store.DeleteProjectAssignment(ctx, userID, projectID); err != nil {
		return err
	}
	s.invalidateUser(ctx, userID)
	s.logger.WithFields(logrus.Fields{"user_id": userID, "project_id": projectID}).Info("Removed project member")
	return nil
}

// GetUserProjectRoles lists the user's project assignments
func (s *RoleService) GetUserProjectRoles(ctx context.Context, userID int64) ([]*UserProjectRole, error) {
	return s.store.ListUserAssignments(ctx, userID)
}

// GetProjectMembers lists the assignments in one project
func (s *RoleService) GetProjectMembers(ctx context.Context, projectID int64) ([]*UserProjectRole, error) {
	return s.store.ListProjectAssignments(ctx, projectID)
}

// CreateRoleInput describes a role to create
type CreateRoleInput struct {
	Name         string   `json:"name" validate:"required,max=255"`
	Description  string   `json:"description"`
	IsSystemRole bool     `json:"is_system_role"`
	Permissions  []string `json:"permissions"`
}

// CreateRole creates a role with a fully resolved permission set
func (s *RoleService) CreateRole(ctx context.Context, input CreateRoleInput) (*Role, error) {
	name, err := NormalizeRoleName(input.Name)
	if err != nil {
		return nil, err
	}

	permIDs, err := s.resolvePermissions(ctx, input.Permissions)
	if err != nil {
		return nil, err
	}

	role := &Role{
		Name:         name,
		Description:  input.Description,
		IsSystemRole: input.IsSystemRole,
		IsActive:     true,
	}
	if err := s.store.CreateRole(ctx, role, permIDs); err != nil {
		if errors.Is(err, ErrRoleAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrRoleAlreadyExists, name)
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"role": name, "system": role.IsSystemRole}).Info("Created role")
	return s.store.GetRole(ctx, role.ID)
}

// UpdateRoleInput describes a role change. Nil fields are left alone.
type UpdateRoleInput struct {
	Description *string   `json:"description"`
	Permissions *[]string `json:"permissions"`
}

// UpdateRole changes an active role's description and/or permission set
func (s *RoleService) UpdateRole(ctx context.Context, roleID int64, input UpdateRoleInput) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	var permIDs []int64
	replace := input.Permissions != nil
	if replace {
		permIDs, err = s.resolvePermissions(ctx, *input.Permissions)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateRole(ctx, role.ID, input.Description, permIDs, replace); err != nil {
		return nil, err
	}

	if replace {
		s.invalidateAll(ctx)
	}
	s.logger.WithField("role", role.Name).Info("Updated role")
	return s.store.GetRole(ctx, role.ID)
}

// DeleteRole soft-deletes a role. Users keep their assignment rows but the
// role no longer grants anything.
func (s *RoleService) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateRole(ctx, roleID); err != nil {
		return err
	}

	s.invalidateAll(ctx)
	s.logger.WithField("role", role.Name).Info("Deactivated role")
	s.emitter.Emit(ctx, events.SubjectRoleDeleted, events.RoleDeletedPayload{RoleID: role.ID, RoleName: role.Name})
	return nil
}

// GetRole returns an active role
func (s *RoleService) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// ListRoles returns one page of roles
func (s *RoleService) ListRoles(ctx context.Context, params ListRolesParams) (*RoleList, error) {
	params.Normalize()
	roles, total, err := s.store.ListRoles(ctx, params)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []*Role{}
	}
	return &RoleList{Items: roles, Total: total, Page: params.Page, PageSize: params.PageSize}, nil
}

// ListPermissions returns every permission
func (s *RoleService) ListPermissions(ctx context.Context) ([]*Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []*Permission{}
	}
	return perms, nil
}

// CreatePermission registers a new permission name
func (s *RoleService) CreatePermission(ctx context.Context, name, description string) (*Permission, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !ValidPermissionName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPermissionName, name)
	}

	perm := &Permission{Name: name, Description: description}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	s.logger.WithField("permission", name).Info("Created permission")
	return perm, nil
}

func (s *RoleService) resolvePermissions(ctx context.Context, names []string) ([]int64, error) {
	ids, missing, err := s.store.ResolvePermissions(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &InvalidPermissionsError{Missing: missing}
	}
	return ids, nil
}

// Cache invalidation failures are logged; the TTL still bounds staleness.
func (s *RoleService) invalidateUser(ctx context.Context, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WithError(err).Warn("Permission cache invalidation failed")
	}
}

func (s *RoleService) invalidateAll(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateAll(ctx); err != nil {
		s.logger.WithError(err).Warn("Permission cache invalidation failed")
	}
}
