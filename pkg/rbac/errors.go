package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRoleNotFound            = errors.New("role not found")
	ErrRoleAlreadyExists       = errors.New("role already exists")
	ErrInvalidRoleName         = errors.New("role name must be non-empty and contain only letters, digits, underscore or hyphen")
	ErrPermissionAlreadyExists = errors.New("permission already exists")
	ErrInvalidPermissionName   = errors.New("invalid permission name")
	ErrAssignmentNotFound      = errors.New("project role assignment not found")
	ErrAssignmentExists        = errors.New("project role assignment already exists")

	// ErrRoleKind is the parent of both kind mismatch errors
	ErrRoleKind = errors.New("role kind mismatch")
	// ErrNotSystemRole is returned when a project role is assigned as a system role
	ErrNotSystemRole = fmt.Errorf("%w: not a system role", ErrRoleKind)
	// ErrRoleIsSystemRole is returned when a system role is assigned to a project
	ErrRoleIsSystemRole = fmt.Errorf("%w: system roles cannot be assigned to a project", ErrRoleKind)
)

// InvalidPermissionsError lists permission names that do not exist
type InvalidPermissionsError struct {
	Missing []string
}

func (e *InvalidPermissionsError) Error() string {
	return "invalid permissions: " + strings.Join(e.Missing, ", ")
}
