package rbac

import (
	"regexp"
	"strings"
	"time"
)

// Scope is the context a permission check is evaluated in
type Scope string

const (
	// ScopeSystem resolves through the user's system role
	ScopeSystem Scope = "system"
	// ScopeProject resolves through the user's assignment in one project
	ScopeProject Scope = "project"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	return s == ScopeSystem || s == ScopeProject
}

// Role is a named permission bundle
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	IsSystemRole bool      `json:"is_system_role"`
	IsActive     bool      `json:"is_active"`
	Permissions  []string  `json:"permissions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPermission checks if the role holds a permission by name
func (r *Role) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Permission is an atomic capability, e.g. "system.users.manage"
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserProjectRole ties one user to one role within one project
type UserProjectRole struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	RoleID    int64     `json:"role_id"`
	RoleName  string    `json:"role_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PermissionCheck represents a request to check permissions
type PermissionCheck struct {
	UserID      int64
	Token       string
	Permissions []string
	Scope       Scope
	ProjectID   *int64
}

// Messages carried in PermissionResult.Error
const (
	MsgInvalidToken      = "Invalid token"
	MsgTokenExpired      = "Token expired"
	MsgInvalidScope      = "Invalid scope"
	MsgProjectRequired   = "Project ID is required for project scope"
	MsgCheckFailed       = "Permission check failed"
	MsgInvalidPermission = "Invalid permission name"
)

// PermissionResult is the outcome of a permission check. Checks never fail;
// problems are reported through Error with Allowed=false.
type PermissionResult struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

// Sortable role columns
var roleSortColumns = map[string]string{
	"name":        "name",
	"description": "description",
	"created_at":  "created_at",
	"updated_at":  "updated_at",
}

// ListRolesParams controls role listing
type ListRolesParams struct {
	Page         int
	PageSize     int
	Search       string
	SortBy       string
	SortOrder    string
	IsSystemRole *bool
	IncludeAll   bool // include inactive roles
}

// Normalize applies defaults and clamps invalid values
func (p *ListRolesParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	if _, ok := roleSortColumns[p.SortBy]; !ok {
		p.SortBy = "name"
	}
	p.SortOrder = strings.ToLower(p.SortOrder)
	if p.SortOrder != "desc" {
		p.SortOrder = "asc"
	}
}

// RoleList is one page of roles
type RoleList struct {
	Items    []*Role `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

var (
	roleNamePattern       = regexp.MustCompile(`^[a-z0-9_-]+$`)
	permissionNamePattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)
)

// NormalizeRoleName lowercases and validates a role name
func NormalizeRoleName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !roleNamePattern.MatchString(name) {
		return "", ErrInvalidRoleName
	}
	return name, nil
}

// ValidPermissionName reports whether name is a dot-namespaced permission name
func ValidPermissionName(name string) bool {
	return permissionNamePattern.MatchString(name)
}
