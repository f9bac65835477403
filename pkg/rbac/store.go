package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/postgres"
)

const roleColumns = `id, name, description, is_system_role, is_active, created_at, updated_at`

// Store handles RBAC data persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateRole inserts a role and links it to permissionIDs in one transaction
func (s *Store) CreateRole(ctx context.Context, role *Role, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	query := `
		INSERT INTO roles (name, description, is_system_role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		role.IsSystemRole,
		role.IsActive,
		now,
		now,
	).Scan(&role.ID)
	if postgres.IsUniqueViolation(err) {
		return ErrRoleAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	if err := linkPermissions(ctx, tx, role.ID, permissionIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

func linkPermissions(ctx context.Context, tx *sql.Tx, roleID int64, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)",
			roleID, permID,
		)
		if err != nil {
			return fmt.Errorf("failed to link permission %d: %w", permID, err)
		}
	}
	return nil
}

// GetRole retrieves a role, active or not, by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.getRole(ctx, "id = $1", roleID)
}

// GetRoleByName retrieves a role, active or not, by its normalized name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.getRole(ctx, "name = $1", strings.ToLower(name))
}

func (s *Store) getRole(ctx context.Context, where string, arg interface{}) (*Role, error) {
	query := "SELECT " + roleColumns + " FROM roles WHERE " + where

	role, err := scanRole(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	perms, err := s.permissionsForRoles(ctx, []int64{role.ID})
	if err != nil {
		return nil, err
	}
	role.Permissions = permissionsOrEmpty(perms[role.ID])
	return role, nil
}

// UpdateRole changes the description when non-nil and, if replacePermissions
// is set, swaps the whole permission set for permissionIDs atomically.
func (s *Store) UpdateRole(ctx context.Context, roleID int64, description *string, permissionIDs []int64, replacePermissions bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result sql.Result
	if description != nil {
		result, err = tx.ExecContext(ctx,
			"UPDATE roles SET description = $1, updated_at = $2 WHERE id = $3",
			*description, s.now(), roleID,
		)
	} else {
		result, err = tx.ExecContext(ctx,
			"UPDATE roles SET updated_at = $1 WHERE id = $2",
			s.now(), roleID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if err := requireRow(result, ErrRoleNotFound); err != nil {
		return err
	}

	if replacePermissions {
		if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = $1", roleID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		if err := linkPermissions(ctx, tx, roleID, permissionIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role update: %w", err)
	}
	return nil
}

// DeactivateRole soft-deletes a role. Assignments referencing it are kept.
func (s *Store) DeactivateRole(ctx context.Context, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE roles SET is_active = $1, updated_at = $2 WHERE id = $3",
		false, s.now(), roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate role: %w", err)
	}
	return requireRow(result, ErrRoleNotFound)
}

// ListRoles returns one page of roles and the total match count. Inactive
// roles are skipped unless params.IncludeAll is set.
func (s *Store) ListRoles(ctx context.Context, params ListRolesParams) ([]*Role, int, error) {
	params.Normalize()

	var conditions []string
	var args []interface{}

	if !params.IncludeAll {
		args = append(args, true)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if search := strings.TrimSpace(params.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(description) LIKE $%d)", n, n))
	}
	if params.IsSystemRole != nil {
		args = append(args, *params.IsSystemRole)
		conditions = append(conditions, fmt.Sprintf("is_system_role = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count roles: %w", err)
	}

	// SortBy is whitelisted by Normalize
	order := fmt.Sprintf("%s %s, id ASC", roleSortColumns[params.SortBy], strings.ToUpper(params.SortOrder))
	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)
	query := fmt.Sprintf("SELECT %s FROM roles%s ORDER BY %s LIMIT $%d OFFSET $%d",
		roleColumns, where, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list roles: %w", err)
	}

	var roles []*Role
	var ids []int64
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
		ids = append(ids, role.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, fmt.Errorf("failed to iterate roles: %w", err)
	}
	rows.Close()

	perms, err := s.permissionsForRoles(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, role := range roles {
		role.Permissions = permissionsOrEmpty(perms[role.ID])
	}

	return roles, total, nil
}

// permissionsForRoles loads sorted permission names keyed by role id
func (s *Store) permissionsForRoles(ctx context.Context, roleIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `
		SELECT rp.role_id, p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY p.name
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		var name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		result[roleID] = append(result[roleID], name)
	}
	return result, rows.Err()
}

// CreatePermission inserts a permission
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO permissions (name, description, created_at) VALUES ($1, $2, $3) RETURNING id",
		perm.Name, perm.Description, now,
	).Scan(&perm.ID)
	if postgres.IsUniqueViolation(err) {
		return ErrPermissionAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	perm.CreatedAt = now
	return nil
}

// ListPermissions returns every permission ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, description, created_at FROM permissions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// ResolvePermissions maps names to ids. Unknown names are returned sorted in
// missing; the caller decides whether that is fatal.
func (s *Store) ResolvePermissions(ctx context.Context, names []string) (ids []int64, missing []string, err error) {
	if len(names) == 0 {
		return nil, nil, nil
	}

	unique := make(map[string]struct{}, len(names))
	placeholders := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		if _, seen := unique[name]; seen {
			continue
		}
		unique[name] = struct{}{}
		args = append(args, name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := "SELECT id, name FROM permissions WHERE name IN (" + strings.Join(placeholders, ", ") + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(unique))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		found[name] = true
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	for name := range unique {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return ids, missing, nil
}

// GetUserPermissionNames returns the permission names a user holds in scope.
// Inactive roles contribute nothing.
func (s *Store) GetUserPermissionNames(ctx context.Context, userID int64, scope Scope, projectID *int64) ([]string, error) {
	var query string
	var args []interface{}

	switch scope {
	case ScopeSystem:
		query = `
			SELECT p.name
			FROM users u
			JOIN roles r ON r.id = u.system_role_id
			JOIN role_permissions rp ON rp.role_id = r.id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE u.id = $1 AND r.is_active = $2
		`
		args = []interface{}{userID, true}
	case ScopeProject:
		if projectID == nil {
			return nil, fmt.Errorf("project scope requires a project id")
		}
		query = `
			SELECT p.name
			FROM user_project_roles upr
			JOIN roles r ON r.id = upr.role_id
			JOIN role_permissions rp ON rp.role_id = r.id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE upr.user_id = $1 AND upr.project_id = $2 AND r.is_active = $3
		`
		args = []interface{}{userID, *projectID, true}
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

const assignmentQuery = `
	SELECT upr.id, upr.user_id, upr.project_id, upr.role_id, r.name, upr.created_at, upr.updated_at
	FROM user_project_roles upr
	JOIN roles r ON r.id = upr.role_id
`

// GetProjectAssignment returns the assignment for (userID, projectID)
func (s *Store) GetProjectAssignment(ctx context.Context, userID, projectID int64) (*UserProjectRole, error) {
	row := s.db.QueryRowContext(ctx, assignmentQuery+"WHERE upr.user_id = $1 AND upr.project_id = $2", userID, projectID)

	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project assignment: %w", err)
	}
	return a, nil
}

// InsertProjectAssignment creates an assignment. A concurrent insert for the
// same pair surfaces as ErrAssignmentExists.
func (s *Store) InsertProjectAssignment(ctx context.Context, a *UserProjectRole) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_project_roles (user_id, project_id, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.UserID, a.ProjectID, a.RoleID, now, now).Scan(&a.ID)
	if postgres.IsUniqueViolation(err) {
		return ErrAssignmentExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert project assignment: %w", err)
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// UpdateProjectAssignmentRole points an existing assignment at roleID
func (s *Store) UpdateProjectAssignmentRole(ctx context.Context, userID, projectID, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE user_project_roles SET role_id = $1, updated_at = $2 WHERE user_id = $3 AND project_id = $4",
		roleID, s.now(), userID, projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project assignment: %w", err)
	}
	return requireRow(result, ErrAssignmentNotFound)
}

// DeleteProjectAssignment removes a user from a project
func (s *Store) DeleteProjectAssignment(ctx context.Context, userID, projectID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM user_project_roles WHERE user_id = $1 AND project_id = $2",
		userID, projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete project assignment: %w", err)
	}
	return requireRow(result, ErrAssignmentNotFound)
}

// ListUserAssignments returns every project assignment of a user
func (s *Store) ListUserAssignments(ctx context.Context, userID int64) ([]*UserProjectRole, error) {
	return s.listAssignments(ctx, "WHERE upr.user_id = $1 ORDER BY upr.project_id", userID)
}

// ListProjectAssignments returns every member assignment of a project
func (s *Store) ListProjectAssignments(ctx context.Context, projectID int64) ([]*UserProjectRole, error) {
	return s.listAssignments(ctx, "WHERE upr.project_id = $1 ORDER BY upr.user_id", projectID)
}

func (s *Store) listAssignments(ctx context.Context, tail string, arg interface{}) ([]*UserProjectRole, error) {
	rows, err := s.db.QueryContext(ctx, assignmentQuery+tail, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list project assignments: %w", err)
	}
	defer rows.Close()

	var list []*UserProjectRole
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project assignment: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsSystemRole,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func scanAssignment(row rowScanner) (*UserProjectRole, error) {
	var a UserProjectRole
	err := row.Scan(&a.ID, &a.UserID, &a.ProjectID, &a.RoleID, &a.RoleName, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func permissionsOrEmpty(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
