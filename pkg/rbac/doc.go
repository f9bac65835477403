// Package rbac resolves and manages role-based permissions.
//
// # Model
//
// A Permission is a dot-namespaced capability such as "project.tasks.manage".
// A Role is a named set of permissions and is either a system role or a
// project role. Each user holds at most one system role (users.system_role_id)
// and at most one role per project (user_project_roles, unique on user and
// project).
//
// # Scopes
//
// Every check is evaluated in exactly one scope:
//
//	ScopeSystem   - permissions of the user's system role
//	ScopeProject  - permissions of the user's role in one project
//
// There is no inheritance between the two. A system administrator holds no
// project permissions unless they are also assigned a project role.
//
// # Checks
//
// Checker.VerifyPermission requires every requested permission (AND). Results
// are memoized under
//
//	perm:{user_id}:{scope}[:{project_id}]:{sorted,permissions}
//
// for DefaultPermissionCacheTTL. A cache hit skips token verification; a miss
// verifies the presented access token, requires it to belong to the checked
// user, and then reads the store. Checks never return an error:
//
//	result := checker.VerifyPermission(ctx, rbac.PermissionCheck{
//		UserID:      42,
//		Token:       accessToken,
//		Permissions: []string{"project.tasks.manage"},
//		Scope:       rbac.ScopeProject,
//		ProjectID:   &projectID,
//	})
//	if !result.Allowed {
//		// result.Error is empty for a plain denial
//	}
//
// # Assignment
//
// RoleService enforces the assignment rules. Assigning a project role is an
// upsert, so repeating it is harmless. A system role cannot be assigned on
// the project path when ServiceConfig.EnforceProjectRoleKind is set, and a
// project role can never become a system role. Inactive (deleted) roles
// cannot be assigned and grant nothing to existing holders.
//
// Every mutation purges the affected cache entries: a user's entries when an
// assignment changes, all entries when a role's permissions change.
//
// # HTTP
//
// Handlers.RegisterRoutes mounts the /rbac routes, each guarded by
// PermissionMiddleware.RequirePermissions. The seed in default_seed.yaml is
// applied at startup by ApplySeed.
package rbac
