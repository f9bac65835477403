package rbac

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/contextkeys"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/httputil"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/middleware"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

// Permissions guarding the RBAC routes
const (
	PermUsersView     = "system.users.view"
	PermUsersManage   = "system.users.manage"
	PermRolesManage   = "system.roles.manage"
	PermMembersView   = "project.members.view"
	PermMembersManage = "project.members.manage"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	service *RoleService
	checker *Checker
	guard   *PermissionMiddleware
	logger  logrus.FieldLogger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(service *RoleService, checker *Checker, logger logrus.FieldLogger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		service: service,
		checker: checker,
		guard:   NewPermissionMiddleware(checker),
		logger:  logger.WithField("component", "rbac_handlers"),
	}
}

// RegisterRoutes registers all RBAC routes. The router must already run
// middleware.AuthMiddleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	system := func(perm string, fn http.HandlerFunc) http.Handler {
		return h.guard.RequirePermissions(ScopeSystem, perm)(fn)
	}
	project := func(perm string, fn http.HandlerFunc) http.Handler {
		return h.guard.RequirePermissions(ScopeProject, perm)(fn)
	}

	// Role management
	router.Handle("/rbac/roles", system(PermRolesManage, h.CreateRole)).Methods("POST")
	router.Handle("/rbac/roles", system(PermUsersView, h.ListRoles)).Methods("GET")
	router.Handle("/rbac/roles/{id}", system(PermUsersView, h.GetRole)).Methods("GET")
	router.Handle("/rbac/roles/{id}", system(PermRolesManage, h.UpdateRole)).Methods("PUT")
	router.Handle("/rbac/roles/{id}", system(PermRolesManage, h.DeleteRole)).Methods("DELETE")

	// Permissions
	router.Handle("/rbac/permissions", system(PermUsersView, h.ListPermissions)).Methods("GET")
	router.Handle("/rbac/permissions", system(PermRolesManage, h.CreatePermission)).Methods("POST")

	// User assignments
	router.Handle("/rbac/users/{user_id}/system-role", system(PermUsersManage, h.AssignSystemRole)).Methods("PUT")
	router.Handle("/rbac/users/{user_id}/project-roles", system(PermUsersView, h.GetUserProjectRoles)).Methods("GET")

	// Project membership
	router.Handle("/rbac/projects/{project_id}/members", project(PermMembersView, h.GetProjectMembers)).Methods("GET")
	router.Handle("/rbac/projects/{project_id}/users/{user_id}/role", project(PermMembersManage, h.AssignProjectRole)).Methods("PUT")
	router.Handle("/rbac/projects/{project_id}/users/{user_id}/role", project(PermMembersManage, h.RemoveProjectMember)).Methods("DELETE")

	// Checks for the caller
	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
	router.HandleFunc("/rbac/me/permissions", h.GetMyPermissions).Methods("GET")
}

// CreateRole creates a new role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, role)
}

// ListRoles lists roles with paging, search and sorting
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	params := ListRolesParams{
		Search:    r.URL.Query().Get("search"),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}

	var err error
	if params.Page, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if params.PageSize, err = httputil.ParseQueryInt(r, "page_size", 20); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if params.IncludeAll, err = httputil.ParseQueryBool(r, "include_inactive", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if raw := r.URL.Query().Get("is_system_role"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid boolean for query param is_system_role: "+raw)
			return
		}
		params.IsSystemRole = &v
	}

	list, err := h.service.ListRoles(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, list)
}

// GetRole returns one active role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// UpdateRole changes a role's description and/or permission set
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole soft-deletes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListPermissions lists every permission
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perms)
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
}

// CreatePermission registers a permission name
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, perm)
}

type assignRoleRequest struct {
	RoleName string `json:"role_name" validate:"required"`
}

// AssignSystemRole replaces a user's system role
func (h *Handlers) AssignSystemRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.AssignSystemRole(r.Context(), userID, req.RoleName); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserProjectRoles lists a user's project assignments
func (h *Handlers) GetUserProjectRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	list, err := h.service.GetUserProjectRoles(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, assignmentsOrEmpty(list))
}

// GetProjectMembers lists the assignments in a project
func (h *Handlers) GetProjectMembers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, ProjectIDVar)
	if !ok {
		return
	}

	list, err := h.service.GetProjectMembers(r.Context(), projectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, assignmentsOrEmpty(list))
}

// AssignProjectRole sets a user's role in a project
func (h *Handlers) AssignProjectRole(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, ProjectIDVar)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.AssignProjectRole(r.Context(), userID, projectID, req.RoleName); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveProjectMember removes a user from a project
func (h *Handlers) RemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, ProjectIDVar)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.service.RemoveProjectMember(r.Context(), userID, projectID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CheckRequest asks whether the caller holds permissions in a scope
type CheckRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1"`
	Scope       Scope    `json:"scope" validate:"required"`
	ProjectID   *int64   `json:"project_id,omitempty"`
}

// CheckPermission evaluates a permission check for the caller's own token.
// The answer is always 200; the result body says whether it was allowed.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, middleware.MsgMissingAuthHeader)
		return
	}

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result := h.checker.VerifyPermission(r.Context(), PermissionCheck{
		UserID:      identity.UserID,
		Token:       contextkeys.AccessToken(r.Context()),
		Permissions: req.Permissions,
		Scope:       req.Scope,
		ProjectID:   req.ProjectID,
	})
	_ = httputil.WriteSuccess(w, result)
}

// MyPermissions is the body of GET /rbac/me/permissions
type MyPermissions struct {
	Scope       Scope    `json:"scope"`
	ProjectID   *int64   `json:"project_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// GetMyPermissions lists the caller's permissions in a scope
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, middleware.MsgMissingAuthHeader)
		return
	}

	scope := Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = ScopeSystem
	}
	if !scope.Valid() {
		httputil.WriteBadRequest(w, MsgInvalidScope)
		return
	}

	var projectID *int64
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httputil.WriteBadRequest(w, "invalid project_id: "+raw)
			return
		}
		projectID = &id
	}
	if scope == ScopeProject && projectID == nil {
		httputil.WriteBadRequest(w, MsgProjectRequired)
		return
	}

	perms, err := h.checker.GetUserPermissions(r.Context(), identity.UserID, scope, projectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, MyPermissions{Scope: scope, ProjectID: projectID, Permissions: perms})
}

// writeError maps service errors to HTTP responses
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *InvalidPermissionsError
	switch {
	case errors.As(err, &invalid):
		httputil.WriteBadRequest(w, invalid.Error())
	case errors.Is(err, ErrInvalidRoleName), errors.Is(err, ErrInvalidPermissionName):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrAssignmentNotFound), errors.Is(err, users.ErrUserNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrRoleAlreadyExists), errors.Is(err, ErrPermissionAlreadyExists),
		errors.Is(err, ErrAssignmentExists), errors.Is(err, ErrRoleKind):
		httputil.WriteConflict(w, err.Error())
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("RBAC request failed")
		httputil.WriteInternalError(w)
	}
}

func assignmentsOrEmpty(list []*UserProjectRole) []*UserProjectRole {
	if list == nil {
		return []*UserProjectRole{}
	}
	return list
}
