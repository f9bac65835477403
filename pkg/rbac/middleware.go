package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/contextkeys"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/httputil"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/middleware"
)

// MsgInsufficientPermissions is the 403 body. Denials carry no detail.
const MsgInsufficientPermissions = "Insufficient permissions"

// ProjectIDVar is the route variable project-scoped guards read
const ProjectIDVar = "project_id"

// PermissionMiddleware guards routes with permission checks. It must run
// after middleware.AuthMiddleware.
type PermissionMiddleware struct {
	checker *Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker *Checker) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker}
}

// RequirePermissions allows the request only if the caller holds every
// listed permission in scope. For ScopeProject the project comes from the
// {project_id} route variable.
func (m *PermissionMiddleware) RequirePermissions(scope Scope, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := middleware.GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, middleware.MsgMissingAuthHeader)
				return
			}

			check := PermissionCheck{
				UserID:      identity.UserID,
				Token:       contextkeys.AccessToken(r.Context()),
				Permissions: permissions,
				Scope:       scope,
			}
			if scope == ScopeProject {
				projectID, err := strconv.ParseInt(mux.Vars(r)[ProjectIDVar], 10, 64)
				if err != nil || projectID <= 0 {
					httputil.WriteBadRequest(w, MsgProjectRequired)
					return
				}
				check.ProjectID = &projectID
			}

			result := m.checker.VerifyPermission(r.Context(), check)
			switch {
			case result.Allowed:
				next.ServeHTTP(w, r)
			case result.Error == MsgTokenExpired || result.Error == MsgInvalidToken:
				httputil.WriteUnauthorized(w, result.Error)
			case result.Error == MsgInvalidScope || result.Error == MsgProjectRequired:
				httputil.WriteBadRequest(w, result.Error)
			case result.Error != "":
				httputil.WriteInternalError(w)
			default:
				httputil.WriteForbidden(w, MsgInsufficientPermissions)
			}
		})
	}
}
