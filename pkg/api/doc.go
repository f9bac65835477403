// Package api is the HTTP surface of the auth service.
//
// # Routes
//
// Server composes three route groups on one gorilla/mux router:
//
//   - /auth: login, registration, refresh, logout, the current user, SSO
//     callbacks and external provider access tokens (AuthHandlers)
//   - /rbac: role, permission and assignment management plus permission
//     checks (rbac.Handlers), all behind bearer authentication
//   - /health and /metrics when a health checker and gatherer are supplied
//
// The credential endpoints (login, register, refresh, SSO callback) run
// behind the rate limiter when one is configured.
//
// # Usage
//
//	server := api.NewServer(api.ServerDeps{
//		Auth:           authService,
//		ProviderTokens: providerTokens,
//		Users:          userStore,
//		Verifier:       tokenService,
//		RoleService:    roleService,
//		Checker:        checker,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Errors
//
// Every failure is a JSON body of the form {"error": "..."}. Invalid or
// expired tokens and bad credentials are 401, inactive accounts 403,
// duplicate emails 409 and unknown SSO providers 404. A provider token that
// cannot be obtained is 502; the client has to repeat the provider sign-in.
package api
