// Package sso exchanges external identity provider authorization codes for
// identities and refreshes provider access tokens.
//
// Two providers are supported:
//
//   - MicrosoftProvider: Azure AD via OpenID Connect. The id_token is
//     verified with go-oidc and the object id becomes the external id.
//   - JiraProvider: Atlassian OAuth 2.0 (3LO). The profile is read from the
//     api.atlassian.com /me endpoint.
//
// Redirect URL construction and state handling belong to the caller; this
// package only sees the authorization code.
package sso
