// Package users is the credential store: user identities, password hashes
// and external SSO linkage.
package users

import "time"

// User is an identity record. Users are deactivated, never hard-deleted.
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  *string   `json:"-"`
	IsActive      bool      `json:"is_active"`
	SystemRoleID  *int64    `json:"system_role_id,omitempty"`
	MicrosoftID   *string   `json:"microsoft_id,omitempty"`
	JiraAccountID *string   `json:"jira_account_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPassword reports whether the account can use password login
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// ListParams controls paging and search for List
type ListParams struct {
	Page     int
	PageSize int
	// Search matches email or name, case-insensitively
	Search     string
	OnlyActive bool
}

// Normalize applies defaults and bounds
func (p *ListParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}
