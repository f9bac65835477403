// Package events defines the publish/subscribe contract used to propagate
// auth and RBAC changes to other services, plus the Redis pub/sub transport
// and the consumer for Jira project membership syncs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subjects
const (
	SubjectUserCreated         = "auth.user.created"
	SubjectUserLoggedOut       = "auth.user.logged_out"
	SubjectSystemRoleAssigned  = "rbac.system_role.assigned"
	SubjectProjectRoleAssigned = "rbac.project_role.assigned"
	SubjectRoleDeleted         = "rbac.role.deleted"
	SubjectJiraProjectSynced   = "jira.project.users.synced"
)

// Event is the envelope carried on every subject
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent wraps payload in an envelope with a fresh id
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Decode unmarshals the payload into dest
func (e Event) Decode(dest interface{}) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Handler processes one delivered event
type Handler func(ctx context.Context, event Event) error

// Publisher sends events to a subject
type Publisher interface {
	Publish(ctx context.Context, subject string, event Event) error
}

// Subscriber delivers events on a subject to handler until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) error
}

// NopPublisher discards every event. Used when events are disabled.
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, string, Event) error { return nil }

// UserCreatedPayload is published on SubjectUserCreated
type UserCreatedPayload struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// UserLoggedOutPayload is published on SubjectUserLoggedOut
type UserLoggedOutPayload struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// SystemRoleAssignedPayload is published on SubjectSystemRoleAssigned
type SystemRoleAssignedPayload struct {
	UserID   int64  `json:"user_id"`
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name"`
}

// ProjectRoleAssignedPayload is published on SubjectProjectRoleAssigned
type ProjectRoleAssignedPayload struct {
	UserID    int64  `json:"user_id"`
	ProjectID int64  `json:"project_id"`
	RoleID    int64  `json:"role_id"`
	RoleName  string `json:"role_name"`
}

// RoleDeletedPayload is published on SubjectRoleDeleted
type RoleDeletedPayload struct {
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name"`
}

// JiraProjectUsersSynced is consumed from SubjectJiraProjectSynced
type JiraProjectUsersSynced struct {
	ProjectID int64            `json:"project_id"`
	Users     []JiraSyncedUser `json:"users"`
}

// JiraSyncedUser is one project member as reported by Jira. Role is optional.
type JiraSyncedUser struct {
	JiraAccountID string `json:"jira_account_id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role,omitempty"`
}
