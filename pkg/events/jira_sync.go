package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

// UserDirectory is the slice of the user store the sync consumer needs
type UserDirectory interface {
	GetByJiraAccountID(ctx context.Context, accountID string) (*users.User, error)
	GetByEmail(ctx context.Context, email string) (*users.User, error)
	Create(ctx context.Context, user *users.User) error
	LinkJira(ctx context.Context, id int64, accountID string) error
}

// RoleAssigner applies roles to discovered project members
type RoleAssigner interface {
	AssignSystemRole(ctx context.Context, userID int64, roleName string) error
	AssignProjectRole(ctx context.Context, userID, projectID int64, roleName string) error
}

// JiraSyncConsumer turns Jira project membership syncs into project role
// assignments, creating password-less users for members not seen before.
type JiraSyncConsumer struct {
	users              UserDirectory
	roles              RoleAssigner
	defaultSystemRole  string
	defaultProjectRole string
	emitter            *Emitter
	logger             logrus.FieldLogger
}

// JiraSyncConfig names the roles given to discovered members
type JiraSyncConfig struct {
	DefaultSystemRole  string
	DefaultProjectRole string
}

// NewJiraSyncConsumer creates a consumer
func NewJiraSyncConsumer(dir UserDirectory, roles RoleAssigner, cfg JiraSyncConfig, emitter *Emitter, logger logrus.FieldLogger) *JiraSyncConsumer {
	if logger == nil {
		logger = logrus.New()
	}
	return &JiraSyncConsumer{
		users:              dir,
		roles:              roles,
		defaultSystemRole:  cfg.DefaultSystemRole,
		defaultProjectRole: cfg.DefaultProjectRole,
		emitter:            emitter,
		logger:             logger.WithField("component", "jira_sync"),
	}
}

// Start subscribes the consumer to SubjectJiraProjectSynced
func (c *JiraSyncConsumer) Start(ctx context.Context, sub Subscriber) error {
	return sub.Subscribe(ctx, SubjectJiraProjectSynced, c.Handle)
}

// Handle processes one sync event. Members are handled independently; the
// returned error joins every per-member failure.
func (c *JiraSyncConsumer) Handle(ctx context.Context, event Event) error {
	var payload JiraProjectUsersSynced
	if err := event.Decode(&payload); err != nil {
		return err
	}
	if payload.ProjectID <= 0 {
		return fmt.Errorf("invalid project id %d in event %s", payload.ProjectID, event.ID)
	}

	var errs []error
	assigned := 0
	for _, member := range payload.Users {
		if err := c.syncMember(ctx, payload.ProjectID, member); err != nil {
			errs = append(errs, fmt.Errorf("member %q: %w", member.JiraAccountID, err))
			continue
		}
		assigned++
	}

	c.logger.WithFields(logrus.Fields{
		"project_id": payload.ProjectID,
		"assigned":   assigned,
		"failed":     len(errs),
	}).Info("Processed Jira project sync")

	return errors.Join(errs...)
}

func (c *JiraSyncConsumer) syncMember(ctx context.Context, projectID int64, member JiraSyncedUser) error {
	user, err := c.resolveUser(ctx, member)
	if err != nil {
		return err
	}

	role := strings.TrimSpace(member.Role)
	if role == "" {
		role = c.defaultProjectRole
	}
	return c.roles.AssignProjectRole(ctx, user.ID, projectID, role)
}

// resolveUser matches by Jira account id, then by email (linking the
// account), and otherwise creates the user.
func (c *JiraSyncConsumer) resolveUser(ctx context.Context, member JiraSyncedUser) (*users.User, error) {
	if member.JiraAccountID != "" {
		user, err := c.users.GetByJiraAccountID(ctx, member.JiraAccountID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, users.ErrUserNotFound) {
			return nil, err
		}
	}

	if member.Email == "" {
		return nil, fmt.Errorf("cannot match member without email")
	}

	user, err := c.users.GetByEmail(ctx, member.Email)
	if err == nil {
		if member.JiraAccountID != "" && user.JiraAccountID == nil {
			if err := c.users.LinkJira(ctx, user.ID, member.JiraAccountID); err != nil {
				return nil, err
			}
		}
		return user, nil
	}
	if !errors.Is(err, users.ErrUserNotFound) {
		return nil, err
	}

	user = &users.User{
		Email:    member.Email,
		Name:     member.Name,
		IsActive: true,
	}
	if member.JiraAccountID != "" {
		accountID := member.JiraAccountID
		user.JiraAccountID = &accountID
	}
	if err := c.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if c.defaultSystemRole != "" {
		if err := c.roles.AssignSystemRole(ctx, user.ID, c.defaultSystemRole); err != nil {
			return nil, err
		}
	}

	c.emitter.Emit(ctx, SubjectUserCreated, UserCreatedPayload{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Source: "jira_sync",
	})
	return user, nil
}
