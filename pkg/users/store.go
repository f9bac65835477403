package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/postgres"
)

const userColumns = `id, email, name, password_hash, is_active, system_role_id, microsoft_id, jira_account_id, created_at, updated_at`

// Store handles user persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// NormalizeEmail lowercases and trims an address for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a user. Email is normalized; ID and timestamps are filled in.
func (s *Store) Create(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	now := s.now()

	query := `
		INSERT INTO users (email, name, password_hash, is_active, system_role_id, microsoft_id, jira_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.IsActive,
		user.SystemRoleID,
		user.MicrosoftID,
		user.JiraAccountID,
		now,
		now,
	).Scan(&user.ID)
	if err != nil {
		return mapUniqueErr(err, "failed to create user")
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByID retrieves a user by ID
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.getOne(ctx, "id = $1", id)
}

// GetByEmail retrieves a user by email, case-insensitively
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, "email = $1", NormalizeEmail(email))
}

// GetByMicrosoftID retrieves a user by Azure AD object id
func (s *Store) GetByMicrosoftID(ctx context.Context, microsoftID string) (*User, error) {
	return s.getOne(ctx, "microsoft_id = $1", microsoftID)
}

// GetByJiraAccountID retrieves a user by Atlassian account id
func (s *Store) GetByJiraAccountID(ctx context.Context, accountID string) (*User, error) {
	return s.getOne(ctx, "jira_account_id = $1", accountID)
}

func (s *Store) getOne(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + where

	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateProfile changes the display name
func (s *Store) UpdateProfile(ctx context.Context, id int64, name string) error {
	return s.update(ctx, id, "name = $1", name)
}

// SetActive activates or deactivates a user
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, id, "is_active = $1", active)
}

// SetSystemRole points the user at a system role. The role kind is checked by the caller.
func (s *Store) SetSystemRole(ctx context.Context, id int64, roleID int64) error {
	return s.update(ctx, id, "system_role_id = $1", roleID)
}

// SetPasswordHash replaces the stored bcrypt hash
func (s *Store) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.update(ctx, id, "password_hash = $1", hash)
}

// LinkMicrosoft attaches an Azure AD identity
func (s *Store) LinkMicrosoft(ctx context.Context, id int64, microsoftID string) error {
	return s.update(ctx, id, "microsoft_id = $1", microsoftID)
}

// LinkJira attaches an Atlassian identity
func (s *Store) LinkJira(ctx context.Context, id int64, accountID string) error {
	return s.update(ctx, id, "jira_account_id = $1", accountID)
}

// update sets one column. set must reference $1; id and updated_at bind to $2 and $3.
func (s *Store) update(ctx context.Context, id int64, set string, value interface{}) error {
	query := "UPDATE users SET " + set + ", updated_at = $2 WHERE id = $3"

	result, err := s.db.ExecContext(ctx, query, value, s.now(), id)
	if err != nil {
		return mapUniqueErr(err, "failed to update user")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List returns one page of users and the total match count
func (s *Store) List(ctx context.Context, params ListParams) ([]*User, int, error) {
	params.Normalize()

	var conditions []string
	var args []interface{}

	if search := strings.TrimSpace(params.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(name) LIKE $%d)", n, n))
	}
	if params.OnlyActive {
		args = append(args, true)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)
	query := fmt.Sprintf("SELECT %s FROM users%s ORDER BY id LIMIT $%d OFFSET $%d",
		userColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var list []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		list = append(list, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate users: %w", err)
	}

	return list, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var passwordHash, microsoftID, jiraAccountID sql.NullString
	var systemRoleID sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&passwordHash,
		&user.IsActive,
		&systemRoleID,
		&microsoftID,
		&jiraAccountID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if systemRoleID.Valid {
		id := systemRoleID.Int64
		user.SystemRoleID = &id
	}
	if microsoftID.Valid {
		user.MicrosoftID = &microsoftID.String
	}
	if jiraAccountID.Valid {
		user.JiraAccountID = &jiraAccountID.String
	}

	return &user, nil
}

func mapUniqueErr(err error, msg string) error {
	if !postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if strings.Contains(postgres.UniqueViolationColumn(err), "email") {
		return ErrEmailTaken
	}
	return ErrExternalIDTaken
}
