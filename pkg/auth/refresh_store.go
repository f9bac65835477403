package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const refreshTokenColumns = `token, user_id, token_type, expires_at, is_revoked, created_at`

// RefreshTokenStore persists refresh tokens of every family
type RefreshTokenStore struct {
	db *sql.DB
}

// NewRefreshTokenStore creates a new refresh token store
func NewRefreshTokenStore(db *sql.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

// Create inserts a token row
func (s *RefreshTokenStore) Create(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, user_id, token_type, expires_at, is_revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.Token,
		token.UserID,
		string(token.TokenType),
		token.ExpiresAt.UTC(),
		token.IsRevoked,
		token.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// Get retrieves a token row by value regardless of its state
func (s *RefreshTokenStore) Get(ctx context.Context, token string) (*RefreshToken, error) {
	query := "SELECT " + refreshTokenColumns + " FROM refresh_tokens WHERE token = $1"

	rt, err := scanRefreshToken(s.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rt, nil
}

// Revoke marks one token revoked. It reports false when the token was
// already revoked or does not exist, so two concurrent rotations of the same
// token cannot both succeed.
func (s *RefreshTokenStore) Revoke(ctx context.Context, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = $1 WHERE token = $2 AND is_revoked = $3",
		true, token, false,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// RevokeAllForUser revokes every live token of one family for a user
func (s *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID int64, tokenType TokenType) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked = $1 WHERE user_id = $2 AND token_type = $3 AND is_revoked = $4",
		true, userID, string(tokenType), false,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return result.RowsAffected()
}

// GetLatestActive returns the newest unrevoked, unexpired token of a family
func (s *RefreshTokenStore) GetLatestActive(ctx context.Context, userID int64, tokenType TokenType, now time.Time) (*RefreshToken, error) {
	query := "SELECT " + refreshTokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND token_type = $2 AND is_revoked = $3 AND expires_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`

	rt, err := scanRefreshToken(s.db.QueryRowContext(ctx, query, userID, string(tokenType), false, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rt, nil
}

// DeleteExpired removes rows that expired before the cutoff. Correctness never
// depends on it; expiry is checked at use.
func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < $1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRefreshToken(row rowScanner) (*RefreshToken, error) {
	var rt RefreshToken
	var tokenType string

	if err := row.Scan(&rt.Token, &rt.UserID, &tokenType, &rt.ExpiresAt, &rt.IsRevoked, &rt.CreatedAt); err != nil {
		return nil, err
	}
	rt.TokenType = TokenType(tokenType)
	return &rt, nil
}
