package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TokenStore persists API tokens and validates presented ones
type TokenStore struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenStore creates a token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{
		db:        db,
		generator: NewTokenGenerator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

const tokenColumns = `id, user_id, token_hash, token_prefix, name, description,
	expires_at, last_used_at, created_at, revoked_at, revoked_by, revoke_reason`

// Create issues a token for userID. The plaintext is returned once and never
// stored.
func (s *TokenStore) Create(ctx context.Context, userID int64, name, description string, expiresAt *time.Time) (*APIToken, string, error) {
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, "", ErrInvalidExpiry
	}

	plaintext, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	tok := &APIToken{
		UserID:      userID,
		TokenHash:   hash,
		TokenPrefix: prefix,
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		tok.ExpiresAt = &exp
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, description, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, userID, hash, prefix, name, description, nullTime(tok.ExpiresAt), now).Scan(&tok.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}

	return tok, plaintext, nil
}

// Validate resolves a presented token. Unknown, malformed, revoked and
// expired tokens are all rejected; on success last_used_at is stamped.
func (s *TokenStore) Validate(ctx context.Context, token string) (*APIToken, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	tok, err := s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = $1`,
		s.generator.HashToken(token)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := s.now()
	if tok.Revoked() {
		return nil, ErrTokenRevoked
	}
	if tok.Expired(now) {
		return nil, ErrTokenExpired
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, tok.ID); err != nil {
		return nil, fmt.Errorf("failed to record token use: %w", err)
	}
	tok.LastUsedAt = &now

	return tok, nil
}

// Get returns one of userID's tokens
func (s *TokenStore) Get(ctx context.Context, userID, tokenID int64) (*APIToken, error) {
	tok, err := s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE id = $1 AND user_id = $2`,
		tokenID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return tok, nil
}

// Revoke revokes one of userID's tokens. Revoking an already revoked token
// keeps the original revocation.
func (s *TokenStore) Revoke(ctx context.Context, userID, tokenID, revokedBy int64, reason string) (*APIToken, error) {
	tok, err := s.Get(ctx, userID, tokenID)
	if err != nil {
		return nil, err
	}
	if tok.Revoked() {
		return tok, nil
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens
		SET revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE id = $4 AND revoked_at IS NULL
	`, now, revokedBy, reason, tokenID); err != nil {
		return nil, fmt.Errorf("failed to revoke token: %w", err)
	}

	tok.RevokedAt = &now
	tok.RevokedBy = &revokedBy
	tok.RevokeReason = reason
	return tok, nil
}

// List returns userID's tokens, revoked ones included, newest first
func (s *TokenStore) List(ctx context.Context, userID int64) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*APIToken{}
	for rows.Next() {
		tok, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

// CleanupExpired deletes tokens that expired or were revoked more than
// retention ago and reports how many rows went.
func (s *TokenStore) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM api_tokens
		WHERE (expires_at IS NOT NULL AND expires_at < $1)
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tokens: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *TokenStore) scanOne(row rowScanner) (*APIToken, error) {
	var (
		tok                            APIToken
		description, reason            sql.NullString
		expiresAt, lastUsed, revokedAt sql.NullTime
		revokedBy                      sql.NullInt64
	)
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.TokenPrefix, &tok.Name, &description,
		&expiresAt, &lastUsed, &tok.CreatedAt, &revokedAt, &revokedBy, &reason)
	if err != nil {
		return nil, err
	}

	tok.Description = description.String
	tok.RevokeReason = reason.String
	tok.ExpiresAt = timePtr(expiresAt)
	tok.LastUsedAt = timePtr(lastUsed)
	tok.RevokedAt = timePtr(revokedAt)
	if revokedBy.Valid {
		v := revokedBy.Int64
		tok.RevokedBy = &v
	}
	return &tok, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
