package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the credential-store surface the service depends on. Lookups
// return sql.ErrNoRows when no record matches.
type Store interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (User, error)
	Create(ctx context.Context, user *User) error
	SetRefreshToken(ctx context.Context, id, token string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error
	ClearExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, full_name, email, username, password_hash, refresh_token, refresh_token_expires_at, created_at, updated_at`

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	return scanUser(row, "query user by id")
}

// FindByEmailOrUsername matches on whichever identifiers are non-empty.
// Both empty never matches.
func (r *Repository) FindByEmailOrUsername(ctx context.Context, email, username string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1 <> '' AND email = $1)
		   OR ($2 <> '' AND username = $2)
		LIMIT 1
	`, email, username)

	return scanUser(row, "query user by email or username")
}

func (r *Repository) Create(ctx context.Context, user *User) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user.ID = id.String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, user.ID, user.FullName, user.Email, user.Username, user.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// SetRefreshToken updates only the token columns, leaving the rest of the
// record untouched.
func (r *Repository) SetRefreshToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $2, refresh_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id, token, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}

	return nil
}

func (r *Repository) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = NULL, refresh_token_expires_at = NULL, updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}

	return nil
}

// ClearExpiredRefreshTokens nulls out refresh tokens whose embedded expiry
// has passed, in bounded batches.
func (r *Repository) ClearExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM users
			WHERE refresh_token IS NOT NULL
			  AND refresh_token_expires_at < NOW()
			ORDER BY refresh_token_expires_at ASC
			LIMIT $1
		)
		UPDATE users u
		SET refresh_token = NULL, refresh_token_expires_at = NULL, updated_at = NOW()
		FROM stale
		WHERE u.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, operation string) (User, error) {
	var user User
	var refreshToken sql.NullString
	var refreshExpiry sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.FullName,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&refreshToken,
		&refreshExpiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("%s: %w", operation, err)
	}

	if refreshToken.Valid {
		user.RefreshToken = refreshToken.String
	}
	if refreshExpiry.Valid {
		value := refreshExpiry.Time.UTC()
		user.RefreshTokenExpiresAt = &value
	}

	return user, nil
}
