// Package profile persists the user-profile records that augment credential
// identities with panel-facing data.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexofis/lexofis/internal/auth"
)

// ErrExists indicates a profile record already exists for the identity id.
var ErrExists = errors.New("profile already exists")

// Repository implements auth.ProfileRepository over PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const getQuery = `
SELECT id, email, name, role, avatar, created_at, last_login_at, is_active, privacy_consents
FROM user_profiles
WHERE id = $1`

// Get fetches a profile by identity id.
func (r *Repository) Get(ctx context.Context, userID string) (*auth.User, error) {
	var (
		user      auth.User
		avatar    pgtype.Text
		lastLogin pgtype.Timestamptz
	)
	row := r.pool.QueryRow(ctx, getQuery, userID)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Role, &avatar,
		&user.CreatedAt, &lastLogin, &user.IsActive, &user.PrivacyConsents); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", userID, auth.ErrProfileMissing)
		}
		return nil, fmt.Errorf("profile get: %w", err)
	}
	user.Avatar = avatar.String
	if lastLogin.Valid {
		user.LastLoginAt = lastLogin.Time
	}
	if user.PrivacyConsents == nil {
		user.PrivacyConsents = []string{}
	}
	return &user, nil
}

const createQuery = `
INSERT INTO user_profiles (id, email, name, role, avatar, created_at, is_active, privacy_consents)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Create inserts a fresh profile record.
func (r *Repository) Create(ctx context.Context, user *auth.User) error {
	avatar := pgtype.Text{String: user.Avatar, Valid: user.Avatar != ""}
	consents := user.PrivacyConsents
	if consents == nil {
		consents = []string{}
	}
	_, err := r.pool.Exec(ctx, createQuery,
		user.ID, user.Email, user.Name, user.Role, avatar,
		user.CreatedAt.UTC(), user.IsActive, consents)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("profile %s: %w", user.ID, ErrExists)
		}
		return fmt.Errorf("profile create: %w", err)
	}
	return nil
}

const updateQuery = `
UPDATE user_profiles
SET name = COALESCE($2, name),
    avatar = COALESCE($3, avatar),
    privacy_consents = (
        SELECT ARRAY(SELECT DISTINCT c FROM unnest(privacy_consents || $4::text[]) AS c)
    )
WHERE id = $1`

// Update applies the patch. Nil fields keep their stored value; granted
// consents are unioned into the existing set.
func (r *Repository) Update(ctx context.Context, userID string, patch auth.ProfilePatch) error {
	var name, avatar pgtype.Text
	if patch.Name != nil {
		name = pgtype.Text{String: *patch.Name, Valid: true}
	}
	if patch.Avatar != nil {
		avatar = pgtype.Text{String: *patch.Avatar, Valid: true}
	}
	consents := patch.GrantConsents
	if consents == nil {
		consents = []string{}
	}
	tag, err := r.pool.Exec(ctx, updateQuery, userID, name, avatar, consents)
	if err != nil {
		return fmt.Errorf("profile update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", userID, auth.ErrProfileMissing)
	}
	return nil
}

const touchQuery = `UPDATE user_profiles SET last_login_at = $2 WHERE id = $1`

// TouchLastLogin stamps the most recent sign-in time.
func (r *Repository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, touchQuery, userID,
		pgtype.Timestamptz{Time: at.UTC(), Valid: true})
	if err != nil {
		return fmt.Errorf("profile touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", userID, auth.ErrProfileMissing)
	}
	return nil
}

var _ auth.ProfileRepository = (*Repository)(nil)
