package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrEmailTaken is returned by CreateUser when the email already has an
// account. Detection relies on the insert's ON CONFLICT clause so two
// concurrent signups cannot both succeed.
var ErrEmailTaken = errors.New("email already registered")

// ErrOrgAlreadySet is returned when a user's organization reference is
// already populated. The null-to-value transition happens exactly once.
var ErrOrgAlreadySet = errors.New("organization already set")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, email, role, org_id, password_hash, is_email_verified, verification_token, reset_token, reset_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.OrgID,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.ResetToken,
		&user.ResetExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, role, password_hash, verification_token)
		VALUES ($1, LOWER($2), $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
	`, user.ID, user.Email, user.Role, user.PasswordHash, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user result: %w", err)
	}
	if affected == 0 {
		return ErrEmailTaken
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', updated_at=NOW()
		WHERE verification_token=$1 AND verification_token <> ''
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token=$2, reset_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByResetToken(ctx context.Context, token string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE reset_token=$1 AND reset_token <> '' AND reset_expires_at > NOW()
	`, token)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash=$2, reset_token='', reset_expires_at=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// OnboardOrganization creates the organization, its governing bodies, and
// flips the creator's org reference from NULL, all in one transaction. A
// user who already belongs to an organization gets ErrOrgAlreadySet and
// nothing is written.
func (s *PostgresStore) OnboardOrganization(ctx context.Context, org Organization, bodies []GoverningBody, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin onboarding tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, industry_type, custom_industry, state, county, city, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, org.ID, org.Name, org.IndustryType, org.CustomIndustry, org.State, org.County, org.City, org.CreatedBy); err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}

	for _, body := range bodies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO governing_bodies (id, org_id, name, level, url)
			VALUES ($1, $2, $3, $4, $5)
		`, body.ID, org.ID, body.Name, body.Level, body.URL); err != nil {
			return fmt.Errorf("insert governing body: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET org_id=$2, updated_at=NOW() WHERE id=$1 AND org_id IS NULL
	`, userID, org.ID)
	if err != nil {
		return fmt.Errorf("set user org: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user org result: %w", err)
	}
	if affected == 0 {
		return ErrOrgAlreadySet
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit onboarding tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, industry_type, custom_industry, state, county, city, created_by, created_at, updated_at
		FROM organizations
		WHERE id=$1
	`, orgID).Scan(
		&org.ID,
		&org.Name,
		&org.IndustryType,
		&org.CustomIndustry,
		&org.State,
		&org.County,
		&org.City,
		&org.CreatedBy,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, org Organization) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET name=$2, industry_type=$3, custom_industry=$4, state=$5, county=$6, city=$7, updated_at=NOW()
		WHERE id=$1
	`, org.ID, org.Name, org.IndustryType, org.CustomIndustry, org.State, org.County, org.City)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update organization result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListGoverningBodies(ctx context.Context, orgID string) ([]GoverningBody, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, level, url, created_at
		FROM governing_bodies
		WHERE org_id=$1 AND deleted_at IS NULL
		ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list governing bodies: %w", err)
	}
	defer rows.Close()

	items := make([]GoverningBody, 0)
	for rows.Next() {
		var item GoverningBody
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Name, &item.Level, &item.URL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan governing body: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate governing bodies: %w", err)
	}
	return items, nil
}

// ReplaceGoverningBodies soft-deletes every live row for the org and inserts
// the new set. The set is replaced wholesale, never diffed.
func (s *PostgresStore) ReplaceGoverningBodies(ctx context.Context, orgID string, bodies []GoverningBody) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin governing bodies tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE governing_bodies SET deleted_at=NOW() WHERE org_id=$1 AND deleted_at IS NULL
	`, orgID); err != nil {
		return fmt.Errorf("clear governing bodies: %w", err)
	}

	for _, body := range bodies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO governing_bodies (id, org_id, name, level, url)
			VALUES ($1, $2, $3, $4, $5)
		`, body.ID, orgID, body.Name, body.Level, body.URL); err != nil {
			return fmt.Errorf("insert governing body: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit governing bodies tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the user ID behind a live refresh token.
// Callers resolve the user afterwards so role and org are always current.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
