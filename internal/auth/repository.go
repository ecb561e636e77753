package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"blog-api/internal/db"
)

// Repository is the Postgres Store.
type Repository struct {
	db db.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(database db.DB) *Repository {
	return &Repository{db: database}
}

const selectUser = `
	SELECT u.id, u.name, u.email, u.username,
		COALESCE(c.verified, FALSE), c.verified_at,
		u.last_login_at, u.created_at, u.updated_at
	FROM users u
	LEFT JOIN account_confirmations c ON c.user_id = u.id
`

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Username,
		&user.Verified, &user.VerifiedAt,
		&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (r *Repository) findUser(ctx context.Context, operation, where string, args ...any) (User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUser+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrStoreNotFound
		}
		return User{}, oops.Code("AUTH_STORE_QUERY_FAILED").
			With("operation", operation).
			Wrap(err)
	}
	return user, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, "find user by email", `WHERE u.email = $1`, email)
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findUser(ctx, "find user by username", `WHERE u.username = $1`, username)
}

func (r *Repository) FindByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, "find user by id", `WHERE u.id = $1`, userID)
}

func (r *Repository) FindVerifiedByLogin(ctx context.Context, identifier string) (User, error) {
	return r.findUser(ctx, "find verified user by login",
		`WHERE (u.email = $1 OR u.username = $1) AND c.verified`, identifier)
}

func (r *Repository) FindByConfirmation(ctx context.Context, tokenHash, code string) (User, error) {
	return r.findUser(ctx, "find user by confirmation",
		`WHERE c.token_hash = $1 AND c.code = $2`, tokenHash, code)
}

func (r *Repository) FindByResetToken(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `
		SELECT user_id
		FROM password_recoveries
		WHERE token_hash = $1
	`, tokenHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrStoreNotFound
		}
		return "", oops.Code("AUTH_STORE_QUERY_FAILED").
			With("operation", "find user by reset token").
			Wrap(err)
	}
	return userID, nil
}

func (r *Repository) CreateUserWithConfirmation(ctx context.Context, account NewAccount) (User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return User{}, oops.Code("AUTH_STORE_TX_FAILED").
			With("operation", "begin create user").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, name, email, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, account.ID, account.Name, account.Email, account.Username, account.PasswordHash, account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return User{}, ErrStoreDuplicateEmail
			case "users_username_key":
				return User{}, ErrStoreDuplicateUsername
			}
		}
		return User{}, oops.Code("AUTH_STORE_EXEC_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO account_confirmations (user_id, token_hash, code, created_at)
		VALUES ($1, $2, $3, $4)
	`, account.ID, account.ConfirmationToken, account.ConfirmationCode, account.CreatedAt)
	if err != nil {
		return User{}, oops.Code("AUTH_STORE_EXEC_FAILED").
			With("operation", "insert account confirmation").
			With("user_id", account.ID).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, oops.Code("AUTH_STORE_TX_FAILED").
			With("operation", "commit create user").
			Wrap(err)
	}

	return User{
		ID:        account.ID,
		Name:      account.Name,
		Email:     account.Email,
		Username:  account.Username,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.CreatedAt,
	}, nil
}

func (r *Repository) ConfirmAccount(ctx context.Context, userID string, at time.Time) (User, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE account_confirmations
		SET verified = TRUE, verified_at = $2
		WHERE user_id = $1 AND NOT verified
	`, userID, at)
	if err != nil {
		return User{}, oops.Code("AUTH_STORE_EXEC_FAILED").
			With("operation", "confirm account").
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrStoreNotFound
	}
	return r.FindByID(ctx, userID)
}

func (r *Repository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, "update last login", `
		UPDATE users SET last_login_at = $2 WHERE id = $1
	`, userID, at)
}

func (r *Repository) UpsertRefreshToken(ctx context.Context, userID, tokenHash string, at time.Time) error {
	return r.exec(ctx, "upsert refresh token", `
		INSERT INTO refresh_tokens (user_id, token_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			updated_at = EXCLUDED.updated_at
	`, userID, tokenHash, at)
}

func (r *Repository) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	var tokenHash string
	err := r.db.QueryRow(ctx, `
		SELECT token_hash FROM refresh_tokens WHERE user_id = $1
	`, userID).Scan(&tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrStoreNotFound
		}
		return "", oops.Code("AUTH_STORE_QUERY_FAILED").
			With("operation", "get refresh token").
			With("user_id", userID).
			Wrap(err)
	}
	return tokenHash, nil
}

func (r *Repository) DeleteRefreshToken(ctx context.Context, userID string) error {
	return r.exec(ctx, "delete refresh token", `
		DELETE FROM refresh_tokens WHERE user_id = $1
	`, userID)
}

func (r *Repository) SaveResetCode(ctx context.Context, userID, tokenHash string, expiresAt, at time.Time) error {
	return r.exec(ctx, "save reset code", `
		INSERT INTO password_recoveries (user_id, token_hash, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, userID, tokenHash, expiresAt, at)
}

func (r *Repository) GetExpiry(ctx context.Context, userID string) (*time.Time, error) {
	var expiresAt *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT expires_at FROM password_recoveries WHERE user_id = $1
	`, userID).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStoreNotFound
		}
		return nil, oops.Code("AUTH_STORE_QUERY_FAILED").
			With("operation", "get reset expiry").
			With("user_id", userID).
			Wrap(err)
	}
	return expiresAt, nil
}

func (r *Repository) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	var passwordHash string
	err := r.db.QueryRow(ctx, `
		SELECT password_hash FROM users WHERE id = $1
	`, userID).Scan(&passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrStoreNotFound
		}
		return "", oops.Code("AUTH_STORE_QUERY_FAILED").
			With("operation", "get password hash").
			With("user_id", userID).
			Wrap(err)
	}
	return passwordHash, nil
}

func (r *Repository) UpdatePassword(ctx context.Context, userID, passwordHash string, at time.Time) error {
	return r.exec(ctx, "update password", `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, userID, passwordHash, at)
}

func (r *Repository) ClearResetToken(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, "clear reset token", `
		UPDATE password_recoveries
		SET token_hash = NULL, expires_at = NULL, last_reset_at = $2, updated_at = $2
		WHERE user_id = $1
	`, userID, at)
}

func (r *Repository) UpdateLastPasswordChange(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, "update last password change", `
		UPDATE users SET last_password_change_at = $2, updated_at = $2 WHERE id = $1
	`, userID, at)
}

func (r *Repository) exec(ctx context.Context, operation, sql string, args ...any) error {
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return oops.Code("AUTH_STORE_EXEC_FAILED").
			With("operation", operation).
			Wrap(err)
	}
	return nil
}

// CleanupStaleAuthData clears reset tokens whose window has closed and drops
// refresh records not renewed within refreshRetention. Each step touches at
// most batchSize rows.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, now time.Time, refreshRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	cleared, err := r.db.Exec(ctx, `
		WITH stale AS (
			SELECT user_id
			FROM password_recoveries
			WHERE expires_at IS NOT NULL AND expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		UPDATE password_recoveries p
		SET token_hash = NULL, expires_at = NULL, updated_at = $1
		FROM stale
		WHERE p.user_id = stale.user_id
	`, now, batchSize)
	if err != nil {
		return CleanupResult{}, oops.Code("AUTH_CLEANUP_FAILED").
			With("operation", "clear expired reset tokens").
			Wrap(err)
	}

	deleted, err := r.db.Exec(ctx, `
		WITH stale AS (
			SELECT user_id
			FROM refresh_tokens
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM refresh_tokens t
		USING stale
		WHERE t.user_id = stale.user_id
	`, now.Add(-refreshRetention), batchSize)
	if err != nil {
		return CleanupResult{}, oops.Code("AUTH_CLEANUP_FAILED").
			With("operation", "delete stale refresh tokens").
			Wrap(err)
	}

	return CleanupResult{
		ClearedResetTokens:   cleared.RowsAffected(),
		DeletedRefreshTokens: deleted.RowsAffected(),
	}, nil
}
