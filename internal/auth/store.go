package auth

import (
	"context"
	"time"
)

// Store is the durable record of users, account confirmations, refresh
// tokens and password recoveries. Opaque tokens (confirmation, refresh,
// reset) are passed in already hashed.
//
// Lookups that find nothing return ErrStoreNotFound.
type Store interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
	// FindVerifiedByLogin matches email or username, verified accounts only.
	FindVerifiedByLogin(ctx context.Context, identifier string) (User, error)
	FindByConfirmation(ctx context.Context, tokenHash, code string) (User, error)
	FindByResetToken(ctx context.Context, tokenHash string) (string, error)

	// CreateUserWithConfirmation persists the user and its confirmation
	// atomically. Unique violations surface as ErrStoreDuplicateEmail or
	// ErrStoreDuplicateUsername.
	CreateUserWithConfirmation(ctx context.Context, account NewAccount) (User, error)
	// ConfirmAccount flips verified once. A confirmation that is already
	// verified yields ErrStoreNotFound.
	ConfirmAccount(ctx context.Context, userID string, at time.Time) (User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	UpsertRefreshToken(ctx context.Context, userID, tokenHash string, at time.Time) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	// DeleteRefreshToken is a no-op when the user has no record.
	DeleteRefreshToken(ctx context.Context, userID string) error

	SaveResetCode(ctx context.Context, userID, tokenHash string, expiresAt, at time.Time) error
	// GetExpiry returns nil when the recovery record has no expiry.
	GetExpiry(ctx context.Context, userID string) (*time.Time, error)
	GetPasswordHash(ctx context.Context, userID string) (string, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, at time.Time) error
	ClearResetToken(ctx context.Context, userID string, at time.Time) error
	UpdateLastPasswordChange(ctx context.Context, userID string, at time.Time) error
}

// Notifier delivers account lifecycle mail. A send error aborts the flow
// that triggered it.
type Notifier interface {
	SendVerification(ctx context.Context, email, name, token, code string) error
	SendConfirmed(ctx context.Context, email, name string) error
	SendResetLink(ctx context.Context, email, name, token string) error
	SendPasswordChanged(ctx context.Context, email, name string) error
}
