package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// ResetWindow is how long a password reset token stays usable.
const ResetWindow = 15 * time.Minute

// dummyPassword is hashed once and verified against when a login names no
// known account, so unknown and wrong-password logins do the same work.
const dummyPassword = "dummy-password-for-timing"

// Service is the session manager. It owns every state transition of
// confirmations, refresh tokens and password recoveries; the store only
// persists them.
type Service struct {
	store    Store
	notifier Notifier
	hasher   PasswordHasher
	access   *TokenCodec
	refresh  *TokenCodec
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store Store, notifier Notifier, hasher PasswordHasher, access, refresh *TokenCodec) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		hasher:   hasher,
		access:   access,
		refresh:  refresh,
		now:      time.Now,
	}
}

// WithClock replaces the service's time source. Token codecs keep their own.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AccessTTL and RefreshTTL are the lifetimes cookies are issued with.
func (s *Service) AccessTTL() time.Duration {
	return s.access.TTL()
}

func (s *Service) RefreshTTL() time.Duration {
	return s.refresh.TTL()
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Register creates an unverified account. The verification mail is sent
// before anything is persisted, so a failed send leaves no record behind.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return User{}, err
	}

	if _, err := s.store.FindByEmail(ctx, in.Email); err == nil {
		return User{}, ErrEntityExists
	} else if !errors.Is(err, ErrStoreNotFound) {
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "find by email", err)
	}

	if _, err := s.store.FindByUsername(ctx, in.Username); err == nil {
		return User{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrStoreNotFound) {
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "find by username", err)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "hash password", err)
	}

	token, err := randomToken(opaqueTokenBytes)
	if err != nil {
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "generate verification token", err)
	}
	code, err := randomCode()
	if err != nil {
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "generate verification code", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "generate user id", err)
	}

	if err := s.notifier.SendVerification(ctx, in.Email, in.Name, token, code); err != nil {
		return User{}, oops.Code("AUTH_NOTIFY_FAILED").
			With("operation", "send verification").
			Wrap(err)
	}

	user, err := s.store.CreateUserWithConfirmation(ctx, NewAccount{
		ID:                id.String(),
		Name:              in.Name,
		Email:             in.Email,
		Username:          in.Username,
		PasswordHash:      passwordHash,
		ConfirmationToken: hashToken(token),
		ConfirmationCode:  code,
		CreatedAt:         s.clock(),
	})
	switch {
	case errors.Is(err, ErrStoreDuplicateEmail):
		return User{}, ErrEntityExists
	case errors.Is(err, ErrStoreDuplicateUsername):
		return User{}, ErrUsernameTaken
	case err != nil:
		return User{}, wrapFailure("AUTH_REGISTER_FAILED", "create user", err)
	}

	return user, nil
}

// Confirm verifies an account by its (token, code) pair. A wrong token and
// a wrong code are the same failure.
func (s *Service) Confirm(ctx context.Context, token, code string) (User, error) {
	token = strings.TrimSpace(token)
	code = strings.TrimSpace(code)
	if token == "" || code == "" {
		return User{}, ErrInvalidTokenOrCode
	}

	user, err := s.store.FindByConfirmation(ctx, hashToken(token), code)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrInvalidTokenOrCode
		}
		return User{}, wrapFailure("AUTH_CONFIRM_FAILED", "find by confirmation", err)
	}
	if user.Verified {
		return User{}, ErrAlreadyVerified
	}

	confirmed, err := s.store.ConfirmAccount(ctx, user.ID, s.clock())
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			// lost a race with a concurrent confirmation
			return User{}, ErrAlreadyVerified
		}
		return User{}, wrapFailure("AUTH_CONFIRM_FAILED", "confirm account", err)
	}

	if err := s.notifier.SendConfirmed(ctx, confirmed.Email, confirmed.Name); err != nil {
		return User{}, oops.Code("AUTH_NOTIFY_FAILED").
			With("operation", "send confirmed").
			With("user_id", confirmed.ID).
			Wrap(err)
	}

	return confirmed, nil
}

// Login issues a fresh token pair for a verified account and makes the new
// refresh token the only live one for that user.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	identifier := strings.ToLower(strings.TrimSpace(in.Identifier))
	if identifier == "" || in.Password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.store.FindVerifiedByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			s.burnDummyVerify(in.Password)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, wrapFailure("AUTH_LOGIN_FAILED", "find verified by login", err)
	}

	passwordHash, err := s.store.GetPasswordHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			s.burnDummyVerify(in.Password)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, wrapFailure("AUTH_LOGIN_FAILED", "get password hash", err)
	}
	if !s.hasher.Verify(in.Password, passwordHash) {
		return Session{}, ErrInvalidCredentials
	}

	identity := user.Identity()
	accessToken, err := s.access.Issue(identity)
	if err != nil {
		return Session{}, wrapFailure("AUTH_LOGIN_FAILED", "issue access token", err)
	}
	refreshToken, err := s.refresh.Issue(identity)
	if err != nil {
		return Session{}, wrapFailure("AUTH_LOGIN_FAILED", "issue refresh token", err)
	}

	now := s.clock()
	if err := s.store.UpsertRefreshToken(ctx, user.ID, hashToken(refreshToken.Value), now); err != nil {
		return Session{}, wrapFailure("AUTH_LOGIN_FAILED", "upsert refresh token", err)
	}
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return Session{}, wrapFailure("AUTH_LOGIN_FAILED", "update last login", err)
	}
	user.LastLoginAt = &now

	return Session{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Logout drops the caller's refresh token. Logging out twice is fine.
func (s *Service) Logout(ctx context.Context, identity Identity) error {
	if err := s.store.DeleteRefreshToken(ctx, identity.UserID); err != nil {
		return wrapFailure("AUTH_LOGOUT_FAILED", "delete refresh token", err)
	}
	return nil
}

// Refresh trades a refresh token for a new access token. It is only allowed
// once the access token is gone, and only with the refresh token most
// recently issued to the subject.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (IssuedToken, error) {
	if in.HasAccessToken {
		return IssuedToken{}, ErrAccessDenied
	}
	if in.RefreshToken == "" {
		return IssuedToken{}, ErrNoTokenFound
	}

	claims, err := s.refresh.Verify(in.RefreshToken)
	if err != nil {
		return IssuedToken{}, err
	}

	stored, err := s.store.GetRefreshToken(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return IssuedToken{}, ErrReplayDetected
		}
		return IssuedToken{}, wrapFailure("AUTH_REFRESH_FAILED", "get refresh token", err)
	}
	if !tokensEqual(stored, hashToken(in.RefreshToken)) {
		return IssuedToken{}, ErrReplayDetected
	}

	accessToken, err := s.access.Issue(claims.Identity())
	if err != nil {
		return IssuedToken{}, wrapFailure("AUTH_REFRESH_FAILED", "issue access token", err)
	}
	return accessToken, nil
}

// ForgotPassword opens a reset window for the account with this email and
// mails the reset link.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if msg := emailProblem(email); msg != "" {
		return ValidationError(map[string]string{"email": msg})
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrUserNotFound
		}
		return wrapFailure("AUTH_FORGOT_PASSWORD_FAILED", "find by email", err)
	}

	token, err := randomToken(opaqueTokenBytes)
	if err != nil {
		return wrapFailure("AUTH_FORGOT_PASSWORD_FAILED", "generate reset token", err)
	}

	now := s.clock()
	if err := s.store.SaveResetCode(ctx, user.ID, hashToken(token), now.Add(ResetWindow), now); err != nil {
		return wrapFailure("AUTH_FORGOT_PASSWORD_FAILED", "save reset code", err)
	}

	if err := s.notifier.SendResetLink(ctx, user.Email, user.Name, token); err != nil {
		return oops.Code("AUTH_NOTIFY_FAILED").
			With("operation", "send reset link").
			With("user_id", user.ID).
			Wrap(err)
	}
	return nil
}

// ResetPassword sets a new password through a reset token. The token is
// single use: it is cleared on success, and the user's refresh token is
// dropped with it.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	userID, err := s.store.FindByResetToken(ctx, hashToken(in.Token))
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrUnauthorized
		}
		return wrapFailure("AUTH_RESET_PASSWORD_FAILED", "find by reset token", err)
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrUserNotFound
		}
		return wrapFailure("AUTH_RESET_PASSWORD_FAILED", "find by id", err)
	}
	if !user.Verified {
		return ErrAccountNotVerified
	}

	expiresAt, err := s.store.GetExpiry(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrStoreNotFound) {
		return wrapFailure("AUTH_RESET_PASSWORD_FAILED", "get expiry", err)
	}
	if expiresAt == nil {
		return ErrForbidden
	}
	if !s.clock().Before(*expiresAt) {
		return ErrTimeout
	}

	currentHash, err := s.store.GetPasswordHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrUserNotFound
		}
		return wrapFailure("AUTH_RESET_PASSWORD_FAILED", "get password hash", err)
	}
	if s.hasher.Verify(in.NewPassword, currentHash) {
		return ErrPasswordSame
	}

	if err := s.replacePassword(ctx, user.ID, in.NewPassword, "AUTH_RESET_PASSWORD_FAILED"); err != nil {
		return err
	}

	now := s.clock()
	if err := s.store.ClearResetToken(ctx, user.ID, now); err != nil {
		return wrapFailure("AUTH_RESET_PASSWORD_FAILED", "clear reset token", err)
	}
	if err := s.store.DeleteRefreshToken(ctx, user.ID); err != nil {
		return wrapFailure("AUTH_RESET_PASSWORD_FAILED", "delete refresh token", err)
	}

	if err := s.notifier.SendPasswordChanged(ctx, user.Email, user.Name); err != nil {
		return oops.Code("AUTH_NOTIFY_FAILED").
			With("operation", "send password changed").
			With("user_id", user.ID).
			Wrap(err)
	}
	return nil
}

// ChangePassword replaces the caller's password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, identity Identity, in ChangePasswordInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	currentHash, err := s.store.GetPasswordHash(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrNotFound
		}
		return wrapFailure("AUTH_CHANGE_PASSWORD_FAILED", "get password hash", err)
	}
	if !s.hasher.Verify(in.OldPassword, currentHash) {
		return ErrInvalidCredentials
	}
	if in.NewPassword == in.OldPassword {
		return ErrPasswordSame
	}

	if err := s.replacePassword(ctx, identity.UserID, in.NewPassword, "AUTH_CHANGE_PASSWORD_FAILED"); err != nil {
		return err
	}
	if err := s.store.UpdateLastPasswordChange(ctx, identity.UserID, s.clock()); err != nil {
		return wrapFailure("AUTH_CHANGE_PASSWORD_FAILED", "update last password change", err)
	}

	user, err := s.store.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return ErrNotFound
		}
		return wrapFailure("AUTH_CHANGE_PASSWORD_FAILED", "find by id", err)
	}

	if err := s.notifier.SendPasswordChanged(ctx, user.Email, user.Name); err != nil {
		return oops.Code("AUTH_NOTIFY_FAILED").
			With("operation", "send password changed").
			With("user_id", user.ID).
			Wrap(err)
	}
	return nil
}

// CurrentUser returns the account behind an authenticated identity.
func (s *Service) CurrentUser(ctx context.Context, identity Identity) (User, error) {
	user, err := s.store.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, wrapFailure("AUTH_CURRENT_USER_FAILED", "find by id", err)
	}
	return user, nil
}

func (s *Service) replacePassword(ctx context.Context, userID, password, code string) error {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return wrapFailure(code, "hash password", err)
	}
	if err := s.store.UpdatePassword(ctx, userID, digest, s.clock()); err != nil {
		return wrapFailure(code, "update password", err)
	}
	return nil
}

func (s *Service) burnDummyVerify(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(dummyPassword)
	})
	if s.dummyHash != "" {
		_ = s.hasher.Verify(password, s.dummyHash)
	}
}

func wrapFailure(code, operation string, err error) error {
	return oops.Code(code).With("operation", operation).Wrap(err)
}
