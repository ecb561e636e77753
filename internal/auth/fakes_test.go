package auth

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type memAccount struct {
	user             User
	passwordHash     string
	lastPasswordAt   *time.Time
	confirmToken     string
	confirmCode      string
	refreshTokenHash string
	hasRefresh       bool
	resetTokenHash   *string
	resetExpiresAt   *time.Time
	lastResetAt      *time.Time
	hasRecovery      bool
}

// memStore is an in-memory Store used by service and handler tests.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*memAccount
	failWith error
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[string]*memAccount)}
}

func (m *memStore) find(match func(a *memAccount) bool) (*memAccount, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, a := range m.accounts {
		if match(a) {
			return a, nil
		}
	}
	return nil, ErrStoreNotFound
}

func (m *memStore) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(func(a *memAccount) bool { return a.user.Email == email })
	if err != nil {
		return User{}, err
	}
	return a.user, nil
}

func (m *memStore) FindByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(func(a *memAccount) bool { return a.user.Username == username })
	if err != nil {
		return User{}, err
	}
	return a.user, nil
}

func (m *memStore) FindByID(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(func(a *memAccount) bool { return a.user.ID == userID })
	if err != nil {
		return User{}, err
	}
	return a.user, nil
}

func (m *memStore) FindVerifiedByLogin(_ context.Context, identifier string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(func(a *memAccount) bool {
		return a.user.Verified && (a.user.Email == identifier || a.user.Username == identifier)
	})
	if err != nil {
		return User{}, err
	}
	return a.user, nil
}

func (m *memStore) FindByConfirmation(_ context.Context, tokenHash, code string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(func(a *memAccount) bool { return a.confirmToken == tokenHash && a.confirmCode == code })
	if err != nil {
		return User{}, err
	}
	return a.user, nil
}

func (m *memStore) FindByResetToken(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.find(func(a *memAccount) bool { return a.resetTokenHash != nil && *a.resetTokenHash == tokenHash })
	if err != nil {
		return "", err
	}
	return a.user.ID, nil
}

func (m *memStore) CreateUserWithConfirmation(_ context.Context, account NewAccount) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return User{}, m.failWith
	}
	for _, a := range m.accounts {
		if a.user.Email == account.Email {
			return User{}, ErrStoreDuplicateEmail
		}
		if a.user.Username == account.Username {
			return User{}, ErrStoreDuplicateUsername
		}
	}
	user := User{
		ID:        account.ID,
		Name:      account.Name,
		Email:     account.Email,
		Username:  account.Username,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.CreatedAt,
	}
	m.accounts[account.ID] = &memAccount{
		user:         user,
		passwordHash: account.PasswordHash,
		confirmToken: account.ConfirmationToken,
		confirmCode:  account.ConfirmationCode,
	}
	return user, nil
}

func (m *memStore) ConfirmAccount(_ context.Context, userID string, at time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok || a.user.Verified {
		return User{}, ErrStoreNotFound
	}
	a.user.Verified = true
	a.user.VerifiedAt = &at
	return a.user, nil
}

func (m *memStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.user.LastLoginAt = &at
	}
	return nil
}

func (m *memStore) UpsertRefreshToken(_ context.Context, userID, tokenHash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.refreshTokenHash = tokenHash
		a.hasRefresh = true
	}
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok || !a.hasRefresh {
		return "", ErrStoreNotFound
	}
	return a.refreshTokenHash, nil
}

func (m *memStore) DeleteRefreshToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if a, ok := m.accounts[userID]; ok {
		a.refreshTokenHash = ""
		a.hasRefresh = false
	}
	return nil
}

func (m *memStore) SaveResetCode(_ context.Context, userID, tokenHash string, expiresAt, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.resetTokenHash = &tokenHash
		a.resetExpiresAt = &expiresAt
		a.hasRecovery = true
	}
	return nil
}

func (m *memStore) GetExpiry(_ context.Context, userID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok || !a.hasRecovery {
		return nil, ErrStoreNotFound
	}
	return a.resetExpiresAt, nil
}

func (m *memStore) GetPasswordHash(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return "", ErrStoreNotFound
	}
	return a.passwordHash, nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID, passwordHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.passwordHash = passwordHash
		a.user.UpdatedAt = at
	}
	return nil
}

func (m *memStore) ClearResetToken(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.resetTokenHash = nil
		a.resetExpiresAt = nil
		a.lastResetAt = &at
	}
	return nil
}

func (m *memStore) UpdateLastPasswordChange(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		a.lastPasswordAt = &at
	}
	return nil
}

func (m *memStore) account(userID string) *memAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[userID]
}

// mockNotifier records sends; tests capture the verification token and
// code through the mock's Run hook.
type mockNotifier struct {
	mock.Mock
}

func (n *mockNotifier) SendVerification(ctx context.Context, email, name, token, code string) error {
	return n.Called(ctx, email, name, token, code).Error(0)
}

func (n *mockNotifier) SendConfirmed(ctx context.Context, email, name string) error {
	return n.Called(ctx, email, name).Error(0)
}

func (n *mockNotifier) SendResetLink(ctx context.Context, email, name, token string) error {
	return n.Called(ctx, email, name, token).Error(0)
}

func (n *mockNotifier) SendPasswordChanged(ctx context.Context, email, name string) error {
	return n.Called(ctx, email, name).Error(0)
}
