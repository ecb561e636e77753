package auth

import "time"

// User is the password-less view of an account. The hash is fetched only
// through Store.GetPasswordHash.
type User struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Identity is the authenticated caller attached to a request after its
// access token has been verified.
type Identity struct {
	UserID   string
	Email    string
	Username string
}

func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Username: u.Username}
}

// NewAccount is what Register hands to the store. Token and code belong to
// the account confirmation created in the same transaction.
type NewAccount struct {
	ID                string
	Name              string
	Email             string
	Username          string
	PasswordHash      string
	ConfirmationToken string
	ConfirmationCode  string
	CreatedAt         time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

type Session struct {
	User         User
	AccessToken  IssuedToken
	RefreshToken IssuedToken
}

type RefreshInput struct {
	RefreshToken   string
	HasAccessToken bool
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type ResetPasswordInput struct {
	Token              string `json:"-"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

type ChangePasswordInput struct {
	OldPassword        string `json:"oldPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

type CleanupResult struct {
	ClearedResetTokens   int64 `json:"cleared_reset_tokens"`
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
}
