package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims is the payload of both access and refresh tokens. The subject is
// the user id.
type Claims struct {
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Kind     TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Email: c.Email, Username: c.Username}
}

// TokenCodec signs and verifies HS256 tokens of a single kind. Access and
// refresh tokens each get their own codec and secret, so a token verified
// with the other codec fails on its signature.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	kind   TokenKind
	now    func() time.Time
}

func NewTokenCodec(secret string, ttl time.Duration, kind TokenKind) *TokenCodec {
	return &TokenCodec{
		secret: []byte(secret),
		ttl:    ttl,
		kind:   kind,
		now:    time.Now,
	}
}

// WithClock replaces the codec's time source.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	c.now = now
	return c
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

func (c *TokenCodec) Issue(identity Identity) (IssuedToken, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate token id: %w", err)
	}

	issuedAt := c.now().UTC()
	expiresAt := issuedAt.Add(c.ttl)
	claims := Claims{
		Email:    identity.Email,
		Username: identity.Username,
		Kind:     c.kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", c.kind, err)
	}

	return IssuedToken{Value: encoded, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify returns the claims of a token signed by this codec. Failures are
// ErrTokenMalformed, ErrTokenExpired (now at or after expiry) or
// ErrTokenInvalid.
func (c *TokenCodec) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}
	if !token.Valid || claims.Kind != c.kind || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
