package auth

import (
	"context"
	"net/http"
	"strings"
)

type identityKey struct{}

// WithIdentity attaches a verified identity to ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity attached by RequireIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok && identity.UserID != ""
}

// Authenticator verifies access tokens on inbound requests.
type Authenticator struct {
	access *TokenCodec
}

func NewAuthenticator(access *TokenCodec) *Authenticator {
	return &Authenticator{access: access}
}

// RequireIdentity rejects requests without a valid access token. The token
// is read from the access cookie, or from a Bearer Authorization header.
func (a *Authenticator) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := accessTokenFrom(r)
		if raw == "" {
			writeDomainError(w, ErrAuthenticationRequired)
			return
		}

		claims, err := a.access.Verify(raw)
		if err != nil {
			domainErr, ok := AsError(err)
			if !ok {
				domainErr = ErrTokenInvalid
			}
			writeDomainError(w, domainErr)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
	})
}

func accessTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(AccessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
