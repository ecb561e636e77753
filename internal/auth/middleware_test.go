package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireIdentity(t *testing.T) {
	clock := newTestClock()
	access := NewTokenCodec("access-secret", 15*time.Minute, AccessToken).WithClock(clock.Now)
	refresh := NewTokenCodec("refresh-secret", time.Hour, RefreshToken).WithClock(clock.Now)
	identity := Identity{UserID: "u-1", Email: "ana@x.com", Username: "ana1"}

	var seen Identity
	protected := NewAuthenticator(access).RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := IdentityFrom(r.Context())
		require.True(t, ok)
		seen = got
		w.WriteHeader(http.StatusNoContent)
	}))

	valid, err := access.Issue(identity)
	require.NoError(t, err)
	wrongKind, err := refresh.Issue(identity)
	require.NoError(t, err)

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantKind Kind
	}{
		{
			name:     "cookie",
			prepare:  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: valid.Value}) },
			wantCode: http.StatusNoContent,
		},
		{
			name:     "bearer header",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "bearer "+valid.Value) },
			wantCode: http.StatusNoContent,
		},
		{
			name:     "missing",
			prepare:  func(*http.Request) {},
			wantCode: http.StatusUnauthorized,
			wantKind: KindAuthenticationRequired,
		},
		{
			name:     "basic scheme",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "Basic "+valid.Value) },
			wantCode: http.StatusUnauthorized,
			wantKind: KindAuthenticationRequired,
		},
		{
			name:     "malformed",
			prepare:  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "not-a-jwt"}) },
			wantCode: http.StatusUnauthorized,
			wantKind: KindTokenMalformed,
		},
		{
			name:     "refresh token as access",
			prepare:  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: wrongKind.Value}) },
			wantCode: http.StatusUnauthorized,
			wantKind: KindTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = Identity{}
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			tt.prepare(req)

			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, Kind(decodeBody(t, rec)["kind"].(string)))
				assert.Empty(t, seen.UserID)
				return
			}
			assert.Equal(t, identity, seen)
		})
	}
}

func TestRequireIdentity_Expired(t *testing.T) {
	clock := newTestClock()
	access := NewTokenCodec("access-secret", 15*time.Minute, AccessToken).WithClock(clock.Now)
	token, err := access.Issue(Identity{UserID: "u-1"})
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: token.Value})
	rec := httptest.NewRecorder()
	NewAuthenticator(access).RequireIdentity(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(KindTokenExpired), decodeBody(t, rec)["kind"])
}

func TestIdentityFrom_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := IdentityFrom(req.Context())
	assert.False(t, ok)

	_, ok = IdentityFrom(WithIdentity(req.Context(), Identity{}))
	assert.False(t, ok)
}

func TestErrAuthenticationRequired_DistinctFromResetFailure(t *testing.T) {
	assert.False(t, errors.Is(ErrAuthenticationRequired, ErrUnauthorized))
	assert.False(t, errors.Is(ErrUnauthorized, ErrAuthenticationRequired))
	assert.True(t, errors.Is(ErrAuthenticationRequired, &Error{Kind: KindAuthenticationRequired}))
}
