package auth

import (
	"errors"
	"net/http"
)

// Kind names a domain failure. Kinds are part of the HTTP contract and are
// rendered verbatim in error bodies.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindEntityExists       Kind = "EntityExists"
	KindUsernameTaken      Kind = "UsernameTaken"
	KindUserNotFound       Kind = "UserNotFound"
	KindNotFound           Kind = "NotFound"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindInvalidTokenOrCode Kind = "InvalidTokenOrCode"
	KindAlreadyVerified    Kind = "AlreadyVerified"
	KindAccountNotVerified Kind = "AccountNotVerified"
	KindAccessDenied       Kind = "AccessDenied"
	KindNoTokenFound       Kind = "NoTokenFound"
	KindReplayDetected     Kind = "ReplayDetected"
	KindTimeout            Kind = "Timeout"
	KindPasswordSame       Kind = "PasswordSame"
	KindTokenExpired       Kind = "TokenExpired"
	KindTokenInvalid       Kind = "TokenInvalid"
	KindTokenMalformed     Kind = "TokenMalformed"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
	KindTooManyRequests    Kind = "TooManyRequests"

	KindAuthenticationRequired Kind = "AuthenticationRequired"
)

// Error is a recoverable domain failure with the HTTP status it maps to.
// Two errors are equal under errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Every branch that must not reveal which check failed returns the same
// variable, so the message cannot drift between branches.
var (
	ErrValidation         = &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: "invalid request"}
	ErrEntityExists       = &Error{Kind: KindEntityExists, Status: http.StatusConflict, Message: "an account with this email already exists"}
	ErrUsernameTaken      = &Error{Kind: KindUsernameTaken, Status: http.StatusConflict, Message: "username is already taken"}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound, Status: http.StatusNotFound, Message: "user not found"}
	ErrNotFound           = &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "not found"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"}
	ErrInvalidTokenOrCode = &Error{Kind: KindInvalidTokenOrCode, Status: http.StatusUnauthorized, Message: "invalid token or code"}
	ErrAlreadyVerified    = &Error{Kind: KindAlreadyVerified, Status: http.StatusBadRequest, Message: "account is already verified"}
	ErrAccountNotVerified = &Error{Kind: KindAccountNotVerified, Status: http.StatusForbidden, Message: "account is not verified"}
	ErrAccessDenied       = &Error{Kind: KindAccessDenied, Status: http.StatusForbidden, Message: "access denied"}
	ErrNoTokenFound       = &Error{Kind: KindNoTokenFound, Status: http.StatusUnauthorized, Message: "no refresh token found"}
	ErrReplayDetected     = &Error{Kind: KindReplayDetected, Status: http.StatusForbidden, Message: "refresh token is no longer valid"}
	ErrTimeout            = &Error{Kind: KindTimeout, Status: http.StatusForbidden, Message: "password reset window has expired"}
	ErrPasswordSame       = &Error{Kind: KindPasswordSame, Status: http.StatusConflict, Message: "new password must differ from the current one"}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired, Status: http.StatusUnauthorized, Message: "token has expired"}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid, Status: http.StatusUnauthorized, Message: "token is invalid"}
	ErrTokenMalformed     = &Error{Kind: KindTokenMalformed, Status: http.StatusUnauthorized, Message: "token is malformed"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: "reset token is invalid or has expired"}
	ErrForbidden          = &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: "forbidden"}

	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired, Status: http.StatusUnauthorized, Message: "authentication required"}
	ErrTooManyRequests        = &Error{Kind: KindTooManyRequests, Status: http.StatusTooManyRequests, Message: "too many requests"}
)

// ValidationError returns a validation failure carrying per-field messages.
func ValidationError(fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: ErrValidation.Message,
		Fields:  fields,
	}
}

// AsError unwraps err to a domain error.
func AsError(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// Store level sentinels. They never leave the Session Manager unmapped.
var (
	ErrStoreNotFound          = errors.New("record not found")
	ErrStoreDuplicateEmail    = errors.New("duplicate email")
	ErrStoreDuplicateUsername = errors.New("duplicate username")
)
