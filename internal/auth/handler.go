package auth

import (
	"encoding/json"
	"net/http"

	"blog-api/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// OutcomeRecorder counts auth operations by outcome.
type OutcomeRecorder interface {
	RecordAuthOutcome(operation, outcome string)
}

type Handler struct {
	service *Service
	cookies CookieConfig
	logger  *observability.Logger
	metrics OutcomeRecorder
}

func NewHandler(service *Service, cookies CookieConfig, logger *observability.Logger, metrics OutcomeRecorder) *Handler {
	return &Handler{
		service: service,
		cookies: cookies,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterRoutes mounts the auth endpoints under basePath. Login and
// forgot-password get their own limiter so one cannot starve the other.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, basePath string, authn *Authenticator, loginLimiter, forgotLimiter *RateLimiter) {
	mux.HandleFunc("POST "+basePath+"/auth/register", h.Register)
	mux.HandleFunc("GET "+basePath+"/auth/confirm/{token}", h.Confirm)
	mux.Handle("POST "+basePath+"/auth/login", loginLimiter.Middleware(http.HandlerFunc(h.Login)))
	mux.Handle("POST "+basePath+"/auth/logout", authn.RequireIdentity(http.HandlerFunc(h.Logout)))
	mux.HandleFunc("POST "+basePath+"/auth/refresh", h.Refresh)
	mux.Handle("POST "+basePath+"/auth/forgot-password", forgotLimiter.Middleware(http.HandlerFunc(h.ForgotPassword)))
	mux.HandleFunc("POST "+basePath+"/auth/reset-password/{token}", h.ResetPassword)
	mux.Handle("POST "+basePath+"/auth/change-password", authn.RequireIdentity(http.HandlerFunc(h.ChangePassword)))
	mux.Handle("GET "+basePath+"/auth/me", authn.RequireIdentity(http.HandlerFunc(h.Me)))
}

type loginResponse struct {
	User                 User  `json:"user"`
	AccessTokenMaxAgeMs  int64 `json:"accessTokenMaxAgeMs"`
	RefreshTokenMaxAgeMs int64 `json:"refreshTokenMaxAgeMs"`
}

type refreshResponse struct {
	AccessTokenMaxAgeMs int64 `json:"accessTokenMaxAgeMs"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}

	h.record("register", "ok")
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Confirm(r.Context(), r.PathValue("token"), r.URL.Query().Get("code"))
	if err != nil {
		h.fail(w, r, "confirm", err)
		return
	}

	h.record("confirm", "ok")
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !decodeJSON(w, r, &body) {
		return
	}

	session, err := h.service.Login(r.Context(), body)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	accessTTL, refreshTTL := h.service.AccessTTL(), h.service.RefreshTTL()
	h.cookies.set(w, AccessCookieName, session.AccessToken.Value, accessTTL)
	h.cookies.set(w, RefreshCookieName, session.RefreshToken.Value, refreshTTL)

	h.record("login", "ok")
	writeJSON(w, http.StatusOK, loginResponse{
		User:                 session.User,
		AccessTokenMaxAgeMs:  accessTTL.Milliseconds(),
		RefreshTokenMaxAgeMs: refreshTTL.Milliseconds(),
	})
}

// Logout clears both cookies even when the server side delete fails.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeDomainError(w, ErrAuthenticationRequired)
		return
	}

	h.cookies.clear(w, AccessCookieName)
	h.cookies.clear(w, RefreshCookieName)

	if err := h.service.Logout(r.Context(), identity); err != nil {
		h.fail(w, r, "logout", err)
		return
	}

	h.record("logout", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	in := RefreshInput{}
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		in.RefreshToken = cookie.Value
	}
	if cookie, err := r.Cookie(AccessCookieName); err == nil && cookie.Value != "" {
		in.HasAccessToken = true
	}

	access, err := h.service.Refresh(r.Context(), in)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}

	ttl := h.service.AccessTTL()
	h.cookies.set(w, AccessCookieName, access.Value, ttl)

	h.record("refresh", "ok")
	writeJSON(w, http.StatusOK, refreshResponse{AccessTokenMaxAgeMs: ttl.Milliseconds()})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email); err != nil {
		h.fail(w, r, "forgot_password", err)
		return
	}

	h.record("forgot_password", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "password reset link sent"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body ResetPasswordInput
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Token = r.PathValue("token")

	if err := h.service.ResetPassword(r.Context(), body); err != nil {
		h.fail(w, r, "reset_password", err)
		return
	}

	h.record("reset_password", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "password has been reset"})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeDomainError(w, ErrAuthenticationRequired)
		return
	}

	var body ChangePasswordInput
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), identity, body); err != nil {
		h.fail(w, r, "change_password", err)
		return
	}

	h.record("change_password", "ok")
	writeJSON(w, http.StatusOK, messageResponse{Message: "password has been changed"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeDomainError(w, ErrAuthenticationRequired)
		return
	}

	user, err := h.service.CurrentUser(r.Context(), identity)
	if err != nil {
		h.fail(w, r, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// fail renders domain errors as-is. Anything else is reported and hidden
// behind a generic 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	if domainErr, ok := AsError(err); ok {
		h.record(operation, string(domainErr.Kind))
		writeDomainError(w, domainErr)
		return
	}

	h.record(operation, "error")
	h.logger.Err("auth_operation_failed", err, map[string]any{
		"operation": operation,
		"path":      observability.MaskPath(r.URL.Path),
	})
	observability.CaptureError(r.Context(), err, map[string]string{"operation": operation})
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) record(operation, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordAuthOutcome(operation, outcome)
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   Kind              `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeDomainError(w, ValidationError(map[string]string{"body": "invalid json body"}))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err *Error) {
	writeJSON(w, err.Status, errorResponse{Error: err.Message, Kind: err.Kind, Fields: err.Fields})
}

// WriteError renders err the way auth handlers do, for other packages that
// sit behind RequireIdentity.
func WriteError(w http.ResponseWriter, err *Error) {
	writeDomainError(w, err)
}
