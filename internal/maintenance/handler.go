package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"blog-api/internal/auth"
	"blog-api/internal/observability"
)

// Cleaner removes auth state that can no longer be used.
type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, now time.Time, refreshRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

// CleanupHandler is hit by an external scheduler with the cron secret as a
// bearer token. Without a configured secret the route does not exist.
type CleanupHandler struct {
	cleaner          Cleaner
	logger           *observability.Logger
	cronSecret       string
	refreshRetention time.Duration
	batchSize        int
	now              func() time.Time
}

func NewCleanupHandler(
	cleaner Cleaner,
	logger *observability.Logger,
	cronSecret string,
	refreshRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		cleaner:          cleaner,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		refreshRetention: refreshRetention,
		batchSize:        batchSize,
		now:              time.Now,
	}
}

func (h *CleanupHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/maintenance/cleanup", h.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", h.Handle)
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	started := h.now()
	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), started.UTC(), h.refreshRetention, h.batchSize)
	if err != nil {
		h.logger.Err("auth_cleanup_failed", err, nil)
		observability.CaptureError(r.Context(), err, map[string]string{"operation": "auth_cleanup"})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"cleared_reset_tokens":   result.ClearedResetTokens,
		"deleted_refresh_tokens": result.DeletedRefreshTokens,
		"duration_ms":            h.now().Sub(started).Milliseconds(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
