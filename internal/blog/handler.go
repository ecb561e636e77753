package blog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"blog-api/internal/auth"
	"blog-api/internal/observability"
)

const (
	maxJSONBodyBytes    = 1 << 20
	maxCommentRunes     = 2000
	defaultCommentLimit = 50
	maxCommentLimit     = 100
)

// Store is the persistence the engagement endpoints need.
type Store interface {
	Like(ctx context.Context, userID, postID string) error
	Unlike(ctx context.Context, userID, postID string) error
	Save(ctx context.Context, userID, postID string) error
	Unsave(ctx context.Context, userID, postID string) error
	ListSaves(ctx context.Context, userID string) ([]SavedPost, error)
	AddComment(ctx context.Context, userID, username, postID, body string) (Comment, error)
	DeleteComment(ctx context.Context, userID, commentID string) error
	ListComments(ctx context.Context, postID string, limit int) ([]Comment, error)
}

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts the engagement endpoints. Everything except reading
// comments requires an authenticated identity.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, basePath string, authn *auth.Authenticator) {
	protected := func(fn http.HandlerFunc) http.Handler {
		return authn.RequireIdentity(fn)
	}

	mux.Handle("POST "+basePath+"/posts/{postId}/like", protected(h.LikePost))
	mux.Handle("DELETE "+basePath+"/posts/{postId}/like", protected(h.UnlikePost))
	mux.Handle("POST "+basePath+"/posts/{postId}/comments", protected(h.AddComment))
	mux.HandleFunc("GET "+basePath+"/posts/{postId}/comments", h.ListComments)
	mux.Handle("DELETE "+basePath+"/comments/{commentId}", protected(h.DeleteComment))
	mux.Handle("POST "+basePath+"/posts/{postId}/save", protected(h.SavePost))
	mux.Handle("DELETE "+basePath+"/posts/{postId}/save", protected(h.UnsavePost))
	mux.Handle("GET "+basePath+"/me/saves", protected(h.ListSaves))
}

func (h *Handler) LikePost(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "like_post", h.store.Like, http.StatusOK, map[string]bool{"liked": true})
}

func (h *Handler) UnlikePost(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "unlike_post", h.store.Unlike, http.StatusNoContent, nil)
}

func (h *Handler) SavePost(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "save_post", h.store.Save, http.StatusOK, map[string]bool{"saved": true})
}

func (h *Handler) UnsavePost(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "unsave_post", h.store.Unsave, http.StatusNoContent, nil)
}

func (h *Handler) toggle(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	apply func(ctx context.Context, userID, postID string) error,
	status int,
	body any,
) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrAuthenticationRequired)
		return
	}
	postID, ok := pathUUID(w, r, "postId")
	if !ok {
		return
	}

	if err := apply(r.Context(), identity.UserID, postID); err != nil {
		h.fail(w, r, operation, err)
		return
	}

	if body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrAuthenticationRequired)
		return
	}
	postID, ok := pathUUID(w, r, "postId")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var input CommentInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		auth.WriteError(w, auth.ValidationError(map[string]string{"body": "invalid json body"}))
		return
	}

	input.Body = strings.TrimSpace(input.Body)
	if input.Body == "" {
		auth.WriteError(w, auth.ValidationError(map[string]string{"body": "comment cannot be empty"}))
		return
	}
	if !utf8.ValidString(input.Body) || utf8.RuneCountInString(input.Body) > maxCommentRunes {
		auth.WriteError(w, auth.ValidationError(map[string]string{"body": "comment must be at most 2000 characters"}))
		return
	}

	comment, err := h.store.AddComment(r.Context(), identity.UserID, identity.Username, postID, input.Body)
	if err != nil {
		h.fail(w, r, "add_comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrAuthenticationRequired)
		return
	}
	commentID, ok := pathUUID(w, r, "commentId")
	if !ok {
		return
	}

	err := h.store.DeleteComment(r.Context(), identity.UserID, commentID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrCommentNotFound):
		auth.WriteError(w, auth.ErrNotFound)
	case errors.Is(err, ErrNotAuthor):
		auth.WriteError(w, auth.ErrForbidden)
	default:
		h.fail(w, r, "delete_comment", err)
	}
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathUUID(w, r, "postId")
	if !ok {
		return
	}

	limit := defaultCommentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCommentLimit {
			auth.WriteError(w, auth.ValidationError(map[string]string{"limit": "limit must be between 1 and 100"}))
			return
		}
		limit = n
	}

	comments, err := h.store.ListComments(r.Context(), postID, limit)
	if err != nil {
		h.fail(w, r, "list_comments", err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handler) ListSaves(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrAuthenticationRequired)
		return
	}

	saves, err := h.store.ListSaves(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, r, "list_saves", err)
		return
	}
	writeJSON(w, http.StatusOK, saves)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	h.logger.Err("blog_operation_failed", err, map[string]any{
		"operation": operation,
		"path":      r.URL.Path,
	})
	observability.CaptureError(r.Context(), err, map[string]string{"operation": operation})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		auth.WriteError(w, auth.ValidationError(map[string]string{name: "must be a valid id"}))
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
