package blog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"blog-api/internal/db"
)

type Repository struct {
	db db.DB
}

func NewRepository(database db.DB) *Repository {
	return &Repository{db: database}
}

// Like records a like. Liking twice is a no-op.
func (r *Repository) Like(ctx context.Context, userID, postID string) error {
	return r.exec(ctx, "like post", `
		INSERT INTO likes (user_id, post_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, post_id) DO NOTHING
	`, userID, postID, time.Now().UTC())
}

func (r *Repository) Unlike(ctx context.Context, userID, postID string) error {
	return r.exec(ctx, "unlike post", `DELETE FROM likes WHERE user_id = $1 AND post_id = $2`, userID, postID)
}

// Save bookmarks a post. Saving twice is a no-op.
func (r *Repository) Save(ctx context.Context, userID, postID string) error {
	return r.exec(ctx, "save post", `
		INSERT INTO saves (user_id, post_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, post_id) DO NOTHING
	`, userID, postID, time.Now().UTC())
}

func (r *Repository) Unsave(ctx context.Context, userID, postID string) error {
	return r.exec(ctx, "unsave post", `DELETE FROM saves WHERE user_id = $1 AND post_id = $2`, userID, postID)
}

func (r *Repository) ListSaves(ctx context.Context, userID string) ([]SavedPost, error) {
	rows, err := r.db.Query(ctx, `
		SELECT post_id, created_at
		FROM saves
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, oops.Code("BLOG_STORE_QUERY_FAILED").With("operation", "list saves").Wrap(err)
	}

	saves, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SavedPost, error) {
		var s SavedPost
		err := row.Scan(&s.PostID, &s.SavedAt)
		return s, err
	})
	if err != nil {
		return nil, oops.Code("BLOG_STORE_QUERY_FAILED").With("operation", "scan saves").Wrap(err)
	}
	return saves, nil
}

func (r *Repository) AddComment(ctx context.Context, userID, username, postID, body string) (Comment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Comment{}, oops.Code("BLOG_STORE_EXEC_FAILED").With("operation", "generate comment id").Wrap(err)
	}

	c := Comment{
		ID:        id.String(),
		PostID:    postID,
		UserID:    userID,
		Username:  username,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.exec(ctx, "insert comment", `
		INSERT INTO comments (id, post_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.PostID, c.UserID, c.Body, c.CreatedAt); err != nil {
		return Comment{}, err
	}
	return c, nil
}

// DeleteComment removes a comment owned by userID. A comment owned by
// someone else is left untouched and reported as ErrNotAuthor.
func (r *Repository) DeleteComment(ctx context.Context, userID, commentID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM comments WHERE id = $1 AND user_id = $2`, commentID, userID)
	if err != nil {
		return oops.Code("BLOG_STORE_EXEC_FAILED").With("operation", "delete comment").Wrap(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comments WHERE id = $1)`, commentID).Scan(&exists)
	if err != nil {
		return oops.Code("BLOG_STORE_QUERY_FAILED").With("operation", "check comment").Wrap(err)
	}
	if exists {
		return ErrNotAuthor
	}
	return ErrCommentNotFound
}

func (r *Repository) ListComments(ctx context.Context, postID string, limit int) ([]Comment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.post_id, c.user_id, u.username, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.post_id = $1
		ORDER BY c.created_at ASC
		LIMIT $2
	`, postID, limit)
	if err != nil {
		return nil, oops.Code("BLOG_STORE_QUERY_FAILED").With("operation", "list comments").Wrap(err)
	}

	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Comment, error) {
		var c Comment
		err := row.Scan(&c.ID, &c.PostID, &c.UserID, &c.Username, &c.Body, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, oops.Code("BLOG_STORE_QUERY_FAILED").With("operation", "scan comments").Wrap(err)
	}
	return comments, nil
}

func (r *Repository) exec(ctx context.Context, operation, sql string, args ...any) error {
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return oops.Code("BLOG_STORE_EXEC_FAILED").With("operation", operation).Wrap(err)
	}
	return nil
}
