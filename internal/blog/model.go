package blog

import (
	"errors"
	"time"
)

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type SavedPost struct {
	PostID  string    `json:"postId"`
	SavedAt time.Time `json:"savedAt"`
}

type CommentInput struct {
	Body string `json:"body"`
}

var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrNotAuthor       = errors.New("only the author can delete this comment")
)
