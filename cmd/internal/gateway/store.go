package gateway

import (
	"context"
	"errors"
	"time"

	v1 "tasklink/contracts/realtime/v1"
)

var (
	// ErrInvalidComment is returned for append requests missing required fields.
	ErrInvalidComment = errors.New("gateway: invalid comment")
	// ErrMissingTask is returned when a query names no task.
	ErrMissingTask = errors.New("gateway: missing task id")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CommentStore persists and queries task comments.
//
// Requirements:
//   - Idempotency per (task_id, message_id)
//   - ListComments returns the latest Limit comments in chronological order,
//     with HasMore set when older ones exist
type CommentStore interface {
	AppendComment(ctx context.Context, in AppendCommentInput) (AppendCommentResult, error)
	ListComments(ctx context.Context, in ListCommentsInput) (ListCommentsResult, error)
	Close() error
}

// AppendCommentInput describes a comment append request.
type AppendCommentInput struct {
	TaskID    string
	MessageID string
	UserID    string
	UserName  string
	Content   string
	Now       time.Time
}

// AppendCommentResult is the append operation result.
type AppendCommentResult struct {
	Comment    v1.Comment
	Duplicated bool
}

// ListCommentsInput describes a comments query.
type ListCommentsInput struct {
	TaskID string
	Limit  int
}

// ListCommentsResult contains the retrieved window.
type ListCommentsResult struct {
	Comments []v1.Comment
	HasMore  bool
}

func (in AppendCommentInput) validate() error {
	if in.TaskID == "" || in.MessageID == "" || in.UserID == "" || in.Content == "" {
		return ErrInvalidComment
	}
	return nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
