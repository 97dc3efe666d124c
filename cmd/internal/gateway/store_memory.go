package gateway

import (
	"context"
	"sync"
	"time"

	v1 "tasklink/contracts/realtime/v1"
)

const memMaxCommentsPerTask = 10_000

// InMemoryCommentStore is the dev fallback when no database is configured.
type InMemoryCommentStore struct {
	mu    sync.Mutex
	tasks map[string]*memTask
}

type memTask struct {
	dedupe   map[string]v1.Comment // message_id -> stored comment
	comments []v1.Comment          // append order
}

// NewInMemoryCommentStore constructs an in-memory CommentStore.
func NewInMemoryCommentStore() *InMemoryCommentStore {
	return &InMemoryCommentStore{tasks: make(map[string]*memTask)}
}

// Close is a noop.
func (s *InMemoryCommentStore) Close() error { return nil }

// AppendComment stores a comment once per (task, message id).
func (s *InMemoryCommentStore) AppendComment(ctx context.Context, in AppendCommentInput) (AppendCommentResult, error) {
	if err := in.validate(); err != nil {
		return AppendCommentResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendCommentResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[in.TaskID]
	if t == nil {
		t = &memTask{dedupe: make(map[string]v1.Comment)}
		s.tasks[in.TaskID] = t
	}

	if existing, ok := t.dedupe[in.MessageID]; ok {
		return AppendCommentResult{Comment: existing, Duplicated: true}, nil
	}

	c := v1.Comment{
		ID:        NewCommentID(now),
		TaskID:    in.TaskID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.dedupe[in.MessageID] = c
	t.comments = append(t.comments, c)

	if len(t.comments) > memMaxCommentsPerTask {
		t.comments = t.comments[len(t.comments)-memMaxCommentsPerTask:]
	}

	return AppendCommentResult{Comment: c}, nil
}

// ListComments returns the latest comments of a task, oldest first.
func (s *InMemoryCommentStore) ListComments(ctx context.Context, in ListCommentsInput) (ListCommentsResult, error) {
	if in.TaskID == "" {
		return ListCommentsResult{}, ErrMissingTask
	}
	if err := ctx.Err(); err != nil {
		return ListCommentsResult{}, err
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[in.TaskID]
	if t == nil {
		return ListCommentsResult{Comments: []v1.Comment{}}, nil
	}

	all := t.comments
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := append([]v1.Comment(nil), all[start:]...)
	return ListCommentsResult{Comments: out, HasMore: start > 0}, nil
}
