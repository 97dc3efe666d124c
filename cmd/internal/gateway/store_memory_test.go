package gateway

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryCommentStore_AppendIsIdempotentPerTask(t *testing.T) {
	t.Parallel()

	st := NewInMemoryCommentStore()
	ctx := context.Background()
	in := AppendCommentInput{TaskID: "task-1", MessageID: "m-1", UserID: "u-1", Content: "hi"}

	first, err := st.AppendComment(ctx, in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Duplicated || first.Comment.ID == "" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := st.AppendComment(ctx, in)
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicated || second.Comment.ID != first.Comment.ID {
		t.Fatalf("duplicate must return the stored comment: %+v", second)
	}

	// The same message id on another task is a different comment.
	in.TaskID = "task-2"
	other, err := st.AppendComment(ctx, in)
	if err != nil {
		t.Fatalf("append other task: %v", err)
	}
	if other.Duplicated || other.Comment.ID == first.Comment.ID {
		t.Fatalf("message ids are scoped per task: %+v", other)
	}
}

func TestInMemoryCommentStore_ListWindow(t *testing.T) {
	t.Parallel()

	st := NewInMemoryCommentStore()
	seedComments(t, st, "task-1", 5)

	out, err := st.ListComments(context.Background(), ListCommentsInput{TaskID: "task-1", Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !out.HasMore || len(out.Comments) != 3 {
		t.Fatalf("expected 3 comments with more, got %d hasMore=%v", len(out.Comments), out.HasMore)
	}
	if out.Comments[0].Content != "c2" || out.Comments[2].Content != "c4" {
		t.Fatalf("expected c2..c4, got %q..%q", out.Comments[0].Content, out.Comments[2].Content)
	}

	all, err := st.ListComments(context.Background(), ListCommentsInput{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.HasMore || len(all.Comments) != 5 {
		t.Fatalf("expected all 5 without more, got %d hasMore=%v", len(all.Comments), all.HasMore)
	}
}

func TestInMemoryCommentStore_InvalidInput(t *testing.T) {
	t.Parallel()

	st := NewInMemoryCommentStore()
	if _, err := st.AppendComment(context.Background(), AppendCommentInput{TaskID: "task-1"}); !errors.Is(err, ErrInvalidComment) {
		t.Fatalf("expected ErrInvalidComment, got %v", err)
	}
	if _, err := st.ListComments(context.Background(), ListCommentsInput{}); !errors.Is(err, ErrMissingTask) {
		t.Fatalf("expected ErrMissingTask, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := AppendCommentInput{TaskID: "task-1", MessageID: "m", UserID: "u", Content: "x"}
	if _, err := st.AppendComment(ctx, in); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
