// Package comments keeps the per-task comment list a view renders and
// reconciles optimistic placeholders with confirmed server comments.
package comments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tasklink/cmd/internal/dispatch"
	v1 "tasklink/contracts/realtime/v1"
)

const (
	// OptimisticPrefix marks ids of comments not yet confirmed by the server.
	OptimisticPrefix = "temp-"

	// MetaMessageID is the metadata key holding a placeholder's correlation id.
	MetaMessageID = "messageId"

	DefaultFetchLimit = 50
)

// Fetcher loads a page of comments. *api.Client satisfies it.
type Fetcher interface {
	GetTaskComments(ctx context.Context, taskID string, limit int) (v1.CommentsPage, error)
}

// Sender posts a comment and returns its correlation id. *realtime.Manager satisfies it.
type Sender interface {
	SendComment(taskID, content string) string
}

// Source delivers live frames. *realtime.Manager satisfies it.
type Source interface {
	On(typ string, fn dispatch.Handler) *dispatch.Subscription
	Off(typ string, sub *dispatch.Subscription)
	IsConnected() bool
}

// IsOptimistic reports whether c is a local placeholder.
func IsOptimistic(c v1.Comment) bool {
	return strings.HasPrefix(c.ID, OptimisticPrefix)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithOnChange registers fn to receive a copy of the list after every mutation.
func WithOnChange(fn func([]v1.Comment)) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the comment list of one task. It is safe for concurrent use:
// live frames arrive on the connection's read goroutine while the view
// adds comments from its own.
type Store struct {
	taskID  string
	fetcher Fetcher
	sender  Sender
	log     *slog.Logger
	now     func() time.Time

	onChange func([]v1.Comment)

	mu       sync.Mutex
	list     []v1.Comment
	hydrated bool
	hasMore  bool
	loading  int
	seq      uint64

	src        Source
	mounted    bool
	commentSub *dispatch.Subscription
	openSub    *dispatch.Subscription
}

// NewStore builds an empty store for taskID. fetcher and sender may be nil
// when the caller only applies live frames.
func NewStore(taskID string, fetcher Fetcher, sender Sender, opts ...Option) *Store {
	s := &Store{
		taskID:  taskID,
		fetcher: fetcher,
		sender:  sender,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TaskID returns the task the store belongs to.
func (s *Store) TaskID() string { return s.taskID }

// Comments returns a copy of the list in arrival order.
func (s *Store) Comments() []v1.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// Hydrated reports whether a fetch has succeeded at least once.
func (s *Store) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// HasMore reports the hasMore flag of the last successful fetch.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// SetComments replaces the list.
func (s *Store) SetComments(list []v1.Comment) {
	s.mu.Lock()
	s.list = append([]v1.Comment(nil), list...)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(snap)
}

// Fetch loads up to limit comments. The first success replaces the server
// view of the list; local entries the page does not contain (placeholders and
// comments received live) are kept after it. An unsent placeholder is folded
// into a page comment with the same content that is not older than it; a sent
// one waits for its confirmation. Later fetches append unseen ids only. On
// failure the list is left untouched.
func (s *Store) Fetch(ctx context.Context, limit int) error {
	if s.fetcher == nil {
		return fmt.Errorf("comments: fetch %s: no fetcher configured", s.taskID)
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	s.mu.Lock()
	s.loading++
	s.mu.Unlock()

	page, err := s.fetcher.GetTaskComments(ctx, s.taskID, limit)

	s.mu.Lock()
	s.loading--
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("comments.fetch.fail", "task_id", s.taskID, "err", err)
		return fmt.Errorf("comments: fetch %s: %w", s.taskID, err)
	}

	added := 0
	if !s.hydrated {
		merged := append([]v1.Comment(nil), page.Comments...)
		seen := idSet(merged)
		used := make(map[int]struct{})
		for _, c := range s.list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			if IsOptimistic(c) && !isBound(c) {
				if i := pageMatch(page.Comments, c, used); i >= 0 {
					used[i] = struct{}{}
					continue
				}
			}
			merged = append(merged, c)
		}
		s.list = merged
		s.hydrated = true
		added = len(page.Comments)
	} else {
		seen := idSet(s.list)
		for _, c := range page.Comments {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			s.list = append(s.list, c)
			added++
		}
	}
	s.hasMore = page.HasMore
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug("comments.fetch.ok", "task_id", s.taskID, "added", added, "has_more", page.HasMore)
	s.changed(snap)
	return nil
}

// AddOptimistic appends a placeholder for content and returns it.
func (s *Store) AddOptimistic(content string) v1.Comment {
	now := s.now()

	s.mu.Lock()
	s.seq++
	c := v1.Comment{
		ID:        OptimisticPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(s.seq, 10),
		TaskID:    s.taskID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.list = append(s.list, c)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(snap)
	return c
}

// AddComment appends a placeholder and posts content through the sender.
// The returned placeholder carries the correlation id in its metadata.
func (s *Store) AddComment(content string) v1.Comment {
	c := s.AddOptimistic(content)
	if s.sender == nil {
		return c
	}

	msgID := s.sender.SendComment(s.taskID, content)

	s.mu.Lock()
	i := s.indexLocked(c.ID)
	if i >= 0 {
		meta := make(map[string]any, len(s.list[i].Metadata)+1)
		for k, v := range s.list[i].Metadata {
			meta[k] = v
		}
		meta[MetaMessageID] = msgID
		s.list[i].Metadata = meta
		c = s.list[i]
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if i < 0 {
		// Confirmed before the correlation id was recorded.
		c.Metadata = map[string]any{MetaMessageID: msgID}
		return c
	}
	s.changed(snap)
	return c
}

// Apply reconciles a new_comment frame for this task. It reports whether the
// list changed.
//
// A comment whose id is already present is ignored. Otherwise a placeholder
// is replaced in place, matched first by correlation id and then by content;
// with no match the comment is appended.
func (s *Store) Apply(msg v1.Message) bool {
	if msg.Type != v1.TypeNewComment || msg.Comment == nil || msg.TaskID != s.taskID {
		return false
	}
	c := *msg.Comment
	if c.TaskID == "" {
		c.TaskID = msg.TaskID
	}

	s.mu.Lock()
	if c.ID != "" && s.indexLocked(c.ID) >= 0 {
		s.mu.Unlock()
		return false
	}

	idx := -1
	if msg.MessageID != "" {
		idx = s.placeholderByMessageIDLocked(msg.MessageID)
	}
	if idx < 0 {
		idx = s.placeholderByContentLocked(c.Content, msg.MessageID)
	}

	if idx >= 0 {
		s.list[idx] = c
	} else {
		s.list = append(s.list, c)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug("comments.apply", "task_id", s.taskID, "comment_id", c.ID, "replaced", idx >= 0)
	s.changed(snap)
	return true
}

// Mount subscribes to live comments from src. When src is not connected yet
// the subscription is attached on the next connection_established frame.
func (s *Store) Mount(src Source) {
	if src == nil {
		return
	}

	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = true
	s.src = src
	s.mu.Unlock()

	openSub := src.On(v1.TypeConnectionEstablished, func(v1.Message) { s.attach() })

	s.mu.Lock()
	s.openSub = openSub
	s.mu.Unlock()

	if src.IsConnected() {
		s.attach()
	}
}

// Unmount removes every subscription made by Mount.
func (s *Store) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	src := s.src
	commentSub, openSub := s.commentSub, s.openSub
	s.mounted = false
	s.src = nil
	s.commentSub = nil
	s.openSub = nil
	s.mu.Unlock()

	src.Off(v1.TypeNewComment, commentSub)
	src.Off(v1.TypeConnectionEstablished, openSub)
}

func (s *Store) attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted || s.commentSub != nil {
		return
	}
	s.commentSub = s.src.On(v1.TypeNewComment, func(m v1.Message) { s.Apply(m) })
}

func (s *Store) indexLocked(id string) int {
	for i := range s.list {
		if s.list[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) placeholderByMessageIDLocked(msgID string) int {
	for i := range s.list {
		if !IsOptimistic(s.list[i]) {
			continue
		}
		if v, ok := s.list[i].Metadata[MetaMessageID].(string); ok && v == msgID {
			return i
		}
	}
	return -1
}

// placeholderByContentLocked skips placeholders already bound to a different
// correlation id.
func (s *Store) placeholderByContentLocked(content, msgID string) int {
	for i := range s.list {
		c := s.list[i]
		if !IsOptimistic(c) || c.Content != content {
			continue
		}
		if bound, ok := c.Metadata[MetaMessageID].(string); ok && bound != "" && msgID != "" && bound != msgID {
			continue
		}
		return i
	}
	return -1
}

func (s *Store) snapshotLocked() []v1.Comment {
	return append([]v1.Comment(nil), s.list...)
}

func (s *Store) changed(snap []v1.Comment) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func idSet(list []v1.Comment) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, c := range list {
		out[c.ID] = struct{}{}
	}
	return out
}

// isBound reports whether a placeholder was handed to the transport. Bound
// placeholders are reconciled by their confirmation only.
func isBound(c v1.Comment) bool {
	v, ok := c.Metadata[MetaMessageID].(string)
	return ok && v != ""
}

// pageMatch returns the index of an unused page comment that can stand for
// placeholder p, or -1. A comment created before p cannot be its echo.
func pageMatch(page []v1.Comment, p v1.Comment, used map[int]struct{}) int {
	for i, c := range page {
		if _, ok := used[i]; ok || c.Content != p.Content {
			continue
		}
		if !c.CreatedAt.IsZero() && !p.CreatedAt.IsZero() && c.CreatedAt.Before(p.CreatedAt) {
			continue
		}
		return i
	}
	return -1
}
