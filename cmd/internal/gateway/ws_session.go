package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	v1 "tasklink/contracts/realtime/v1"
)

// frameError is answered to the client as an error frame with Code.
type frameError struct {
	Code    string
	Message string
}

func (e *frameError) Error() string { return e.Code + ": " + e.Message }

func rejectFrame(code, format string, args ...any) error {
	return &frameError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wsSession is the per-connection room membership. A session may be in any
// number of task rooms; once closed it joins none.
type wsSession struct {
	g    *WSGateway
	who  Identity
	peer *Peer

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func (s *wsSession) join(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.rooms[taskID]; ok {
		return false
	}
	s.rooms[taskID] = struct{}{}
	s.g.hub.Join(taskID, s.peer)
	return true
}

func (s *wsSession) leave(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[taskID]; !ok {
		return false
	}
	delete(s.rooms, taskID)
	s.g.hub.Leave(taskID, s.peer.SessionID)
	return true
}

func (s *wsSession) has(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[taskID]
	return ok
}

func (s *wsSession) leaveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for taskID := range s.rooms {
		s.g.hub.Leave(taskID, s.peer.SessionID)
	}
	s.rooms = map[string]struct{}{}
	s.g.metrics.setRooms(s.g.hub.RoomCount())
}

// route handles one validated frame.
func (g *WSGateway) route(ctx context.Context, s *wsSession, msg v1.Message, now time.Time) error {
	switch msg.Type {
	case v1.TypePing:
		if !g.enqueue(ctx, s.peer, v1.Pong()) {
			return rejectFrame("backpressure", "pong dropped")
		}
		return nil

	case v1.TypePong:
		// Liveness is tracked by the websocket-level heartbeat.
		return nil

	case v1.TypeJoinTask:
		return g.onJoin(ctx, s, strings.TrimSpace(msg.TaskID))

	case v1.TypeLeaveTask:
		taskID := strings.TrimSpace(msg.TaskID)
		if s.leave(taskID) {
			g.metrics.setRooms(g.hub.RoomCount())
			g.log.Debug("ws.room.leave", "session_id", s.peer.SessionID, "task_id", taskID)
		}
		return nil

	case v1.TypeNewComment:
		return g.onComment(ctx, s, msg, now)

	case v1.TypeTypingIndicator:
		return g.onTyping(s, msg)

	default:
		return rejectFrame("unsupported", "unsupported type: %s", msg.Type)
	}
}

func (g *WSGateway) onJoin(ctx context.Context, s *wsSession, taskID string) error {
	if s.has(taskID) {
		return nil
	}
	if err := g.authorize(ctx, s.who, taskID); err != nil {
		return err
	}
	if s.join(taskID) {
		g.metrics.setRooms(g.hub.RoomCount())
		g.log.Debug("ws.room.join", "session_id", s.peer.SessionID, "task_id", taskID)
	}
	return nil
}

func (g *WSGateway) onComment(ctx context.Context, s *wsSession, msg v1.Message, now time.Time) error {
	taskID := strings.TrimSpace(msg.TaskID)

	content := strings.TrimSpace(msg.Comment.Content)
	if content == "" {
		g.metrics.comment("rejected")
		return rejectFrame("invalid_comment", "empty content")
	}
	if utf8.RuneCountInString(content) > maxCommentChars {
		g.metrics.comment("rejected")
		return rejectFrame("invalid_comment", "comment too long: max=%d chars", maxCommentChars)
	}

	member := s.has(taskID)
	if !member {
		if err := g.authorize(ctx, s.who, taskID); err != nil {
			g.metrics.comment("rejected")
			return err
		}
	}

	messageID := strings.TrimSpace(msg.MessageID)
	if messageID == "" {
		messageID = "srv-" + NewCommentID(now)
	}

	res, err := g.store.AppendComment(ctx, AppendCommentInput{
		TaskID:    taskID,
		MessageID: messageID,
		UserID:    s.who.UserID,
		UserName:  s.who.UserName,
		Content:   content,
		Now:       now,
	})
	if err != nil {
		g.metrics.comment("error")
		g.log.Error("ws.comment.store.fail", "session_id", s.peer.SessionID, "task_id", taskID, "err", err)
		return rejectFrame("comment_failed", "could not store comment")
	}

	out := v1.BroadcastComment(res.Comment, messageID)

	if res.Duplicated {
		g.metrics.comment("duplicate")
		g.enqueue(ctx, s.peer, out)
		return nil
	}
	g.metrics.comment("stored")

	n := 0
	if room := g.hub.Room(taskID); room != nil {
		n = room.Broadcast(out, "")
	}
	g.metrics.delivered(n)
	if !member {
		g.enqueue(ctx, s.peer, out)
	}

	g.log.Debug("ws.comment.stored", "task_id", taskID, "comment_id", res.Comment.ID, "message_id", messageID, "delivered", n)
	return nil
}

func (g *WSGateway) onTyping(s *wsSession, msg v1.Message) error {
	taskID := strings.TrimSpace(msg.TaskID)
	if !s.has(taskID) {
		return rejectFrame("not_joined", "join the task first")
	}

	out := v1.TypingIndicator(taskID, *msg.IsTyping)
	out.UserID = s.who.UserID
	out.UserName = s.who.UserName

	if room := g.hub.Room(taskID); room != nil {
		g.metrics.delivered(room.Broadcast(out, s.peer.SessionID))
	}
	return nil
}

func (g *WSGateway) authorize(ctx context.Context, who Identity, taskID string) error {
	ok, err := g.authz.CanAccessTask(ctx, who.UserID, taskID)
	if err != nil {
		g.log.Error("ws.authorize.fail", "user_id", who.UserID, "task_id", taskID, "err", err)
		return rejectFrame("unavailable", "authorization unavailable")
	}
	if !ok {
		return rejectFrame("forbidden", "not allowed to access task %s", taskID)
	}
	return nil
}
