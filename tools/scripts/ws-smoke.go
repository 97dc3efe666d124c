// Package main provides a CI-friendly WebSocket smoke test for the tasklink gateway.
//
// It validates:
//   - token handshake + connection_established
//   - join_task for two clients (ping/pong used as an ordering barrier)
//   - new_comment fanout to both room members with the sender's messageId
//   - the comment appears on the REST comments page
//   - idempotent dedupe by messageId (re-sent only to the sender)
//   - typing_indicator reaches the other member only
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "tasklink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	userID string

	inbox chan v1.Message
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "smoke-a", "bearer token of client A")
		tokenB  = flag.String("token-b", "smoke-b", "bearer token of client B")
		taskID  = flag.String("task", "smoke-task-1", "Task ID to join")
		text    = flag.String("text", "hello tasklink 👋", "Comment text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustJoin(root, a, *taskID, *timeout)
	mustJoin(root, b, *taskID, *timeout)

	messageID := fmt.Sprintf("%d-smoke", time.Now().UnixMilli())
	mustWriteWithTimeout(root, a.conn, v1.PostComment(*taskID, *text, messageID), *timeout)

	mine := mustAssertComment(root, a, *taskID, messageID, a.userID, *text, *timeout)
	theirs := mustAssertComment(root, b, *taskID, messageID, a.userID, *text, *timeout)
	if mine.ID != theirs.ID {
		fatalf("comment id differs between members: A=%q B=%q", mine.ID, theirs.ID)
	}

	mustPageContains(root, *wsURL, *tokenB, *taskID, mine.ID, *text, *timeout)

	mustWriteWithTimeout(root, a.conn, v1.PostComment(*taskID, *text, messageID), *timeout)
	again := mustAssertComment(root, a, *taskID, messageID, a.userID, *text, *timeout)
	if again.ID != mine.ID {
		fatalf("dedupe: id mismatch: first=%q second=%q", mine.ID, again.ID)
	}
	mustAssertNoType(root, b, v1.TypeNewComment, 1200*time.Millisecond)

	mustWriteWithTimeout(root, a.conn, v1.TypingIndicator(*taskID, true), *timeout)
	typing := b.mustReadUntilType(root, v1.TypeTypingIndicator, *timeout, nil)
	if typing.UserID != a.userID || typing.IsTyping == nil || !*typing.IsTyping {
		fatalf("typing mismatch (B): user=%q typing=%v", typing.UserID, typing.IsTyping)
	}
	mustAssertNoType(root, a, v1.TypeTypingIndicator, 750*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s task_id=%s comment_id=%s message_id=%s\n", a.userID, b.userID, *taskID, mine.ID, messageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	u, _ := url.Parse(wsURL)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Message, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	est := c.mustReadUntilType(parent, v1.TypeConnectionEstablished, stepTimeout, nil)
	if strings.TrimSpace(est.UserID) == "" {
		fatalf("connection_established missing userId (%s)", name)
	}
	c.userID = est.UserID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var msg v1.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := msg.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- msg:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustJoin sends join_task and waits for the pong of a trailing ping. The
// gateway handles a session's frames in order, so the pong means the join
// was applied.
func mustJoin(parent context.Context, c *smokeClient, taskID string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.JoinTask(taskID), stepTimeout)
	mustWriteWithTimeout(parent, c.conn, v1.Ping(), stepTimeout)
	_ = c.mustReadUntilType(parent, v1.TypePong, stepTimeout, nil)
}

func mustAssertComment(parent context.Context, c *smokeClient, taskID, messageID, senderID, text string, stepTimeout time.Duration) v1.Comment {
	msg := c.mustReadUntilType(parent, v1.TypeNewComment, stepTimeout, nil)

	if msg.TaskID != taskID {
		fatalf("new_comment task mismatch (%s): got=%q want=%q", c.name, msg.TaskID, taskID)
	}
	if msg.MessageID != messageID {
		fatalf("new_comment messageId mismatch (%s): got=%q want=%q", c.name, msg.MessageID, messageID)
	}
	if msg.Comment == nil {
		fatalf("new_comment missing comment (%s)", c.name)
	}
	cm := *msg.Comment
	if strings.TrimSpace(cm.ID) == "" {
		fatalf("new_comment missing id (%s)", c.name)
	}
	if cm.UserID != senderID {
		fatalf("new_comment sender mismatch (%s): got=%q want=%q", c.name, cm.UserID, senderID)
	}
	if cm.Content != text {
		fatalf("new_comment content mismatch (%s): got=%q want=%q", c.name, cm.Content, text)
	}
	if cm.CreatedAt.IsZero() {
		fatalf("new_comment createdAt missing/zero (%s)", c.name)
	}
	return cm
}

func mustPageContains(parent context.Context, wsURL, token, taskID, commentID, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, _ := url.Parse(wsURL)
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/api/tasks/" + url.PathEscape(taskID) + "/comments"
	u.RawQuery = "limit=50"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		fatalf("page request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("page fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("page fetch status=%d", resp.StatusCode)
	}

	var page v1.CommentsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		fatalf("page decode: %v", err)
	}
	for _, cm := range page.Comments {
		if cm.ID == commentID && cm.Content == text {
			return
		}
	}
	fatalf("comments page missing %s (%d comments)", commentID, len(page.Comments))
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case msg, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if msg.Type == v1.TypeError {
				fatalf("server error (%s): code=%q msg=%q", c.name, msg.Error, msg.Message)
			}
			if msg.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Message {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case msg, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if msg.Type == wantType {
				return msg
			}
			if msg.Type == v1.TypeError {
				fatalf("server error (%s): code=%q msg=%q", c.name, msg.Error, msg.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[msg.Type]; ok {
					continue
				}
			}
			fatalf("unexpected frame type (%s): got=%q want=%q", c.name, msg.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, msg v1.Message, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
