package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "tasklink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "tasklink.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is optional by default: the CLI client sends none. Browsers do,
	// and only localhost origins are allowed unless configured.
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Deps are the collaborators of a WSGateway. Nil fields fall back to dev
// defaults: a fresh Hub, an in-memory store, a resolver keyed by
// TASKLINK_WS_JWT_SECRET and an authorizer admitting everyone.
type Deps struct {
	Hub        *Hub
	Store      CommentStore
	Identity   *IdentityResolver
	Authorizer RoomAuthorizer
	Metrics    *Metrics
}

// WSGateway is the websocket entrypoint for tasklink realtime.
//
// It enforces origin policy, token auth, rate limits and heartbeats, and
// routes validated frames to the Hub and CommentStore.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	store    CommentStore
	identity *IdentityResolver
	authz    RoomAuthorizer
	metrics  *Metrics

	devInsecure        bool
	requireSubprotocol bool
	originRequired     bool
	allowedOrigins     []string

	// Derived for websocket.Accept, which only authorizes same-host origins
	// unless OriginPatterns lists the cross-origin hosts.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	now func() time.Time
}

// NewWSGateway constructs a gateway from deps and TASKLINK_WS_* env knobs.
func NewWSGateway(log *slog.Logger, deps Deps) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &WSGateway{
		log:      log,
		hub:      deps.Hub,
		store:    deps.Store,
		identity: deps.Identity,
		authz:    deps.Authorizer,
		metrics:  deps.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if g.hub == nil {
		g.hub = NewHub(log)
	}
	if g.store == nil {
		g.store = NewInMemoryCommentStore()
	}
	if g.identity == nil {
		g.identity = NewIdentityResolver(os.Getenv("TASKLINK_WS_JWT_SECRET"))
	}
	if g.authz == nil {
		g.authz = AllowAll{}
	}

	// Dev-only: skips websocket.Accept's own origin verification.
	g.devInsecure = envBoolWS("TASKLINK_WS_DEV_INSECURE", false)
	g.requireSubprotocol = envBoolWS("TASKLINK_WS_REQUIRE_SUBPROTOCOL", false)

	g.originRequired = envBoolWS("TASKLINK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("TASKLINK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("TASKLINK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("TASKLINK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("TASKLINK_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("TASKLINK_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("TASKLINK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("TASKLINK_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("TASKLINK_WS_RATE_WINDOW", rateLimitWindow)

	log.Info("ws.gateway.config",
		"verify_tokens", g.identity.Verifies(),
		"origin_required", g.originRequired,
		"allowed_origins", strings.Join(g.allowedOrigins, ","),
		"require_subprotocol", g.requireSubprotocol,
	)
	return g
}

// Hub returns the room registry.
func (g *WSGateway) Hub() *Hub { return g.hub }

// Store returns the comment store.
func (g *WSGateway) Store() CommentStore { return g.store }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a websocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.metrics.handshake("rejected_origin")
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	who, err := g.identity.Resolve(requestToken(r))
	if err != nil {
		g.metrics.handshake("rejected_auth")
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.metrics.handshake("accept_failed")
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if g.requireSubprotocol && conn.Subprotocol() != wsSubprotocolV1 {
		g.metrics.handshake("rejected_subprotocol")
		g.log.Info("ws.reject.subprotocol", "got", conn.Subprotocol(), "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.now())
	if err != nil {
		g.log.Error("ws.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	g.metrics.handshake("accepted")
	g.metrics.sessionOpened()
	defer g.metrics.sessionClosed()

	s := &wsSession{
		g:     g,
		who:   who,
		peer:  NewPeer(sessionID, who, g.sendQueueSize),
		rooms: make(map[string]struct{}),
	}

	log := g.log.With("session_id", sessionID, "user_id", who.UserID)
	log.Info("ws.session.open", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close peer.Send: rooms are left
	// before the peer is closed so concurrent broadcasts never hit a closed channel.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			s.leaveAll()
			s.peer.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.session.close", "code", int(code), "reason", reason)
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.peer.Done():
				return
			case msg := <-s.peer.Send:
				if err := writeFrame(ctx, conn, msg, g.writeTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.peer.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	if !g.enqueue(ctx, s.peer, v1.ConnectionEstablished(who.UserID)) {
		shutdown(websocket.StatusTryAgainLater, "backpressure")
	}

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := g.now()
		if !rl.Allow(now) {
			// Written directly: the queue is abandoned by shutdown.
			_ = writeFrame(ctx, conn, v1.ErrorNotice("rate_limited", "too many events"), g.writeTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var msg v1.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			g.metrics.frameIn("malformed")
			g.trySendError(ctx, s.peer, "bad_json", "invalid JSON")
			continue readLoop
		}
		if err := msg.Validate(); err != nil {
			g.metrics.frameIn("invalid")
			g.trySendError(ctx, s.peer, "bad_frame", err.Error())
			continue readLoop
		}
		g.metrics.frameIn(frameTypeLabel(msg.Type))

		if err := g.route(ctx, s, msg, now); err != nil {
			code, text := "request_failed", err.Error()
			var fe *frameError
			if errors.As(err, &fe) {
				code, text = fe.Code, fe.Message
			}
			log.Debug("ws.frame.reject", "type", msg.Type, "task_id", msg.TaskID, "code", code)
			g.trySendError(ctx, s.peer, code, text)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, p *Peer, code, msg string) {
	_ = g.enqueue(ctx, p, v1.ErrorNotice(code, msg))
}

func (g *WSGateway) enqueue(ctx context.Context, p *Peer, msg v1.Message) bool {
	if ctx.Err() != nil {
		return false
	}
	return p.offer(msg)
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, msg v1.Message, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// requestToken reads the session token from ?token= or an Authorization bearer header.
func requestToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func frameTypeLabel(typ string) string {
	switch typ {
	case v1.TypePing, v1.TypePong, v1.TypeJoinTask, v1.TypeLeaveTask, v1.TypeNewComment,
		v1.TypeTypingIndicator, v1.TypeConnectionEstablished, v1.TypeError:
		return typ
	default:
		return "other"
	}
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted allowlist hosts,
// each with and without a port wildcard. websocket.Accept matches them against
// the Origin host[:port] with filepath.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, 2*len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		if h == "*" {
			seen[h] = struct{}{}
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
