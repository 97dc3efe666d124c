package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Transport is one live bidirectional connection carrying JSON text frames.
type Transport interface {
	// Read blocks until the next frame arrives or the connection ends.
	// A peer close is reported as a websocket.CloseError.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one frame.
	Write(ctx context.Context, data []byte) error
	// Close performs the closing handshake with the given status.
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens Transports. The returned error means the handshake never completed.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Transport, error)
}

// DefaultReadLimit caps inbound frame size.
const DefaultReadLimit = 1 << 20 // 1MiB

// WebsocketDialer dials real websocket connections with coder/websocket.
type WebsocketDialer struct {
	HTTPClient   *http.Client
	HTTPHeader   http.Header
	Subprotocols []string
	ReadLimit    int64
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   d.HTTPHeader,
		Subprotocols: d.Subprotocols,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if mt == websocket.MessageText || mt == websocket.MessageBinary {
			return data, nil
		}
	}
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

// WSPath is the websocket endpoint appended to the API origin.
const WSPath = "/ws"

// WebSocketURL derives the realtime endpoint from the REST API base URL:
// the trailing /api path segment is stripped, http(s) becomes ws(s), /ws is
// appended and the token is passed as a query parameter.
func WebSocketURL(apiBase, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("realtime: parse api base: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("realtime: unsupported api base scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("realtime: api base missing host")
	}

	p := strings.TrimSuffix(u.Path, "/")
	p = strings.TrimSuffix(p, "/api")
	u.Path = p + WSPath
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
