// Package api is the REST client for the task comment endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tasklink/cmd/internal/session"
	v1 "tasklink/contracts/realtime/v1"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second

	maxErrorBody = 64 << 10
	maxPageBody  = 8 << 20
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DefaultHTTPClient bounds connect, TLS handshake and whole-request time.
func DefaultHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: defaultHTTPConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHTTPTimeout,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets a fixed bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = func() string { return token } }
}

// WithSession reads the bearer token from store under key on every request.
func WithSession(store session.Store, key string) Option {
	return func(c *Client) {
		c.token = func() string {
			tok, _ := store.Token(key)
			return tok
		}
	}
}

// Client calls the REST API rooted at BaseURL (e.g. https://host/api).
type Client struct {
	base  *url.URL
	http  *http.Client
	token func() string
}

// NewClient validates baseURL and builds a Client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported base url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("api: base url missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		base:  u,
		http:  DefaultHTTPClient(),
		token: func() string { return "" },
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// GetTaskComments fetches GET {base}/tasks/{taskID}/comments?limit=N.
func (c *Client) GetTaskComments(ctx context.Context, taskID string, limit int) (v1.CommentsPage, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return v1.CommentsPage{}, errors.New("api: missing task id")
	}

	u := *c.base
	u.Path = c.base.Path + "/tasks/" + taskID + "/comments"
	u.RawPath = c.base.EscapedPath() + "/tasks/" + url.PathEscape(taskID) + "/comments"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	var page v1.CommentsPage
	if err := c.getJSON(ctx, u.String(), &page); err != nil {
		return v1.CommentsPage{}, err
	}
	if page.Comments == nil {
		page.Comments = []v1.Comment{}
	}
	return page, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: GET %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBody)).Decode(dst); err != nil {
		return fmt.Errorf("api: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if json.Unmarshal(b, &body) == nil && (body.Error.Code != "" || body.Error.Message != "") {
		e.Code = body.Error.Code
		e.Message = body.Error.Message
		return e
	}

	e.Message = strings.TrimSpace(string(b))
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
