package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://tasklink.example.com", want: "wss://tasklink.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()

	cfg.MetricsEnabled = true
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestApp_Handler_Routes(t *testing.T) {
	a := newTestApp(t, Config{})
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)

	cases := []struct {
		path string
		auth string
		want int
	}{
		{path: "/healthz", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/api/tasks/t1/comments", want: http.StatusUnauthorized},
		{path: "/api/tasks/t1/comments", auth: "Bearer tok", want: http.StatusOK},
		{path: "/ws", want: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodGet, ts.URL+tc.path, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("GET %s auth=%q status=%d want=%d", tc.path, tc.auth, resp.StatusCode, tc.want)
		}
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("GET %s missing nosniff: %q", tc.path, got)
		}
	}
}

func TestApp_Metrics_ExposeGatewayCollectors(t *testing.T) {
	a := newTestApp(t, Config{})
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/tasks/t1/comments", nil)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tasklink_gateway_comments_page_requests_total{code="2xx"} 1`) {
		t.Fatalf("metrics body missing comments page counter:\n%s", body)
	}
}

func TestNew_RejectsWeakSecretUnderPolicy(t *testing.T) {
	_, err := New(Config{RequireJWTSecret: true, JWTSecret: "short"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatalf("expected policy error")
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("k", 32)
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "policy off", cfg: Config{}, wantErr: false},
		{name: "missing", cfg: Config{RequireJWTSecret: true}, wantErr: true},
		{name: "short", cfg: Config{RequireJWTSecret: true, JWTSecret: "abc"}, wantErr: true},
		{name: "ok", cfg: Config{RequireJWTSecret: true, JWTSecret: long}, wantErr: false},
	}

	for _, tc := range cases {
		err := ValidateSecurityConfig(tc.cfg)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestLoadConfig_ReadsEnv(t *testing.T) {
	t.Setenv("TASKLINK_HTTP_ADDR", "0.0.0.0:9999")
	t.Setenv("TASKLINK_LOG_FORMAT", "pretty")
	t.Setenv("TASKLINK_DB_MAX_CONNS", "4")
	t.Setenv("TASKLINK_CORS_ALLOWED_ORIGINS", "https://a.example.com, ,http://127.0.0.1:*")
	t.Setenv("TASKLINK_METRICS_ENABLED", "false")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:9999" || cfg.LogFormat != "pretty" || cfg.DBMaxConns != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://127.0.0.1:*" {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("metrics should be disabled")
	}
	if cfg.DBSchema != "tasklink" {
		t.Fatalf("schema default=%q", cfg.DBSchema)
	}
}

func TestLoadClientConfig_Defaults(t *testing.T) {
	t.Setenv("TASKLINK_API_BASE_URL", "")
	t.Setenv("TASKLINK_RECONNECT_MAX_ATTEMPTS", "-3")

	cfg := LoadClientConfig()
	if cfg.APIBaseURL != "http://127.0.0.1:8080/api" {
		t.Fatalf("api base=%q", cfg.APIBaseURL)
	}
	if cfg.MaxAttempts != 10 {
		t.Fatalf("max attempts=%d want 10", cfg.MaxAttempts)
	}
	if cfg.ReconnectBaseDelay != time.Second || cfg.ReconnectMaxDelay != 30*time.Second {
		t.Fatalf("delays=%v/%v", cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	}
}
