package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"msg":"ws.open"`},
		{format: "", want: `"msg":"ws.open"`},
		{format: "text", want: "msg=ws.open"},
		{format: "pretty", want: "msg=ws.open"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		newLogger(&buf, "info", tc.format, false).Info("ws.open", "gen", 1)
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("format=%q output=%q want substring %q", tc.format, buf.String(), tc.want)
		}
	}
}
