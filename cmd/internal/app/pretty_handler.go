package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// groupedAttr remembers the group path that was open when the attr was added.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []groupedAttr
	groups []string
	pal    palette
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) slog.Handler {
	h := &prettyHandler{
		w:   w,
		pal: newPalette(useColor),
		mu:  &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("ts=")
	b.WriteString(h.pal.paint(h.pal.dim, ts.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString("lvl=")
	b.WriteString(h.pal.level(r.Level))
	b.WriteByte(' ')
	b.WriteString("msg=")
	b.WriteString(h.pal.paint(h.pal.bold, r.Message))

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			b.WriteByte(' ')
			b.WriteString("src=")
			b.WriteString(h.pal.paint(h.pal.dim, fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
		}
	}

	for _, ga := range h.attrs {
		h.appendAttr(&b, ga.attr, ga.prefix)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, prefix)
		return true
	})

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	prefix := strings.Join(h.groups, ".")
	cp.attrs = append([]groupedAttr{}, h.attrs...)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, groupedAttr{prefix: prefix, attr: a})
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, fullKey)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(remapPrettyKey(fullKey))
	b.WriteByte('=')
	b.WriteString(h.prettyValue(fullKey, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	p := h.pal
	switch strings.TrimSpace(key) {
	case "method":
		return p.method(strings.ToUpper(strings.TrimSpace(v.String())))
	case "path":
		return p.paint(p.cyan, strings.TrimSpace(v.String()))
	case "status":
		if n, ok := valueToInt64(v); ok {
			return p.status(int(n))
		}
	case "status_class", "class":
		return p.class(strings.TrimSpace(v.String()))
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return p.duration(n)
		}
	case "result":
		return p.result(strings.ToLower(strings.TrimSpace(v.String())))
	}

	return quoteIfNeeded(valueToString(v))
}

func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// palette maps log fields to colors. A disabled palette returns input unchanged.
type palette struct {
	on bool

	red, yellow, green, blue, magenta, cyan, dim, bold *color.Color
}

func newPalette(on bool) palette {
	p := palette{
		on:      on,
		red:     color.New(color.FgRed),
		yellow:  color.New(color.FgYellow),
		green:   color.New(color.FgGreen),
		blue:    color.New(color.FgBlue),
		magenta: color.New(color.FgMagenta),
		cyan:    color.New(color.FgCyan),
		dim:     color.New(color.Faint),
		bold:    color.New(color.Bold),
	}
	if on {
		// The caller decided; ignore fatih/color TTY detection.
		for _, c := range []*color.Color{p.red, p.yellow, p.green, p.blue, p.magenta, p.cyan, p.dim, p.bold} {
			c.EnableColor()
		}
	}
	return p
}

func (p palette) paint(c *color.Color, s string) string {
	if !p.on {
		return s
	}
	return c.Sprint(s)
}

func (p palette) level(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return p.paint(p.red, "[ERROR]")
	case level >= slog.LevelWarn:
		return p.paint(p.yellow, "[WARN]")
	case level < slog.LevelInfo:
		return p.paint(p.magenta, "[DEBUG]")
	default:
		return p.paint(p.blue, "[INFO]")
	}
}

func (p palette) method(m string) string {
	switch m {
	case "GET", "HEAD":
		return p.paint(p.blue, m)
	case "POST":
		return p.paint(p.green, m)
	case "PUT", "PATCH":
		return p.paint(p.yellow, m)
	case "DELETE":
		return p.paint(p.red, m)
	default:
		return p.paint(p.magenta, m)
	}
}

func (p palette) status(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return p.paint(p.red, s)
	case code >= 400:
		return p.paint(p.yellow, s)
	case code >= 300:
		return p.paint(p.cyan, s)
	default:
		return p.paint(p.green, s)
	}
}

func (p palette) class(c string) string {
	switch c {
	case "5xx":
		return p.paint(p.red, c)
	case "4xx":
		return p.paint(p.yellow, c)
	case "3xx":
		return p.paint(p.cyan, c)
	case "2xx":
		return p.paint(p.green, c)
	default:
		return quoteIfNeeded(c)
	}
}

func (p palette) duration(ms int64) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return p.paint(p.red, s)
	case ms >= 250:
		return p.paint(p.yellow, s)
	default:
		return p.paint(p.green, s)
	}
}

func (p palette) result(r string) string {
	switch r {
	case "success", "ok", "accepted":
		return p.paint(p.green, r)
	case "redirect":
		return p.paint(p.cyan, r)
	case "client_error", "rejected", "denied":
		return p.paint(p.yellow, r)
	case "server_error", "error", "fail":
		return p.paint(p.red, r)
	default:
		return quoteIfNeeded(r)
	}
}
