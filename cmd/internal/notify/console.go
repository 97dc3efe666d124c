package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// ConsolePrinter renders notifications as single colored lines.
type ConsolePrinter struct {
	mu sync.Mutex
	w  io.Writer

	info  *color.Color
	warn  *color.Color
	err   *color.Color
	badge *color.Color
}

// NewConsolePrinter builds a printer writing to w. When noColor is true the
// output carries no escape sequences.
func NewConsolePrinter(w io.Writer, noColor bool) *ConsolePrinter {
	p := &ConsolePrinter{
		w:     w,
		info:  color.New(color.FgBlue),
		warn:  color.New(color.FgYellow),
		err:   color.New(color.FgRed, color.Bold),
		badge: color.New(color.FgHiWhite, color.BgRed),
	}
	if noColor {
		for _, c := range []*color.Color{p.info, p.warn, p.err, p.badge} {
			c.DisableColor()
		}
	}
	return p
}

// Print writes n. It matches the Subscriber signature so it can be passed to
// Bus.Subscribe directly.
func (p *ConsolePrinter) Print(n Notification) {
	var tag string
	switch n.Level {
	case LevelError:
		tag = p.err.Sprint("[error]")
	case LevelWarning:
		tag = p.warn.Sprint("[warn]")
	default:
		tag = p.info.Sprint("[info]")
	}

	line := fmt.Sprintf("%s %s", tag, n.Message)
	if n.Persistent {
		line = p.badge.Sprint("!") + " " + line
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}
