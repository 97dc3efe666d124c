package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"tasklink/cmd/internal/api"
	"tasklink/cmd/internal/app"
	"tasklink/cmd/internal/comments"
	"tasklink/cmd/internal/notify"
	"tasklink/cmd/internal/realtime"
	"tasklink/cmd/internal/session"
	v1 "tasklink/contracts/realtime/v1"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// ErrNotLoggedIn is returned by watch when no token is stored or given.
var ErrNotLoggedIn = errors.New("not logged in: run `tasklink login --token T` or pass --token")

func newWatchCommand(g *globalOptions, env app.ClientConfig) *cobra.Command {
	var opts struct {
		TaskID      string
		Token       string
		Limit       int
		MetricsAddr string
	}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a task's comments",
		Long: `Follow a task's comments in realtime.

Existing comments are printed first, then new ones as they arrive. Each line read
from stdin is posted as a comment; it shows as "sending" until the server echoes
it back. EOF or Ctrl-C disconnects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.TaskID) == "" {
				return errors.New("watch: --task is required")
			}

			token := strings.TrimSpace(opts.Token)
			var store session.Store
			if token == "" {
				fs, err := g.openSession()
				if err != nil {
					return err
				}
				t, ok := fs.Token(session.DefaultKey)
				if !ok || strings.TrimSpace(t) == "" {
					return ErrNotLoggedIn
				}
				token, store = t, fs
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runWatch(ctx, watchParams{
				APIBase:     g.apiBase,
				TaskID:      strings.TrimSpace(opts.TaskID),
				Token:       token,
				Session:     store,
				Limit:       opts.Limit,
				MetricsAddr: strings.TrimSpace(opts.MetricsAddr),
				Env:         env,
				NoColor:     g.noColor,
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
				Err:         cmd.ErrOrStderr(),
				Global:      g,
			})
		},
	}

	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task id to follow")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token (overrides the stored one)")
	cmd.Flags().IntVar(&opts.Limit, "limit", env.FetchLimit, "comments loaded on start")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve client prometheus metrics on this address, e.g. 127.0.0.1:9464")
	return cmd
}

type watchParams struct {
	APIBase     string
	TaskID      string
	Token       string
	Session     session.Store
	Limit       int
	MetricsAddr string
	Env         app.ClientConfig
	NoColor     bool

	In  io.Reader
	Out io.Writer
	Err io.Writer

	Global *globalOptions
}

func runWatch(ctx context.Context, p watchParams) error {
	log := p.Global.clientLogger(p.Err)

	notes := notify.NewBus(50)
	notes.Subscribe(notify.NewConsolePrinter(p.Err, p.NoColor).Print)

	var met *realtime.Metrics
	if p.MetricsAddr != "" {
		ms, err := serveMetrics(p.MetricsAddr, log)
		if err != nil {
			return err
		}
		defer ms.Close()
		met = ms.Metrics
	}

	m := realtime.NewManager(realtime.Options{
		APIBaseURL:       p.APIBase,
		Logger:           log,
		Notifier:         notes,
		Metrics:          met,
		PingInterval:     p.Env.PingInterval,
		HandshakeTimeout: p.Env.HandshakeTimeout,
		BaseDelay:        p.Env.ReconnectBaseDelay,
		MaxDelay:         p.Env.ReconnectMaxDelay,
		MaxAttempts:      p.Env.MaxAttempts,
	})
	defer m.Disconnect()

	clientOpt := api.WithToken(p.Token)
	if p.Session != nil {
		clientOpt = api.WithSession(p.Session, session.DefaultKey)
	}
	client, err := api.NewClient(p.APIBase, clientOpt)
	if err != nil {
		return err
	}

	view := newCommentView(p.Out, p.NoColor)
	store := comments.NewStore(p.TaskID, client, m,
		comments.WithLogger(log),
		comments.WithOnChange(view.render),
	)
	store.Mount(m)
	defer store.Unmount()

	typing := m.On(v1.TypeTypingIndicator, func(msg v1.Message) {
		if msg.TaskID == p.TaskID && msg.IsTyping != nil && *msg.IsTyping {
			view.typing(nameOr(msg.UserName, msg.UserID))
		}
	})
	defer m.Off(v1.TypeTypingIndicator, typing)

	if err := m.Connect(ctx, p.Token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m.JoinTaskRoom(p.TaskID)

	if err := store.Fetch(ctx, p.Limit); err != nil {
		// Live comments still arrive; the history is what is missing.
		notes.Warnf("Could not load earlier comments: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(p.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if content := strings.TrimSpace(line); content != "" {
				store.AddComment(content)
			}
		}
	}
}

// commentView prints each comment once. A placeholder is printed as
// "sending" and its confirmed replacement is printed when it arrives.
type commentView struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[string]struct{}

	when    *color.Color
	author  *color.Color
	pending *color.Color
}

func newCommentView(w io.Writer, noColor bool) *commentView {
	v := &commentView{
		w:       w,
		printed: make(map[string]struct{}),
		when:    color.New(color.Faint),
		author:  color.New(color.FgCyan, color.Bold),
		pending: color.New(color.FgYellow),
	}
	if noColor {
		for _, c := range []*color.Color{v.when, v.author, v.pending} {
			c.DisableColor()
		}
	}
	return v
}

func (v *commentView) render(list []v1.Comment) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, c := range list {
		if _, ok := v.printed[c.ID]; ok {
			continue
		}
		v.printed[c.ID] = struct{}{}

		if comments.IsOptimistic(c) {
			_, _ = fmt.Fprintf(v.w, "%s %s\n", v.pending.Sprint("sending:"), c.Content)
			continue
		}
		ts := ""
		if !c.CreatedAt.IsZero() {
			ts = v.when.Sprint(c.CreatedAt.Local().Format("15:04")) + " "
		}
		_, _ = fmt.Fprintf(v.w, "%s%s: %s\n", ts, v.author.Sprint(nameOr(c.UserName, c.UserID)), c.Content)
	}
}

func (v *commentView) typing(who string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintf(v.w, "%s\n", v.when.Sprintf("%s is typing...", who))
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	if fallback == "" {
		return "someone"
	}
	return fallback
}
