// Package cli provides the tasklink command-line interface.
package cli

import (
	"io"
	"log/slog"

	"tasklink/cmd/internal/app"
	"tasklink/cmd/internal/session"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	apiBase     string
	sessionFile string
	logLevel    string
	noColor     bool
	verbose     bool
}

// NewRootCommand creates the root command for tasklink.
func NewRootCommand(version string) *cobra.Command {
	env := app.LoadClientConfig()
	g := &globalOptions{
		apiBase:     env.APIBaseURL,
		sessionFile: env.SessionFile,
		logLevel:    "warn",
		noColor:     env.NoColor,
	}

	root := &cobra.Command{
		Use:   "tasklink",
		Short: "Realtime task comments",
		Long: `tasklink runs the realtime comment gateway and a terminal client for it.

  tasklink serve                 run the gateway
  tasklink login --token T       store the bearer token
  tasklink watch --task ID       follow a task's comments and post from stdin`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors: main prints the error once
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.apiBase, "api", g.apiBase, "API base URL (env TASKLINK_API_BASE_URL)")
	pf.StringVar(&g.sessionFile, "session-file", g.sessionFile, "token file (default: user config dir)")
	pf.StringVar(&g.logLevel, "log-level", g.logLevel, "client log level")
	pf.BoolVar(&g.noColor, "no-color", g.noColor, "disable colored output")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log client events to stderr")

	root.AddCommand(
		newServeCommand(),
		newLoginCommand(g),
		newLogoutCommand(g),
		newWatchCommand(g, env),
	)
	return root
}

func (g *globalOptions) openSession() (*session.FileStore, error) {
	path := g.sessionFile
	if path == "" {
		p, err := session.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return session.OpenFileStore(path)
}

// clientLogger logs like the server's pretty format. Without --verbose it
// discards everything.
func (g *globalOptions) clientLogger(w io.Writer) *slog.Logger {
	if !g.verbose {
		w = io.Discard
	}
	return app.NewLoggerTo(w, g.logLevel, "pretty", !g.noColor)
}
