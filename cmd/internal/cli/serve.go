package cli

import (
	"context"

	"tasklink/cmd/internal/app"

	"github.com/spf13/cobra"
)

// runServerFunc is replaced in tests.
var runServerFunc = app.Run

func newServeCommand() *cobra.Command {
	var opts struct {
		Addr        string
		LogFormat   string
		LogLevel    string
		DatabaseURL string
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime gateway",
		Long: `Run the realtime gateway: websocket at /ws, the comments page at
/api/tasks/{taskId}/comments, plus /healthz, /readyz and /metrics.

Configuration comes from TASKLINK_* environment variables; flags override them.
Without TASKLINK_DATABASE_URL comments are kept in memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServerFunc(ctx, func(cfg *app.Config) {
				if cmd.Flags().Changed("addr") {
					cfg.HTTPAddr = opts.Addr
				}
				if cmd.Flags().Changed("log-format") {
					cfg.LogFormat = opts.LogFormat
				}
				if cmd.Flags().Changed("server-log-level") {
					cfg.LogLevel = opts.LogLevel
				}
				if cmd.Flags().Changed("database-url") {
					cfg.DatabaseURL = opts.DatabaseURL
				}
			})
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (env TASKLINK_HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "json, text or pretty (env TASKLINK_LOG_FORMAT)")
	cmd.Flags().StringVar(&opts.LogLevel, "server-log-level", "", "server log level (env TASKLINK_LOG_LEVEL)")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "Postgres URL (env TASKLINK_DATABASE_URL)")
	return cmd
}
