package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run loads Config from the environment, applies override and serves until
// SIGINT/SIGTERM or ctx cancellation. It returns an error instead of calling
// os.Exit to keep defers effective.
func Run(ctx context.Context, override func(*Config)) error {
	cfg := LoadConfig()
	if override != nil {
		override(&cfg)
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
