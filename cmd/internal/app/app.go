// Package app wires the tasklink server runtime: config, logging, HTTP routes
// and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tasklink/cmd/internal/gateway"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the tasklink server runtime: it owns HTTP server wiring and the
// realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws       *gateway.WSGateway
	registry *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	b, err := newBackend(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	var registry *prometheus.Registry
	var metrics *gateway.Metrics
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = gateway.NewMetrics(registry)
	}

	ws := gateway.NewWSGateway(log, gateway.Deps{
		Hub:        gateway.NewHub(log),
		Store:      b.comments,
		Identity:   gateway.NewIdentityResolver(cfg.JWTSecret),
		Authorizer: b.authz,
		Metrics:    metrics,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     b.store,
		dbPool:    b.pool,
		dbEnabled: b.pool != nil,
		ws:        ws,
		registry:  registry,
	}, nil
}

// Handler returns the full middleware-wrapped route tree.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.registry)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Gateway exposes the realtime gateway.
func (a *App) Gateway() *gateway.WSGateway { return a.ws }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"api_base", base+"/api",
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
		"metrics_enabled", a.registry != nil,
		"token_verification", a.cfg.JWTSecret != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeStore(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; their read
	// loops end when the peer goes away or the process exits.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeStore(shutdownCtx)
		return err
	}

	a.closeStore(shutdownCtx)
	a.log.Info("server.stopped")
	return nil
}

// Close releases the store without running the server.
func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

func (a *App) closeStore(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type backend struct {
	store    Store
	pool     *pgxpool.Pool
	comments gateway.CommentStore
	authz    gateway.RoomAuthorizer
}

// newBackend decides between Postgres-backed persistence and the in-memory dev store.
func newBackend(ctx context.Context, cfg Config, log Logger) (backend, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return backend{
			store:    nopStore{},
			comments: gateway.NewInMemoryCommentStore(),
			authz:    gateway.AllowAll{},
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return backend{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema, "enforce_membership", cfg.EnforceMembership)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresCommentStore.Close() is a no-op
	comments, err := gateway.NewPostgresCommentStore(pool, gateway.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return backend{}, err
	}
	if err := comments.EnsureSchema(ctx); err != nil {
		pool.Close()
		return backend{}, err
	}

	var authz gateway.RoomAuthorizer = gateway.AllowAll{}
	if cfg.EnforceMembership {
		members, err := gateway.NewPostgresRoomAuthorizer(pool, gateway.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		authz = members
	}

	return backend{
		store:    dbStore{pool: pool, comments: comments},
		pool:     pool,
		comments: comments,
		authz:    authz,
	}, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	comments gateway.CommentStore
}

func (s dbStore) Close(_ context.Context) error {
	if s.comments != nil {
		_ = s.comments.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
