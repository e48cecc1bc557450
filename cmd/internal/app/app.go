// Package app wires the Bandroom server runtime: config, logging, HTTP
// routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bandroom/cmd/identity"
	authapi "bandroom/cmd/internal/auth/api"
	"bandroom/cmd/internal/auth/session"
	"bandroom/cmd/internal/realtime"
	"bandroom/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// App is the Bandroom server runtime: it owns HTTP server wiring and the
// realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metricsReg *prometheus.Registry

	sessions *session.Service
	auth     *authapi.Handler
	ws       *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	store, dbPool, dbEnabled, err := newIdentityStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		Issuer:        cfg.TokenIssuer,
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	sessions, err := session.NewService(store, tokens, log)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	auth, err := authapi.NewHandler(log, sessions, authapi.Config{MaxBodyBytes: cfg.AuthMaxBodyBytes})
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := realtime.NewMetrics(reg)
	hub := realtime.NewHub(log, metrics)

	ws, err := realtime.NewWSGateway(log, hub, sessions, metrics)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	return &App{
		cfg:        cfg,
		log:        log,
		dbPool:     dbPool,
		dbEnabled:  dbEnabled,
		metricsReg: reg,
		sessions:   sessions,
		auth:       auth,
		ws:         ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth, a.metricsReg)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

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
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	closePool(a.dbPool)

	a.log.Info("server.stopped")
	return nil
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

// newIdentityStore decides between Postgres-backed persistence and the
// in-memory dev store. The app owns the pool lifecycle.
func newIdentityStore(ctx context.Context, cfg Config, log Logger) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
