// Package app wires the aqualens server runtime: config, logging, storage
// backends, the identity API, the sync relay and the HTTP server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	authapi "aqualens/cmd/internal/auth/api"
	"aqualens/cmd/internal/auth/store"
	"aqualens/cmd/internal/invite"
	"aqualens/cmd/internal/realtime"
)

// App is the server runtime. It owns the backends and the HTTP handler tree.
type App struct {
	cfg Config
	log Logger

	backends *Backends
	registry *prometheus.Registry

	hub  *realtime.Hub
	ws   *realtime.WSGateway
	auth *authapi.Handler

	handler http.Handler
}

// New constructs a fully wired App. ctx bounds startup I/O only.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backends, err := OpenBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, backends: backends}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	if a.cfg.SeedFile != "" {
		accounts, err := LoadSeedFile(a.cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := authapi.Seed(ctx, a.log, a.backends.Users, accounts); err != nil {
			return err
		}
	}

	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	tokens, err := authapi.NewTokens(apiCfg, a.backends.Revocations)
	if err != nil {
		return err
	}
	invites, err := invite.NewService(a.backends.Invites)
	if err != nil {
		return err
	}

	var mailer authapi.InviteMailer = authapi.NoopInviteMailer{}
	if a.cfg.InviteMailLog {
		mailer = authapi.LogInviteMailer{Log: a.log}
	}
	a.auth, err = authapi.NewHandler(a.log, apiCfg, a.backends.Users, invites, tokens,
		authapi.WithInviteMailer(mailer),
		authapi.WithAuditLogger(a.log.With("component", "audit")),
	)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.cfg.SyncEnabled {
		m := realtime.NewMetrics(a.registry)
		a.hub = realtime.NewHub(a.log, a.backends.Session, m)
		if err := a.hub.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		a.ws = realtime.NewWSGateway(a.log, a.hub, realtime.GatewayConfigFromEnv(), m)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backends, a.registry, a.auth, a.ws)
	a.handler = WithRequestLogging(mux, a.log)
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// SessionBackend is the storage origin the relay watches.
func (a *App) SessionBackend() store.Backend { return a.backends.Session }

// Registry exposes the metrics registry served on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run starts the HTTP server and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.cfg.StoreBackend, "sync", a.cfg.SyncEnabled)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Relay connections are hijacked and invisible to Shutdown; stopping the
	// hub closes them.
	if a.hub != nil {
		a.hub.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close stops the relay and releases the backends. It is safe to call twice.
func (a *App) Close() {
	if a.hub != nil {
		a.hub.Stop()
	}
	if a.backends != nil {
		a.backends.Close()
		a.backends = nil
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
