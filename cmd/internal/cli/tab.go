package cli

import (
	"context"
	"net/http"

	"aqualens/cmd/identity/ids"
	"aqualens/cmd/internal/app"
	"aqualens/cmd/internal/auth/gateway"
	"aqualens/cmd/internal/auth/session"
	"aqualens/cmd/internal/auth/store"
)

// tab is one terminal tab: a store handle, the identity API and a controller.
type tab struct {
	store *store.Store
	ctrl  *session.Controller

	release func()
}

func (t *tab) Close() {
	t.ctrl.Close()
	t.release()
}

func (r *runner) openTab(ctx context.Context) (*tab, error) {
	backend, release, err := r.backend(ctx)
	if err != nil {
		return nil, err
	}

	tabID := r.opts.tabID
	if tabID == "" {
		tabID = "cli-" + ids.MustULID()
	}

	st := store.New(backend,
		store.WithTabID(tabID),
		store.WithLogger(r.log),
		store.WithTimeout(r.opts.timeout),
	)

	gw, err := gateway.New(r.opts.api,
		gateway.WithStore(st),
		gateway.WithLogger(r.log),
		gateway.WithHTTPClient(&http.Client{Timeout: r.opts.timeout}),
	)
	if err != nil {
		release()
		return nil, err
	}

	cfg, err := session.LoadConfigFromEnv()
	if err != nil {
		release()
		return nil, err
	}

	ctrl := session.NewController(ctx, st, gw,
		session.WithLogger(r.log),
		session.WithConfig(cfg),
	)
	return &tab{store: st, ctrl: ctrl, release: release}, nil
}

// backend returns the injected origin or opens the one the flags select.
func (r *runner) backend(ctx context.Context) (store.Backend, func(), error) {
	if r.deps.Backend != nil {
		return r.deps.Backend, func() {}, nil
	}

	cfg := r.config()
	if cfg.StoreBackend == app.BackendMemory {
		r.log.Warn("cli.store.memory", "hint", "the session ends with this command; use --store=redis or --store=postgres")
	}

	b, err := app.OpenSessionBackend(ctx, cfg, r.log)
	if err != nil {
		return nil, nil, err
	}
	return b.Session, b.Close, nil
}
