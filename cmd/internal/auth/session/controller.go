package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"aqualens/cmd/identity"
	"aqualens/cmd/internal/auth/autherr"
	"aqualens/cmd/internal/auth/gateway"
	"aqualens/cmd/internal/auth/store"
	"aqualens/cmd/security/token"
)

// Gateway is the identity API as seen by the controller.
type Gateway interface {
	Login(ctx context.Context, email, password string) (store.StoredSession, error)
	AcceptInvitation(ctx context.Context, inv gateway.Invitation) (store.StoredSession, error)
	Logout(ctx context.Context, token string) error
}

// Storage is one tab's session store.
type Storage interface {
	Snapshot(ctx context.Context) store.Snapshot
	Set(ctx context.Context, sess store.StoredSession)
	Clear(ctx context.Context)
	Subscribe(fn func(store.Change)) (cancel func())
}

const (
	opLogin      = "login"
	opInvitation = "invitation"
	opLogout     = "logout"
)

// attempt is one in-flight login or invitation. Identical re-submissions
// join it instead of issuing another request.
type attempt struct {
	gen  uint64
	key  string
	done chan struct{}
	err  error
}

// Controller is one tab's session state machine. All transitions are
// serialized by mu; gateway calls run outside it.
type Controller struct {
	store   Storage
	gw      Gateway
	log     *slog.Logger
	metrics *Metrics
	cfg     Config

	mu        sync.Mutex
	state     State
	gen       uint64
	lastToken string
	inflight  *attempt
	listeners map[uint64]*listener
	nextSub   uint64
	closed    bool
	syncer    *Synchronizer
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics instruments the controller.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		if cfg.LogoutTimeout > 0 {
			c.cfg = cfg
		}
	}
}

// NewController derives the initial state from st. A complete pair yields
// Authenticated; a half-written or undecodable pair is cleared and yields
// Anonymous. It never starts in Authenticating.
func NewController(ctx context.Context, st Storage, gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		store:     st,
		gw:        gw,
		log:       slog.Default(),
		cfg:       DefaultConfig(),
		state:     Anonymous{},
		listeners: make(map[uint64]*listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	snap := st.Snapshot(ctx)
	switch sess, ok := snap.Session(); {
	case ok:
		c.state = Authenticated{Token: sess.AccessToken, User: sess.User}
		c.lastToken = sess.AccessToken
	case !snap.Empty():
		c.log.Warn("session.repair",
			"token_present", snap.Token != "",
			"user_present", snap.UserPresent,
			"user_decodable", snap.User != nil,
		)
		st.Clear(ctx)
		c.metrics.repair()
	}

	c.log.Debug("session.init", "state", c.state.Name())
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current read model.
func (c *Controller) Session() Session {
	return viewOf(c.State())
}

// Subscribe registers fn for every subsequent transition. fn runs on its own
// goroutine and may call back into the controller.
func (c *Controller) Subscribe(fn func(Session)) (cancel func()) {
	l := newListener(fn)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.stop()
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
		l.stop()
	}
}

// Close stops all subscriber goroutines.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, l := range c.listeners {
		l.stop()
		delete(c.listeners, id)
	}
}

// Login authenticates with email and password. A repeated call with the same
// credentials while one is in flight waits for that call instead of issuing
// another request. A call with different credentials supersedes it: the
// older caller receives ErrSuperseded and its response is discarded.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	key := opLogin + ":" + token.HashSHA256Hex(identity.NormalizeEmail(email)+"\x00"+password)
	return c.authenticate(ctx, opLogin, key, func(ctx context.Context) (store.StoredSession, error) {
		return c.gw.Login(ctx, email, password)
	})
}

// AcceptInvitation redeems an invitation with the same concurrency rules as Login.
func (c *Controller) AcceptInvitation(ctx context.Context, inv gateway.Invitation) error {
	key := opInvitation + ":" + token.HashSHA256Hex(inv.Token+"\x00"+identity.NormalizeEmail(inv.Email)+"\x00"+inv.Password)
	return c.authenticate(ctx, opInvitation, key, func(ctx context.Context) (store.StoredSession, error) {
		return c.gw.AcceptInvitation(ctx, inv)
	})
}

func (c *Controller) authenticate(
	ctx context.Context,
	op, key string,
	call func(context.Context) (store.StoredSession, error),
) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if a := c.inflight; a != nil && a.key == key {
		c.mu.Unlock()
		c.log.Debug("session."+op+".coalesced", "gen", a.gen)
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.gen++
	a := &attempt{gen: c.gen, key: key, done: make(chan struct{})}
	c.inflight = a
	c.transitionLocked(Authenticating{Op: op})
	c.mu.Unlock()

	sess, err := call(ctx)
	return c.complete(ctx, op, a, sess, err)
}

func (c *Controller) complete(ctx context.Context, op string, a *attempt, sess store.StoredSession, callErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(a.done)

	if c.inflight == a {
		c.inflight = nil
	}

	if a.gen != c.gen {
		c.log.Info("session."+op+".stale", "gen", a.gen, "current_gen", c.gen)
		c.metrics.stale(op)
		a.err = ErrSuperseded
		return a.err
	}

	if callErr != nil {
		ae := classify(op, callErr)
		c.log.Info("session."+op+".fail", "kind", ae.Kind.String(), "err", callErr)
		c.metrics.attempt(op, ae.Kind.String())
		c.transitionLocked(AuthFailed{Err: ae})
		a.err = ae
		return a.err
	}

	c.store.Set(context.WithoutCancel(ctx), sess)
	c.lastToken = sess.AccessToken
	c.metrics.attempt(op, "success")
	c.log.Info("session."+op+".ok", "user_id", sess.User.ID, "role", sess.User.Role.String())
	c.transitionLocked(Authenticated{Token: sess.AccessToken, User: sess.User})
	return nil
}

// Logout ends the session. The remote revocation is best effort and bounded
// by Config.LogoutTimeout; its failure is logged, never returned. The store
// is cleared afterwards unless a newer login has taken over meanwhile.
// Logging out without any stored or held session is a no-op ending Anonymous.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	c.inflight = nil

	tok := c.lastToken
	if v, ok := c.state.(Authenticated); ok {
		tok = v.Token
	}
	if tok == "" {
		tok = c.store.Snapshot(ctx).Token
	}

	if tok == "" {
		c.store.Clear(ctx)
		c.lastToken = ""
		c.transitionLocked(Anonymous{})
		c.mu.Unlock()
		return
	}

	c.transitionLocked(Authenticating{Op: opLogout})
	c.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LogoutTimeout)
	if err := c.gw.Logout(rctx, tok); err != nil {
		c.log.Warn("session.logout.remote.fail", "kind", autherr.KindOf(err).String(), "err", err)
	}
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.log.Info("session.logout.stale", "gen", gen, "current_gen", c.gen)
		c.metrics.stale(opLogout)
		return
	}
	c.store.Clear(context.WithoutCancel(ctx))
	c.lastToken = ""
	c.log.Info("session.logout.ok")
	c.transitionLocked(Anonymous{})
}

// ClearError returns an AuthFailed controller to Anonymous.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(AuthFailed); ok {
		c.transitionLocked(Anonymous{})
	}
}

// bindSync records s as the controller's only synchronizer.
func (c *Controller) bindSync(s *Synchronizer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.syncer != nil && c.syncer != s {
		return false
	}
	c.syncer = s
	return true
}

func (c *Controller) unbindSync(s *Synchronizer) {
	c.mu.Lock()
	if c.syncer == s {
		c.syncer = nil
	}
	c.mu.Unlock()
}

// applyExternal re-reads the store after another tab changed the access
// token and adopts what it finds. It never writes.
func (c *Controller) applyExternal(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	snap := c.store.Snapshot(ctx)
	switch {
	case snap.Token == "":
		c.lastToken = ""
		if _, ok := c.state.(Anonymous); ok {
			c.metrics.external("ignored")
			return
		}
		c.log.Info("session.external.logout")
		c.metrics.external("logout")
		c.transitionLocked(Anonymous{})

	case snap.Token == c.lastToken:
		c.metrics.external("ignored")

	case snap.User != nil:
		c.lastToken = snap.Token
		c.log.Info("session.external.adopt", "user_id", snap.User.ID, "role", snap.User.Role.String())
		c.metrics.external("adopt")
		c.transitionLocked(Authenticated{Token: snap.Token, User: *snap.User})

	default:
		c.lastToken = snap.Token
		c.log.Info("session.external.incomplete")
		c.metrics.external("incomplete")
		if _, ok := c.state.(Anonymous); !ok {
			c.transitionLocked(Anonymous{})
		}
	}
}

func (c *Controller) transitionLocked(next State) {
	prev := c.state
	c.state = next
	c.metrics.transition(prev, next)

	view := viewOf(next)
	for _, l := range c.listeners {
		l.push(view)
	}
}

func classify(op string, err error) *autherr.Error {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return autherr.New(autherr.NetworkUnreachable, "session."+op, err)
	}
	return autherr.New(autherr.ServerError, "session."+op, err)
}
