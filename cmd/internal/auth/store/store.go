package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"aqualens/cmd/identity"
	"aqualens/cmd/identity/ids"
	"aqualens/cmd/internal/auth/autherr"

	"github.com/goccy/go-json"
)

const defaultOpTimeout = 2 * time.Second

// StoredSession is the persisted pair. Both halves are written and cleared together.
type StoredSession struct {
	AccessToken string              `json:"accessToken"`
	User        identity.UserRecord `json:"user"`
}

// Snapshot is the raw content of the origin, possibly a half pair.
type Snapshot struct {
	Token string
	User  *identity.UserRecord
	// UserPresent is true when a user value exists, even if it failed to decode.
	UserPresent bool
}

// Complete reports whether both halves are present and usable.
func (s Snapshot) Complete() bool { return s.Token != "" && s.User != nil }

// Empty reports whether neither half is present.
func (s Snapshot) Empty() bool { return s.Token == "" && !s.UserPresent }

// Session returns the pair when Complete.
func (s Snapshot) Session() (StoredSession, bool) {
	if !s.Complete() {
		return StoredSession{}, false
	}
	return StoredSession{AccessToken: s.Token, User: *s.User}, true
}

// Change notifies that another tab modified Key.
type Change struct {
	Key string
}

// Store is a single tab's handle on a Backend.
type Store struct {
	backend Backend
	tab     string
	log     *slog.Logger
	timeout time.Duration
	metrics *Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTabID overrides the generated tab identifier.
func WithTabID(id string) Option {
	return func(s *Store) {
		if id = strings.TrimSpace(id); id != "" {
			s.tab = id
		}
	}
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records storage failures.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns a Store over backend with a fresh tab identifier.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		tab:     ids.MustULID(),
		log:     slog.Default(),
		timeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TabID identifies this Store's writes in backend events.
func (s *Store) TabID() string { return s.tab }

// Namespace is the backend namespace (the storage origin).
func (s *Store) Namespace() string { return s.backend.Namespace() }

// Snapshot reads both keys. A read failure yields an empty Snapshot.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	kv, err := s.backend.Load(ctx, KeyAccessToken, KeyUser)
	if err != nil {
		s.fail("load", err)
		return Snapshot{}
	}

	snap := Snapshot{Token: kv[KeyAccessToken]}
	raw, ok := kv[KeyUser]
	if !ok || raw == "" {
		return snap
	}
	snap.UserPresent = true

	var u identity.UserRecord
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		s.log.Warn("session.store.user.undecodable", "tab", s.tab, "err", err)
		return snap
	}
	if err := u.Validate(); err != nil {
		s.log.Warn("session.store.user.invalid", "tab", s.tab, "err", err)
		return snap
	}
	snap.User = &u
	return snap
}

// Get returns the stored pair when both halves are present and decodable.
func (s *Store) Get(ctx context.Context) (StoredSession, bool) {
	return s.Snapshot(ctx).Session()
}

// Set writes the pair atomically. Failures are logged, never returned.
func (s *Store) Set(ctx context.Context, sess StoredSession) {
	if strings.TrimSpace(sess.AccessToken) == "" {
		s.log.Warn("session.store.set.rejected", "tab", s.tab, "reason", "empty_token")
		return
	}
	if err := sess.User.Validate(); err != nil {
		s.log.Warn("session.store.set.rejected", "tab", s.tab, "reason", "invalid_user", "err", err)
		return
	}

	raw, err := json.Marshal(sess.User)
	if err != nil {
		s.fail("encode", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Save(ctx, s.tab, map[string]string{
		KeyAccessToken: sess.AccessToken,
		KeyUser:        string(raw),
	}); err != nil {
		s.fail("save", err)
	}
}

// Clear removes both keys atomically. Failures are logged, never returned.
func (s *Store) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Delete(ctx, s.tab, KeyAccessToken, KeyUser); err != nil {
		s.fail("clear", err)
	}
}

// Subscribe registers fn for changes written by other tabs. fn runs on a
// dedicated goroutine, one change at a time; repeated writes to a key that
// fn has not consumed yet are delivered once. The returned cancel is idempotent.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	box := newMailbox(func(key string) { fn(Change{Key: key}) })

	stop, err := s.backend.Subscribe(context.Background(), func(ev Event) {
		if ev.Writer == s.tab || ev.Namespace != s.backend.Namespace() {
			return
		}
		box.post(ev.Key)
	})
	if err != nil {
		s.fail("subscribe", err)
		box.close()
		return func() {}
	}

	return func() {
		stop()
		box.close()
	}
}

func (s *Store) fail(op string, err error) {
	s.log.Warn("session.store."+op+".fail",
		"tab", s.tab,
		"ns", s.backend.Namespace(),
		"kind", autherr.StorageUnavailable.String(),
		"err", err,
	)
	s.metrics.failure(op)
}
