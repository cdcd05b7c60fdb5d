package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"aqualens/cmd/identity"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testUser() identity.UserRecord {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return identity.UserRecord{
		ID:        "01HZX0000000000000000000AA",
		Name:      "Rin Okafor",
		Email:     "rin@lakes.example",
		Role:      identity.RoleScientist,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestStore_SetGetClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(NewMemoryOrigin(""), WithLogger(quietLogger()))

	_, ok := s.Get(ctx)
	require.False(t, ok)
	require.True(t, s.Snapshot(ctx).Empty())

	s.Set(ctx, StoredSession{AccessToken: "tok-1", User: testUser()})

	got, ok := s.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-1", got.AccessToken)
	assert.Equal(t, testUser(), got.User)

	s.Clear(ctx)
	_, ok = s.Get(ctx)
	assert.False(t, ok)
	assert.True(t, s.Snapshot(ctx).Empty())
}

func TestStore_SetRejectsHalfPair(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := NewMemoryOrigin("")
	s := New(origin, WithLogger(quietLogger()))

	s.Set(ctx, StoredSession{AccessToken: "", User: testUser()})
	s.Set(ctx, StoredSession{AccessToken: "tok", User: identity.UserRecord{ID: "x"}})

	assert.True(t, s.Snapshot(ctx).Empty())
}

func TestStore_SnapshotReportsPartialState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name        string
		kv          map[string]string
		wantToken   string
		wantUser    bool
		wantPresent bool
	}{
		{name: "token only", kv: map[string]string{KeyAccessToken: "t"}, wantToken: "t"},
		{name: "user only", kv: map[string]string{KeyUser: `{"id":"u","email":"a@b.c","role":"admin"}`}, wantUser: true, wantPresent: true},
		{name: "corrupt user", kv: map[string]string{KeyAccessToken: "t", KeyUser: "{not json"}, wantToken: "t", wantPresent: true},
		{name: "unknown role", kv: map[string]string{KeyAccessToken: "t", KeyUser: `{"id":"u","email":"a@b.c","role":"root"}`}, wantToken: "t", wantPresent: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			origin := NewMemoryOrigin("")
			origin.Put(tc.kv)
			snap := New(origin, WithLogger(quietLogger())).Snapshot(ctx)

			assert.Equal(t, tc.wantToken, snap.Token)
			assert.Equal(t, tc.wantUser, snap.User != nil)
			assert.Equal(t, tc.wantPresent, snap.UserPresent)
			assert.False(t, snap.Complete())
			assert.False(t, snap.Empty())
		})
	}
}

func TestStore_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := NewMemoryOrigin("")
	metrics := NewMetrics(prometheus.NewRegistry())
	s := New(origin, WithLogger(quietLogger()), WithMetrics(metrics))

	origin.FailWith(errors.New("quota exceeded"))

	require.NotPanics(t, func() {
		s.Set(ctx, StoredSession{AccessToken: "tok", User: testUser()})
		s.Clear(ctx)
	})
	_, ok := s.Get(ctx)
	assert.False(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures.WithLabelValues("save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures.WithLabelValues("clear")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures.WithLabelValues("load")))
}

type changeRecorder struct {
	mu   sync.Mutex
	keys []string
	ch   chan struct{}
}

func newChangeRecorder() *changeRecorder { return &changeRecorder{ch: make(chan struct{}, 64)} }

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	r.keys = append(r.keys, c.Key)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestStore_SubscribeSeesOtherTabsOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := NewMemoryOrigin("")
	tabA := New(origin, WithLogger(quietLogger()))
	tabB := New(origin, WithLogger(quietLogger()))
	require.NotEqual(t, tabA.TabID(), tabB.TabID())

	recA := newChangeRecorder()
	cancel := tabA.Subscribe(recA.record)
	defer cancel()

	tabA.Set(ctx, StoredSession{AccessToken: "own", User: testUser()})
	tabB.Set(ctx, StoredSession{AccessToken: "other", User: testUser()})

	require.Eventually(t, func() bool { return len(recA.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{KeyAccessToken, KeyUser}, recA.snapshot())

	cancel()
	cancel()
}

func TestStore_SubscribeCoalescesBursts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := NewMemoryOrigin("")
	reader := New(origin, WithLogger(quietLogger()))
	writer := New(origin, WithLogger(quietLogger()))

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	cancel := reader.Subscribe(func(c Change) {
		if c.Key != KeyAccessToken {
			return
		}
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-release
		}
	})
	defer cancel()

	writer.Set(ctx, StoredSession{AccessToken: "t0", User: testUser()})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	// The subscriber is blocked; writers must not be.
	done := make(chan struct{})
	go func() {
		for i := range 50 {
			writer.Set(ctx, StoredSession{AccessToken: "t" + string(rune('a'+i%26)), User: testUser()})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer blocked by a slow subscriber")
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStore_ClearNotifiesRemoval(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := NewMemoryOrigin("")
	tabA := New(origin, WithLogger(quietLogger()))
	tabB := New(origin, WithLogger(quietLogger()))

	tabB.Set(ctx, StoredSession{AccessToken: "tok", User: testUser()})

	rec := newChangeRecorder()
	cancel := tabA.Subscribe(rec.record)
	defer cancel()

	tabB.Clear(ctx)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	_, ok := tabA.Get(ctx)
	assert.False(t, ok)
}
