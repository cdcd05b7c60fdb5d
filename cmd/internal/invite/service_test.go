package invite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aqualens/cmd/identity"
)

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

// exerciseLifecycle runs create, validate and consume against any Store.
func exerciseLifecycle(t *testing.T, store Store) {
	t.Helper()

	svc := newTestService(t, store)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	inv, tok, err := svc.CreateInvite(ctx, CreateInput{
		Email: "New.Tech@Watershed.example",
		Role:  identity.RoleFieldTechnician,
		TTL:   24 * time.Hour,
		Now:   now,
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if inv.ID == "" || tok == "" {
		t.Fatalf("expected invite id and token")
	}

	got, err := svc.ValidateInvite(ctx, tok, now)
	if err != nil {
		t.Fatalf("validate invite: %v", err)
	}
	if got.Role != identity.RoleFieldTechnician || got.ID != inv.ID {
		t.Fatalf("unexpected invite: %+v", got)
	}

	_, err = svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, Email: "someone@else.example", ConsumedBy: "u1", Now: now})
	if !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("expected ErrEmailMismatch, got %v", err)
	}

	consumed, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, Email: "new.tech@watershed.example", ConsumedBy: "u1", Now: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("consume invite: %v", err)
	}
	if consumed.ConsumedBy == nil || *consumed.ConsumedBy != "u1" {
		t.Fatalf("expected consumed_by=u1, got %+v", consumed.ConsumedBy)
	}

	_, err = svc.ValidateInvite(ctx, tok, now.Add(2*time.Second))
	var inactive InactiveError
	if !errors.As(err, &inactive) || inactive.Reason != ReasonUsed {
		t.Fatalf("expected used invite, got %v", err)
	}

	if _, err := svc.ValidateInvite(ctx, "no-such-token-000000000000", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func exerciseExpiredRevoked(t *testing.T, store Store) {
	t.Helper()

	svc := newTestService(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	_, expiredTok, err := svc.CreateInvite(ctx, CreateInput{
		Email: "late@watershed.example",
		Role:  identity.RoleResearcher,
		TTL:   time.Hour,
		Now:   now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create expired invite: %v", err)
	}
	_, err = svc.ValidateInvite(ctx, expiredTok, now)
	var inactive InactiveError
	if !errors.As(err, &inactive) || inactive.Reason != ReasonExpired {
		t.Fatalf("expected expired invite, got %v", err)
	}
	if _, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: expiredTok, Email: "late@watershed.example", ConsumedBy: "u2", Now: now}); !IsGone(err) {
		t.Fatalf("expected expired consume to fail as gone, got %v", err)
	}

	revoked, revokedTok, err := svc.CreateInvite(ctx, CreateInput{Email: "rev@watershed.example", Role: identity.RoleAdmin, Now: now})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if err := svc.RevokeInvite(ctx, revoked.ID, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.RevokeInvite(ctx, revoked.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	_, err = svc.ValidateInvite(ctx, revokedTok, now)
	if !errors.As(err, &inactive) || inactive.Reason != ReasonRevoked {
		t.Fatalf("expected revoked invite, got %v", err)
	}
	if err := svc.RevokeInvite(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func exerciseConcurrentConsume(t *testing.T, store Store) {
	t.Helper()

	svc := newTestService(t, store)
	ctx := context.Background()

	_, tok, err := svc.CreateInvite(ctx, CreateInput{Email: "race@watershed.example", Role: identity.RoleScientist, Now: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	const attempts = 5
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConsumeInvite(ctx, ConsumeInput{Token: tok, Email: "race@watershed.example", ConsumedBy: "racer", Now: time.Now().UTC()})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrNotActive) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	t.Parallel()
	exerciseLifecycle(t, NewMemoryStore())
}

func TestMemoryStore_ExpiredRevoked(t *testing.T) {
	t.Parallel()
	exerciseExpiredRevoked(t, NewMemoryStore())
}

func TestMemoryStore_ConcurrentConsume(t *testing.T) {
	t.Parallel()
	exerciseConcurrentConsume(t, NewMemoryStore())
}

func TestService_CreateInviteRejectsBadInput(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore())
	long := string(make([]byte, maxNoteLen+1))

	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "missing email", in: CreateInput{Role: identity.RoleAdmin}},
		{name: "bad email", in: CreateInput{Email: "nobody", Role: identity.RoleAdmin}},
		{name: "bad role", in: CreateInput{Email: "a@b.example", Role: "janitor"}},
		{name: "long note", in: CreateInput{Email: "a@b.example", Role: identity.RoleAdmin, Note: &long}},
	}
	for _, tc := range tests {
		if _, _, err := svc.CreateInvite(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestNewService_Options(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for nil store, got %v", err)
	}
	if _, err := NewService(NewMemoryStore(), WithTokenBytes(8)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short tokens, got %v", err)
	}
	if _, err := NewService(NewMemoryStore(), WithTokenBytes(48)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
