package invite

import (
	"context"
	"strings"
	"sync"
	"time"

	"aqualens/cmd/identity"
)

// MemoryStore keeps invites in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Invite
	byID   map[string]*Invite
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Invite),
		byID:   make(map[string]*Invite),
	}
}

func (m *MemoryStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Invite{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[in.TokenHash]; ok {
		return Invite{}, ErrInvalidInput
	}
	if _, ok := m.byID[in.ID]; ok {
		return Invite{}, ErrInvalidInput
	}
	inv := in.Invite
	m.byHash[in.TokenHash] = &inv
	m.byID[inv.ID] = &inv
	return inv, nil
}

func (m *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return *inv, nil
}

func (m *MemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byHash[in.TokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if err := inv.State(in.Now); err != nil {
		return Invite{}, err
	}
	if identity.NormalizeEmail(inv.Email) != in.EmailNorm {
		return Invite{}, ErrEmailMismatch
	}

	at, by := in.Now, in.ConsumedBy
	inv.ConsumedAt = &at
	inv.ConsumedBy = &by
	return *inv, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if inv.RevokedAt == nil {
		inv.RevokedAt = &now
	}
	return nil
}
