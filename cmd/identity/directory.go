package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"aqualens/cmd/identity/ids"
)

// NewUser describes a user registration (seeded accounts, accepted invitations).
type NewUser struct {
	Name     string
	Email    string
	Role     Role
	Phone    *string
	Password string
	Now      time.Time
}

// Directory is the identity API's user persistence boundary.
type Directory interface {
	Create(ctx context.Context, in NewUser) (UserRecord, error)
	// Authenticate returns ErrBadPassword for both unknown emails and wrong
	// passwords so callers cannot probe which accounts exist.
	Authenticate(ctx context.Context, email, password string) (UserRecord, error)
	GetByID(ctx context.Context, id string) (UserRecord, error)
}

type memoryEntry struct {
	user UserRecord
	hash string
}

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]*memoryEntry
	byEmail map[string]*memoryEntry
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]*memoryEntry),
		byEmail: make(map[string]*memoryEntry),
	}
}

// Create hashes the password and stores the user. Emails are unique after normalization.
func (d *MemoryDirectory) Create(ctx context.Context, in NewUser) (UserRecord, error) {
	const op = "identity.MemoryDirectory.Create"

	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}
	rec, err := prepareUser(op, in)
	if err != nil {
		return UserRecord{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return UserRecord{}, err
	}

	norm := NormalizeEmail(rec.Email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byEmail[norm]; exists {
		return UserRecord{}, ConflictError{Op: op, Field: "email"}
	}
	e := &memoryEntry{user: rec, hash: hash}
	d.byID[rec.ID] = e
	d.byEmail[norm] = e
	return rec, nil
}

// Authenticate verifies the email/password pair.
func (d *MemoryDirectory) Authenticate(ctx context.Context, email, password string) (UserRecord, error) {
	const op = "identity.MemoryDirectory.Authenticate"

	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	d.mu.RLock()
	e, ok := d.byEmail[NormalizeEmail(email)]
	d.mu.RUnlock()
	if !ok {
		return UserRecord{}, OpError{Op: op, Kind: ErrBadPassword}
	}

	match, err := VerifyPassword(password, e.hash)
	if err != nil {
		return UserRecord{}, err
	}
	if !match {
		return UserRecord{}, OpError{Op: op, Kind: ErrBadPassword}
	}
	return e.user, nil
}

// GetByID returns the user with the given id.
func (d *MemoryDirectory) GetByID(ctx context.Context, id string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return UserRecord{}, OpError{Op: "identity.MemoryDirectory.GetByID", Kind: ErrNotFound}
	}
	return e.user, nil
}

func prepareUser(op string, in NewUser) (UserRecord, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return UserRecord{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
	}
	if !in.Role.Valid() {
		return UserRecord{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid role"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return UserRecord{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return UserRecord{}, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = email
	}

	return UserRecord{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      in.Role,
		Phone:     trimPtr(in.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}
