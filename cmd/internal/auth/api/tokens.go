package authapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aqualens/cmd/identity"
	"aqualens/cmd/identity/ids"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenInvalid = errors.New("authapi: invalid access token")
	ErrTokenRevoked = errors.New("authapi: access token revoked")
)

// Claims are the access token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role identity.Role `json:"role"`
}

// Revocations remembers logged-out token ids until they would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

// Tokens issues and checks HS256 access tokens.
type Tokens struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoked Revocations
	now     func() time.Time
}

// NewTokens builds a Tokens from cfg. revoked may be nil for a process-local list.
func NewTokens(cfg Config, revoked Revocations) (*Tokens, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("%w: secret too short", ErrConfig)
	}
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: access ttl must be positive", ErrConfig)
	}
	if revoked == nil {
		revoked = NewMemoryRevocations()
	}
	return &Tokens{
		secret:  cfg.Secret,
		issuer:  cfg.Issuer,
		ttl:     cfg.AccessTTL,
		revoked: revoked,
		now:     time.Now,
	}, nil
}

// Issue signs a token for u.
func (t *Tokens) Issue(u identity.UserRecord) (string, Claims, error) {
	now := t.now().UTC()
	jti, err := ids.NewULID(now)
	if err != nil {
		return "", Claims{}, err
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   u.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Role: u.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

// Verify parses raw and rejects expired, foreign or revoked tokens.
func (t *Tokens) Verify(ctx context.Context, raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrTokenInvalid
	}

	revoked, err := t.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		return Claims{}, err
	}
	if revoked {
		return Claims{}, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates the token behind claims.
func (t *Tokens) Revoke(ctx context.Context, claims Claims) error {
	return t.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// MemoryRevocations is a process-local Revocations.
type MemoryRevocations struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryRevocations returns an empty list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{until: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.until {
		if !exp.After(now) {
			delete(m.until, id)
		}
	}
	m.until[jti] = until
	return nil
}

func (m *MemoryRevocations) Revoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.until[jti]
	return ok && exp.After(m.now()), nil
}

// RedisRevocations shares the list between API replicas. Entries expire with
// the token they revoke.
type RedisRevocations struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRevocations stores entries under "<prefix>:revoked:<jti>".
func NewRedisRevocations(rdb redis.UniversalClient, prefix string) *RedisRevocations {
	return &RedisRevocations{rdb: rdb, prefix: prefix + ":revoked:"}
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.prefix+jti, 1, ttl).Err()
}

func (r *RedisRevocations) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
