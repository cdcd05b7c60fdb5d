package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"aqualens/cmd/identity"
	authapi "aqualens/cmd/internal/auth/api"
	"aqualens/cmd/internal/auth/store"
	"aqualens/cmd/internal/invite"
)

// Backends holds every storage dependency of the server.
//
// Postgres, when configured, keeps users and invitations; Redis, when
// configured, keeps token revocations. The session store origin is whichever
// AQUALENS_STORE_BACKEND selects. Everything else falls back to memory.
type Backends struct {
	Session     store.Backend
	Users       identity.Directory
	Invites     invite.Store
	Revocations authapi.Revocations

	Pool  *pgxpool.Pool
	Redis redis.UniversalClient
}

// OpenBackends connects to the configured databases and creates missing tables.
func OpenBackends(ctx context.Context, cfg Config, log Logger) (*Backends, error) {
	b := &Backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	if err := b.connect(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := b.openSession(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := b.openIdentity(ctx, cfg); err != nil {
		return nil, err
	}

	if b.Redis != nil {
		b.Revocations = authapi.NewRedisRevocations(b.Redis, cfg.Namespace)
	} else {
		b.Revocations = authapi.NewMemoryRevocations()
	}

	log.Info("backends.ready",
		"session", cfg.StoreBackend,
		"users", backendName(b.Pool != nil, BackendPostgres),
		"revocations", backendName(b.Redis != nil, BackendRedis),
	)
	ok = true
	return b, nil
}

// OpenSessionBackend opens only the session store origin selected by cfg.
// aqualensctl uses it to act as one more tab of a running deployment.
func OpenSessionBackend(ctx context.Context, cfg Config, log Logger) (*Backends, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Backends{}
	switch cfg.StoreBackend {
	case BackendRedis:
		cfg.DatabaseURL = ""
	case BackendPostgres:
		cfg.RedisURL = ""
	default:
		cfg.DatabaseURL, cfg.RedisURL = "", ""
	}

	if err := b.connect(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openSession(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) connect(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		b.Pool = pool
		log.Info("db.enabled", "schema", cfg.DBSchema)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rdb := redis.NewClient(opt)
		b.Redis = rdb
		if err := PingRedis(ctx, rdb, 3*time.Second); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		log.Info("redis.enabled", "addr", opt.Addr)
	}
	return nil
}

func (b *Backends) openSession(ctx context.Context, cfg Config, log Logger) error {
	switch cfg.StoreBackend {
	case BackendRedis:
		rb, err := store.NewRedisBackend(b.Redis, cfg.Namespace, log)
		if err != nil {
			return err
		}
		b.Session = rb

	case BackendPostgres:
		pb, err := store.NewPostgresBackend(b.Pool, cfg.Namespace,
			store.WithSchema(cfg.DBSchema),
			store.WithPostgresLogger(log),
		)
		if err != nil {
			return err
		}
		if err := pb.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("session store schema: %w", err)
		}
		b.Session = pb

	default:
		b.Session = store.NewMemoryOrigin(cfg.Namespace)
	}
	return nil
}

func (b *Backends) openIdentity(ctx context.Context, cfg Config) error {
	if b.Pool == nil {
		b.Users = identity.NewMemoryDirectory()
		b.Invites = invite.NewMemoryStore()
		return nil
	}

	users, err := identity.NewPostgresDirectory(b.Pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	if err := users.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("users schema: %w", err)
	}

	invites, err := invite.NewPostgresStore(b.Pool, invite.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	if err := invites.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("invites schema: %w", err)
	}

	b.Users = users
	b.Invites = invites
	return nil
}

// Ready reports whether the external backends answer.
func (b *Backends) Ready(ctx context.Context) error {
	var errs []error
	if b.Pool != nil {
		if err := PingDB(ctx, b.Pool, 2*time.Second); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if b.Redis != nil {
		if err := PingRedis(ctx, b.Redis, 2*time.Second); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every connection.
func (b *Backends) Close() {
	if b.Session != nil {
		// RedisBackend.Close would close the shared client, closed below.
		if _, isRedis := b.Session.(*store.RedisBackend); !isRedis {
			_ = b.Session.Close()
		}
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// PingRedis checks that Redis answers within timeout.
func PingRedis(parent context.Context, rdb redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

func backendName(enabled bool, name string) string {
	if enabled {
		return name
	}
	return BackendMemory
}
