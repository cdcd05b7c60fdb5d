package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultNotifyChannel = "aqualens_session_kv"

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresBackend stores the pair in <schema>.session_kv and announces
// changes with pg_notify inside the writing transaction, so listeners only
// hear about committed pairs.
//
// The pool is owned by the caller; Close does not close it.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	ns      string
	schema  string
	channel string
	log     *slog.Logger

	dial     func(context.Context) (notifyConn, error)
	retryMin time.Duration
	retryMax time.Duration
}

// PostgresOption configures the backend.
type PostgresOption func(*PostgresBackend) error

// WithSchema sets the Postgres schema (default "aqualens").
func WithSchema(schema string) PostgresOption {
	return func(b *PostgresBackend) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("store: invalid schema identifier")
		}
		b.schema = schema
		return nil
	}
}

// WithNotifyChannel sets the LISTEN/NOTIFY channel.
func WithNotifyChannel(ch string) PostgresOption {
	return func(b *PostgresBackend) error {
		ch = strings.TrimSpace(ch)
		if !pgIdentRe.MatchString(ch) {
			return fmt.Errorf("store: invalid notify channel")
		}
		b.channel = ch
		return nil
	}
}

// WithPostgresLogger sets the logger used by the listener goroutine.
func WithPostgresLogger(log *slog.Logger) PostgresOption {
	return func(b *PostgresBackend) error {
		if log != nil {
			b.log = log
		}
		return nil
	}
}

// NewPostgresBackend constructs a backend for namespace ns.
func NewPostgresBackend(pool *pgxpool.Pool, ns string, opts ...PostgresOption) (*PostgresBackend, error) {
	if ns == "" {
		ns = DefaultNamespace
	}
	b := &PostgresBackend{
		pool:     pool,
		ns:       ns,
		schema:   "aqualens",
		channel:  defaultNotifyChannel,
		log:      slog.Default(),
		retryMin: 250 * time.Millisecond,
		retryMax: 15 * time.Second,
	}
	b.dial = b.listenConn
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.pool == nil {
		return nil, fmt.Errorf("store: nil pool")
	}
	return b, nil
}

func (b *PostgresBackend) table() string {
	return pgx.Identifier{b.schema, "session_kv"}.Sanitize()
}

// EnsureSchema creates the schema and table when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{b.schema}.Sanitize())
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+b.table()+` (
		namespace  text        NOT NULL,
		key        text        NOT NULL,
		value      text        NOT NULL,
		updated_at timestamptz NOT NULL,
		PRIMARY KEY (namespace, key)
	)`)
	return err
}

func (b *PostgresBackend) Namespace() string { return b.ns }

func (b *PostgresBackend) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT key, value FROM `+b.table()+` WHERE namespace = $1 AND key = ANY($2)`,
		b.ns, keys,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Save(ctx context.Context, writer string, kv map[string]string) error {
	return pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		for _, k := range sortedKeys(kv) {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+b.table()+` (namespace, key, value, updated_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
				b.ns, k, kv[k], now,
			); err != nil {
				return err
			}
			if err := b.notify(ctx, tx, Event{Namespace: b.ns, Key: k, Writer: writer}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) Delete(ctx context.Context, writer string, keys ...string) error {
	return pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`DELETE FROM `+b.table()+` WHERE namespace = $1 AND key = ANY($2) RETURNING key`,
			b.ns, keys,
		)
		if err != nil {
			return err
		}
		removed, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		for _, k := range removed {
			if err := b.notify(ctx, tx, Event{Namespace: b.ns, Key: k, Writer: writer, Removed: true}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *PostgresBackend) notify(ctx context.Context, tx pgx.Tx, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, b.channel, payload)
	return err
}

// Subscribe takes a connection out of the pool for the lifetime of the
// subscription and LISTENs on it. Events of other namespaces sharing the
// channel are filtered out.
//
// When the connection drops the listener reconnects with backoff. Anything
// written meanwhile was not heard, so after each reconnect fn receives an
// access-token event without a writer and every tab re-reads the store.
func (b *PostgresBackend) Subscribe(ctx context.Context, fn func(Event)) (func(), error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.listen(lctx, conn, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// notifyConn is the part of *pgx.Conn the listener uses.
type notifyConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

func (b *PostgresBackend) listenConn(ctx context.Context) (notifyConn, error) {
	pc, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := pc.Exec(ctx, `LISTEN `+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		pc.Release()
		return nil, err
	}
	return pc.Hijack(), nil
}

// listen pumps notifications into fn until ctx is done, reconnecting after
// connection failures.
func (b *PostgresBackend) listen(ctx context.Context, conn notifyConn, fn func(Event)) {
	for {
		err := b.pump(ctx, conn, fn)
		closeNotifyConn(conn)
		if ctx.Err() != nil {
			return
		}
		b.log.Error("session.store.postgres.listen.fail", "ns", b.ns, "err", err)

		if conn = b.redial(ctx); conn == nil {
			return
		}
		b.log.Info("session.store.postgres.listen.reconnected", "ns", b.ns)
		fn(Event{Namespace: b.ns, Key: KeyAccessToken})
	}
}

func (b *PostgresBackend) pump(ctx context.Context, conn notifyConn, fn func(Event)) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeEvent(n.Payload)
		if err != nil {
			b.log.Warn("session.store.postgres.event.undecodable", "ns", b.ns, "err", err)
			continue
		}
		if ev.Namespace != b.ns {
			continue
		}
		fn(ev)
	}
}

// redial retries dial with exponential backoff. It returns nil once ctx is done.
func (b *PostgresBackend) redial(ctx context.Context) notifyConn {
	interval := b.retryMin
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		conn, err := b.dial(ctx)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn("session.store.postgres.listen.retry", "ns", b.ns, "in", interval.String(), "err", err)

		interval *= 2
		if interval > b.retryMax {
			interval = b.retryMax
		}
	}
}

func closeNotifyConn(conn notifyConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (b *PostgresBackend) Close() error { return nil }
