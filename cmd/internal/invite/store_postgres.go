package invite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"aqualens/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists invites in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "aqualens").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "aqualens"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the schema and invites table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()+`;
		CREATE TABLE IF NOT EXISTS `+s.table()+` (
		    id          text PRIMARY KEY,
		    token_hash  text NOT NULL UNIQUE,
		    email       text NOT NULL,
		    email_norm  text NOT NULL,
		    role        text NOT NULL,
		    created_by  text,
		    created_at  timestamptz NOT NULL,
		    expires_at  timestamptz NOT NULL,
		    revoked_at  timestamptz,
		    note        text,
		    consumed_at timestamptz,
		    consumed_by text
		);`)
	if err != nil {
		return fmt.Errorf("invite: ensure schema: %w", err)
	}
	return nil
}

const inviteColumns = `id, email, role, created_by, created_at, expires_at, revoked_at, note, consumed_at, consumed_by`

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || !in.Role.Valid() {
		return Invite{}, ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (
		     id, token_hash, email, email_norm, role, created_by, created_at, expires_at, note
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ID,
		in.TokenHash,
		in.Email,
		identity.NormalizeEmail(in.Email),
		string(in.Role),
		in.CreatedBy,
		in.CreatedAt,
		in.ExpiresAt,
		in.Note,
	)
	if err != nil {
		return Invite{}, err
	}
	return in.Invite, nil
}

// GetByTokenHash fetches an invite by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	inv, err := scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+s.table()+` WHERE token_hash = $1`,
		tokenHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	return inv, err
}

// Consume marks the invite used when it is active and addressed to in.EmailNorm.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}

	out, err := scanInvite(s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET consumed_at = $1,
		        consumed_by = $2
		  WHERE token_hash = $3
		    AND email_norm = $4
		    AND revoked_at IS NULL
		    AND consumed_at IS NULL
		    AND expires_at > $1
		RETURNING `+inviteColumns,
		in.Now,
		in.ConsumedBy,
		in.TokenHash,
		in.EmailNorm,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, err
	}

	// Work out which condition failed.
	cur, err := s.GetByTokenHash(ctx, in.TokenHash)
	if err != nil {
		return Invite{}, err
	}
	if err := cur.State(in.Now); err != nil {
		return Invite{}, err
	}
	return Invite{}, ErrEmailMismatch
}

// Revoke sets revoked_at once.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "invites"}.Sanitize()
}

func scanInvite(row pgx.Row) (Invite, error) {
	var (
		out  Invite
		role string
	)
	err := row.Scan(
		&out.ID,
		&out.Email,
		&role,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.RevokedAt,
		&out.Note,
		&out.ConsumedAt,
		&out.ConsumedBy,
	)
	if err != nil {
		return Invite{}, err
	}
	r, err := identity.ParseRole(role)
	if err != nil {
		return Invite{}, err
	}
	out.Role = r
	return out, nil
}
