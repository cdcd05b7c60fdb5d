package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller; this directory never closes it.
// Expected table:
//
//	CREATE TABLE <schema>.users (
//	    id            text PRIMARY KEY,
//	    name          text NOT NULL,
//	    email         text NOT NULL,
//	    email_norm    text NOT NULL CONSTRAINT uq_users_email_norm UNIQUE,
//	    role          text NOT NULL,
//	    phone         text,
//	    password_hash text NOT NULL,
//	    created_at    timestamptz NOT NULL,
//	    updated_at    timestamptz NOT NULL
//	);
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "aqualens").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "aqualens"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

func (d *PostgresDirectory) table() string {
	return pgx.Identifier{d.schema, "users"}.Sanitize()
}

// EnsureSchema creates the schema and users table when missing.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{d.schema}.Sanitize()
	_, err := d.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS `+schema+`;
		CREATE TABLE IF NOT EXISTS `+d.table()+` (
		    id            text PRIMARY KEY,
		    name          text NOT NULL,
		    email         text NOT NULL,
		    email_norm    text NOT NULL CONSTRAINT uq_users_email_norm UNIQUE,
		    role          text NOT NULL,
		    phone         text,
		    password_hash text NOT NULL,
		    created_at    timestamptz NOT NULL,
		    updated_at    timestamptz NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("identity: ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new user with an Argon2id password hash.
func (d *PostgresDirectory) Create(ctx context.Context, in NewUser) (UserRecord, error) {
	const op = "identity.PostgresDirectory.Create"

	rec, err := prepareUser(op, in)
	if err != nil {
		return UserRecord{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return UserRecord{}, err
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO `+d.table()+` (
		     id, name, email, email_norm, role, phone, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		rec.ID, rec.Name, rec.Email, NormalizeEmail(rec.Email), string(rec.Role), rec.Phone, hash, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return UserRecord{}, ConflictError{Op: op, Field: "email"}
		}
		return UserRecord{}, err
	}
	return rec, nil
}

// Authenticate verifies the email/password pair.
func (d *PostgresDirectory) Authenticate(ctx context.Context, email, password string) (UserRecord, error) {
	const op = "identity.PostgresDirectory.Authenticate"

	rec, hash, err := d.scanOne(ctx, "email_norm", NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, OpError{Op: op, Kind: ErrBadPassword}
		}
		return UserRecord{}, err
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return UserRecord{}, err
	}
	if !ok {
		return UserRecord{}, OpError{Op: op, Kind: ErrBadPassword}
	}
	return rec, nil
}

// GetByID returns the user with the given id.
func (d *PostgresDirectory) GetByID(ctx context.Context, id string) (UserRecord, error) {
	rec, _, err := d.scanOne(ctx, "id", strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, OpError{Op: "identity.PostgresDirectory.GetByID", Kind: ErrNotFound}
		}
		return UserRecord{}, err
	}
	return rec, nil
}

func (d *PostgresDirectory) scanOne(ctx context.Context, column, value string) (UserRecord, string, error) {
	var (
		rec  UserRecord
		role string
		hash string
	)
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, email, role, phone, password_hash, created_at, updated_at
		   FROM `+d.table()+`
		  WHERE `+pgx.Identifier{column}.Sanitize()+` = $1`,
		value,
	).Scan(&rec.ID, &rec.Name, &rec.Email, &role, &rec.Phone, &hash, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return UserRecord{}, "", err
	}
	r, err := ParseRole(role)
	if err != nil {
		return UserRecord{}, "", err
	}
	rec.Role = r
	return rec, hash, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
