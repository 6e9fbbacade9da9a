// Package db provides database connection helpers, schema migration, and the
// Postgres-backed verification store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/guild-tender/auth"
)

// Connect opens a Postgres connection for the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and
// indices. It is the embedded fallback for deployments without the versioned
// migration state; RunMigrations is the primary path.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS verifications (
			id SERIAL PRIMARY KEY,
			auth_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_verifications_auth_id ON verifications(auth_id)`,
		`CREATE INDEX IF NOT EXISTS idx_verifications_user_id ON verifications(user_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// VerificationStore implements auth.VerificationStore on Postgres. The unique
// index on auth_id is the serialization point preventing a double grant under
// concurrent authorization attempts for the same identity.
type VerificationStore struct {
	DB *sql.DB
}

func (s *VerificationStore) IsUserVerified(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM verifications WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query user verification: %w", err)
	}
	return exists, nil
}

func (s *VerificationStore) AuthIDExists(ctx context.Context, authID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM verifications WHERE auth_id = $1)`, authID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query auth id: %w", err)
	}
	return exists, nil
}

// Create inserts a verification row. A unique-index violation is reported as
// auth.ErrDuplicateIdentity so the service treats it like the pre-check
// short-circuit rather than a storage failure.
func (s *VerificationStore) Create(ctx context.Context, v auth.Verification) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO verifications(auth_id, user_id) VALUES($1, $2)`, v.AuthID, v.UserID)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("verification for auth id already exists: %w", auth.ErrDuplicateIdentity)
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// CountVerifications returns the total number of verification rows, used by
// the status endpoint.
func CountVerifications(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count verifications: %w", err)
	}
	return n, nil
}
