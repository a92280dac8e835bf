package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores OTP records in the otp_records table. A partial
// unique index on (email, purpose) WHERE status = 'pending' backs the
// single-pending invariant even if two issues race past the expire step.
type PostgresRepository struct {
	pool db
}

// NewPostgresRepository initializes a repo over a pgx pool.
func NewPostgresRepository(pool db) *PostgresRepository {
	if pool == nil {
		panic("otp: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Issue(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("otp: begin issue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE otp_records SET status = 'expired'
		WHERE email = $1 AND purpose = $2 AND status = 'pending'
	`, rec.Email, rec.Purpose); err != nil {
		return fmt.Errorf("otp: expire pending failed: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO otp_records (id, email, code, purpose, status, attempts, expires_at, issued_at, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Email, rec.Code, rec.Purpose, rec.Status, rec.Attempts, rec.ExpiresAt, rec.IssuedAt, rec.ClientIP, rec.UserAgent); err != nil {
		return fmt.Errorf("otp: insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("otp: commit issue tx: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindPending(ctx context.Context, email string, purpose Purpose) (*Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, code, purpose, status, attempts, expires_at, issued_at, verified_at, client_ip, user_agent
		FROM otp_records
		WHERE email = $1 AND purpose = $2 AND status = 'pending'
	`, email, purpose)

	var rec Record
	if err := row.Scan(
		&rec.ID, &rec.Email, &rec.Code, &rec.Purpose, &rec.Status, &rec.Attempts,
		&rec.ExpiresAt, &rec.IssuedAt, &rec.VerifiedAt, &rec.ClientIP, &rec.UserAgent,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPending
		}
		return nil, fmt.Errorf("otp: select pending failed: %w", err)
	}
	return &rec, nil
}

// UpdateGuarded is the compare-and-set write: the attempts predicate makes two
// racing verifications serialize instead of both observing the same counter.
func (r *PostgresRepository) UpdateGuarded(ctx context.Context, rec *Record, expectedAttempts int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE otp_records
		SET status = $1, attempts = $2, verified_at = $3
		WHERE id = $4 AND attempts = $5
	`, rec.Status, rec.Attempts, rec.VerifiedAt, rec.ID, expectedAttempts)
	if err != nil {
		return fmt.Errorf("otp: guarded update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRecord
	}
	return nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE otp_records SET status = 'used'
		WHERE id = $1 AND status IN ('verified', 'used')
	`, id)
	if err != nil {
		return fmt.Errorf("otp: mark used failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPending
	}
	return nil
}

func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM otp_records
		WHERE status <> 'pending' AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("otp: sweep failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PostgresRepository)(nil)
