package otp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists OTP records. Issue must be atomic: expiring prior
// pending records and inserting the new one is one unit, so two racing issues
// leave exactly one pending record per (email, purpose).
type Repository interface {
	// Issue expires every pending record for (rec.Email, rec.Purpose) and
	// inserts rec as the single surviving pending record.
	Issue(ctx context.Context, rec *Record) error
	// FindPending returns the pending record or ErrNoPending.
	FindPending(ctx context.Context, email string, purpose Purpose) (*Record, error)
	// UpdateGuarded writes rec's status, attempts and verifiedAt, but only if
	// the stored attempt counter still equals expectedAttempts. Returns
	// ErrStaleRecord when another writer got there first.
	UpdateGuarded(ctx context.Context, rec *Record, expectedAttempts int) error
	// MarkUsed transitions verified -> used; idempotent on used.
	MarkUsed(ctx context.Context, id string) error
	// DeleteExpiredBefore removes terminal records whose deadline passed
	// before cutoff; returns the number removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemoryRepository is a mutex-guarded Repository used by tests and local
// runs. The mutex stands in for the database's conditional-update semantics.
type InMemoryRepository struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]*Record)}
}

func (r *InMemoryRepository) Issue(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.Email == rec.Email && existing.Purpose == rec.Purpose && existing.Status == StatusPending {
			existing.Status = StatusExpired
		}
	}
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.records[cp.ID] = &cp
	rec.ID = cp.ID
	return nil
}

func (r *InMemoryRepository) FindPending(ctx context.Context, email string, purpose Purpose) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Email == email && rec.Purpose == purpose && rec.Status == StatusPending {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNoPending
}

func (r *InMemoryRepository) UpdateGuarded(ctx context.Context, rec *Record, expectedAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[rec.ID]
	if !ok {
		return ErrNoPending
	}
	if stored.Attempts != expectedAttempts {
		return ErrStaleRecord
	}
	stored.Status = rec.Status
	stored.Attempts = rec.Attempts
	stored.VerifiedAt = rec.VerifiedAt
	return nil
}

func (r *InMemoryRepository) MarkUsed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[id]
	if !ok {
		return ErrNoPending
	}
	if stored.Status == StatusUsed {
		return nil
	}
	stored.Status = StatusUsed
	return nil
}

func (r *InMemoryRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, rec := range r.records {
		if rec.Status != StatusPending && rec.ExpiresAt.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}
	return removed, nil
}

// Snapshot returns a copy of every stored record; test helper.
func (r *InMemoryRepository) Snapshot() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

var _ Repository = (*InMemoryRepository)(nil)
