package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the canonical registry of principals. Email lookups are
// case-insensitive; implementations store the lowercased form.
type Repository interface {
	Create(ctx context.Context, p *Principal) (*Principal, error)
	FindByID(ctx context.Context, role Role, id string) (*Principal, error)
	FindByEmail(ctx context.Context, role Role, email string) (*Principal, error)
	// FindByEmailAnyRole scans all role tables; login does not know the role.
	FindByEmailAnyRole(ctx context.Context, email string) (*Principal, error)
	// ListByClinic returns every principal of the role belonging to the clinic.
	ListByClinic(ctx context.Context, role Role, clinicID string) ([]*Principal, error)
	SetActive(ctx context.Context, role Role, id string, active bool) (*Principal, error)
	UpdateCredential(ctx context.Context, role Role, id string, newHash string) error
	UpdateCredentialByEmail(ctx context.Context, email string, newHash string) error
}

// InMemoryRepository is a map-backed Repository used by tests and local runs.
type InMemoryRepository struct {
	mu         sync.RWMutex
	principals map[Role]map[string]*Principal // storage role -> id -> principal
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	m := make(map[Role]map[string]*Principal)
	for _, r := range []Role{RoleClinic, RoleDoctor, RoleNurse, RolePharmacist} {
		m[r] = make(map[string]*Principal)
	}
	return &InMemoryRepository{principals: m}
}

func (r *InMemoryRepository) Create(ctx context.Context, p *Principal) (*Principal, error) {
	role := storageRole(p.Role)
	table, ok := r.principals[role]
	if !ok {
		return nil, ErrUnknownRole
	}

	cp := *p
	cp.Email = NormalizeEmail(cp.Email)
	cp.UHID = NormalizeUHID(cp.UHID)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Role == RoleClinic {
		cp.ClinicID = cp.ID
	}
	if cp.Role == RoleHeadNurse {
		cp.Role = RoleNurse
		cp.IsHead = true
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tbl := range r.principals {
		for _, existing := range tbl {
			if existing.Email == cp.Email {
				return nil, ErrConflict
			}
		}
	}
	if cp.UHID != "" {
		for _, existing := range table {
			if existing.UHID == cp.UHID {
				return nil, ErrConflict
			}
		}
	}
	table[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *InMemoryRepository) FindByID(ctx context.Context, role Role, id string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.principals[storageRole(role)]
	if !ok {
		return nil, ErrUnknownRole
	}
	p, ok := table[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (r *InMemoryRepository) FindByEmail(ctx context.Context, role Role, email string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.principals[storageRole(role)]
	if !ok {
		return nil, ErrUnknownRole
	}
	email = NormalizeEmail(email)
	for _, p := range table {
		if p.Email == email {
			out := *p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) FindByEmailAnyRole(ctx context.Context, email string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = NormalizeEmail(email)
	for _, table := range r.principals {
		for _, p := range table {
			if p.Email == email {
				out := *p
				return &out, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListByClinic(ctx context.Context, role Role, clinicID string) ([]*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.principals[storageRole(role)]
	if !ok {
		return nil, ErrUnknownRole
	}
	var out []*Principal
	for _, p := range table {
		if p.ClinicID == clinicID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) SetActive(ctx context.Context, role Role, id string, active bool) (*Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.principals[storageRole(role)]
	if !ok {
		return nil, ErrUnknownRole
	}
	p, ok := table[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Active = active
	out := *p
	return &out, nil
}

func (r *InMemoryRepository) UpdateCredential(ctx context.Context, role Role, id string, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.principals[storageRole(role)]
	if !ok {
		return ErrUnknownRole
	}
	p, ok := table[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = newHash
	return nil
}

func (r *InMemoryRepository) UpdateCredentialByEmail(ctx context.Context, email string, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = NormalizeEmail(email)
	for _, table := range r.principals {
		for _, p := range table {
			if p.Email == email {
				p.PasswordHash = newHash
				return nil
			}
		}
	}
	return ErrNotFound
}

var _ Repository = (*InMemoryRepository)(nil)
