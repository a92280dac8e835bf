package posts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-platform/internal/access"
)

// Repository stores posts. Read operations take a scoped query spec and
// refuse dispatch without the clinic predicate; that check is the router-side
// half of the tenant-isolation invariant.
type Repository interface {
	Create(ctx context.Context, post *Post) (*Post, error)
	GetByID(ctx context.Context, spec *access.QuerySpec, id string) (*Post, error)
	List(ctx context.Context, spec *access.QuerySpec, limit, offset int) ([]*Post, error)
}

// InMemoryRepository is a map-backed Repository for tests and local runs.
type InMemoryRepository struct {
	mu    sync.RWMutex
	posts map[string]*Post
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{posts: make(map[string]*Post)}
}

func (r *InMemoryRepository) Create(ctx context.Context, post *Post) (*Post, error) {
	cp := *post
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.posts[cp.ID] = &cp
	r.mu.Unlock()
	out := cp
	return &out, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, spec *access.QuerySpec, id string) (*Post, error) {
	if err := spec.RequireScope(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	post, ok := r.posts[id]
	if !ok || post.ClinicID != spec.ClinicID() {
		return nil, ErrPostNotFound
	}
	out := *post
	return &out, nil
}

func (r *InMemoryRepository) List(ctx context.Context, spec *access.QuerySpec, limit, offset int) ([]*Post, error) {
	if err := spec.RequireScope(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Post, 0)
	for _, post := range r.posts {
		if post.ClinicID != spec.ClinicID() {
			continue
		}
		cp := *post
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if offset >= len(matched) {
		return []*Post{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

var _ Repository = (*InMemoryRepository)(nil)
