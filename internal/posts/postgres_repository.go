package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/clinic-platform/internal/access"
)

// PostgresRepository stores posts in the relational database. Every SELECT
// binds the clinic predicate from the query spec; there is no code path that
// queries the table unscoped.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("posts: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, post *Post) (*Post, error) {
	cp := *post
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	query := `
		INSERT INTO posts (id, clinic_id, author_id, author_role, title, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		cp.ID, cp.ClinicID, cp.AuthorID, cp.AuthorRole, cp.Title, cp.Body,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("posts: insert failed: %w", err)
	}
	cp.CreatedAt = createdAt
	return &cp, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, spec *access.QuerySpec, id string) (*Post, error) {
	if err := spec.RequireScope(); err != nil {
		return nil, err
	}
	query := `
		SELECT id, clinic_id, author_id, author_role, title, body, created_at
		FROM posts
		WHERE id = $1 AND clinic_id = $2
	`
	row := r.pool.QueryRow(ctx, query, id, spec.ClinicID())
	var post Post
	if err := row.Scan(&post.ID, &post.ClinicID, &post.AuthorID, &post.AuthorRole, &post.Title, &post.Body, &post.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("posts: select failed: %w", err)
	}
	return &post, nil
}

func (r *PostgresRepository) List(ctx context.Context, spec *access.QuerySpec, limit, offset int) ([]*Post, error) {
	if err := spec.RequireScope(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, clinic_id, author_id, author_role, title, body, created_at
		FROM posts
		WHERE clinic_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, spec.ClinicID(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("posts: list failed: %w", err)
	}
	defer rows.Close()

	out := make([]*Post, 0, limit)
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.ClinicID, &post.AuthorID, &post.AuthorRole, &post.Title, &post.Body, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("posts: scan failed: %w", err)
		}
		out = append(out, &post)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
