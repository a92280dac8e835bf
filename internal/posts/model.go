package posts

import (
	"errors"
	"strings"
	"time"

	"github.com/careloop/clinic-platform/internal/identity"
)

// ErrPostNotFound covers both truly absent posts and posts hidden by tenant
// scoping; callers cannot distinguish the two.
var ErrPostNotFound = errors.New("posts: post not found")

// Post is a community feed entry. Every post is tenant-bound via ClinicID.
type Post struct {
	ID         string        `json:"id"`
	ClinicID   string        `json:"clinicId"`
	AuthorID   string        `json:"authorId"`
	AuthorRole identity.Role `json:"authorRole"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// CreatePostRequest is the request body for creating a post. The clinicId
// field is accepted for wire compatibility but always overwritten by the
// access guard's effective clinic id.
type CreatePostRequest struct {
	ClinicID string `json:"clinicId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// Validate checks the request fields.
func (r *CreatePostRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("posts: title is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("posts: body is required")
	}
	return nil
}
