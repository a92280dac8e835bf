package posts

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/careloop/clinic-platform/internal/access"
	httpmiddleware "github.com/careloop/clinic-platform/internal/http/middleware"
	"github.com/careloop/clinic-platform/pkg/logging"
)

// Handler handles HTTP requests for community feed posts. Every operation
// goes through the access guard; the repository refuses unscoped queries.
type Handler struct {
	repo   Repository
	guard  *access.Guard
	logger *logging.Logger
}

// NewHandler creates a new posts handler.
func NewHandler(repo Repository, guard *access.Guard, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, guard: guard, logger: logger}
}

// Create handles POST /posts requests.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbCreate, access.ResourcePosts)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req CreatePostRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post := &Post{
		ClinicID:   grant.RewriteClinicID(req.ClinicID),
		AuthorID:   grant.Principal.ID,
		AuthorRole: grant.Principal.EffectiveRole(),
		Title:      req.Title,
		Body:       req.Body,
	}
	created, err := h.repo.Create(r.Context(), post)
	if err != nil {
		h.logger.Error("failed to create post", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	h.logger.Info("post created", "id", created.ID, "clinic_id", created.ClinicID, "author", created.AuthorID)
	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET /posts/{postID} requests. Cross-tenant posts are reported
// as missing, not forbidden.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbRead, access.ResourcePosts)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	id := chi.URLParam(r, "postID")
	spec := grant.Scope(access.NewQuerySpec(access.ResourcePosts))
	post, err := h.repo.GetByID(r.Context(), spec, id)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		h.logger.Error("failed to fetch post", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to fetch post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// ListResponse is the response for listing posts.
type ListResponse struct {
	Posts  []*Post `json:"posts"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// List handles GET /posts requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbRead, access.ResourcePosts)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	limit, offset := 50, 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	spec := grant.Scope(access.NewQuerySpec(access.ResourcePosts))
	list, err := h.repo.List(r.Context(), spec, limit, offset)
	if err != nil {
		h.logger.Error("failed to list posts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Posts: list, Count: len(list), Offset: offset, Limit: limit})
}

func (h *Handler) writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrPrincipalInactive):
		writeError(w, http.StatusUnauthorized, "authorization required")
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		h.logger.Error("guard evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
