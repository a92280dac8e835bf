package posts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/careloop/clinic-platform/internal/access"
	httpmiddleware "github.com/careloop/clinic-platform/internal/http/middleware"
	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/tenancy"
	"github.com/careloop/clinic-platform/internal/token"
	"github.com/careloop/clinic-platform/pkg/logging"
)

type world struct {
	handler *Handler
	repo    *InMemoryRepository
	store   *identity.InMemoryRepository
	clinic1 *identity.Principal
	clinic2 *identity.Principal
	doctor1 *identity.Principal
	doctor2 *identity.Principal
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := identity.NewInMemoryRepository()
	ctx := context.Background()

	c1, _ := store.Create(ctx, &identity.Principal{Role: identity.RoleClinic, FullName: "C1", Email: "admin@c1.test", Active: true})
	c2, _ := store.Create(ctx, &identity.Principal{Role: identity.RoleClinic, FullName: "C2", Email: "admin@c2.test", Active: true})
	d1, _ := store.Create(ctx, &identity.Principal{Role: identity.RoleDoctor, FullName: "A", Email: "a@c1.test", UHID: "DR-1", ClinicID: c1.ID, Active: true})
	d2, _ := store.Create(ctx, &identity.Principal{Role: identity.RoleDoctor, FullName: "B", Email: "b@c2.test", UHID: "DR-2", ClinicID: c2.ID, Active: true})

	guard := access.NewGuard(tenancy.NewResolver(store), logging.Default())
	repo := NewInMemoryRepository()
	return &world{
		handler: NewHandler(repo, guard, logging.Default()),
		repo:    repo, store: store,
		clinic1: c1, clinic2: c2, doctor1: d1, doctor2: d2,
	}
}

func request(t *testing.T, p *identity.Principal, method, target string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	claims := &token.Claims{Subject: p.ID, Role: p.EffectiveRole(), ClinicID: p.ClinicID}
	return req.WithContext(httpmiddleware.WithClaims(req.Context(), claims))
}

// A client-supplied clinicId is overwritten with the caller's tenant.
func TestCreate_RewritesClinicID(t *testing.T) {
	w := newWorld(t)
	body, _ := json.Marshal(CreatePostRequest{ClinicID: w.clinic2.ID, Title: "x", Body: "y"})

	rec := httptest.NewRecorder()
	w.handler.Create(rec, request(t, w.clinic1, http.MethodPost, "/posts", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Post
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ClinicID != w.clinic1.ID {
		t.Errorf("body clinicId must be ignored: got %s want %s", created.ClinicID, w.clinic1.ID)
	}
}

func TestCreate_RejectsUnknownFields(t *testing.T) {
	w := newWorld(t)
	body := []byte(`{"title":"x","body":"y","isAdmin":true}`)

	rec := httptest.NewRecorder()
	w.handler.Create(rec, request(t, w.clinic1, http.MethodPost, "/posts", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected, got %d", rec.Code)
	}
}

func TestCreate_PharmacistForbidden(t *testing.T) {
	w := newWorld(t)
	ph, _ := w.store.Create(context.Background(), &identity.Principal{
		Role: identity.RolePharmacist, FullName: "Ph", Email: "ph@c1.test", UHID: "PH-1", ClinicID: w.clinic1.ID, Active: true,
	})
	body, _ := json.Marshal(CreatePostRequest{Title: "x", Body: "y"})

	rec := httptest.NewRecorder()
	w.handler.Create(rec, request(t, ph, http.MethodPost, "/posts", body))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for pharmacist, got %d", rec.Code)
	}
}

// Cross-tenant reads return 404, indistinguishable from a missing post.
func TestGet_CrossTenantHidden(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	p2, _ := w.repo.Create(ctx, &Post{ClinicID: w.clinic2.ID, AuthorID: w.doctor2.ID, AuthorRole: identity.RoleDoctor, Title: "c2 post", Body: "b"})

	req := request(t, w.doctor1, http.MethodGet, "/posts/"+p2.ID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("postID", p2.ID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	w.handler.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant read must 404, got %d", rec.Code)
	}

	// The owner's tenant can read it.
	req = request(t, w.doctor2, http.MethodGet, "/posts/"+p2.ID, nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec = httptest.NewRecorder()
	w.handler.Get(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("same-tenant read failed: %d", rec.Code)
	}
}

// Listing never leaks another tenant's posts.
func TestList_TenantIsolation(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.repo.Create(ctx, &Post{ClinicID: w.clinic1.ID, AuthorID: w.doctor1.ID, AuthorRole: identity.RoleDoctor, Title: "one", Body: "b"})
	w.repo.Create(ctx, &Post{ClinicID: w.clinic1.ID, AuthorID: w.doctor1.ID, AuthorRole: identity.RoleDoctor, Title: "two", Body: "b"})
	w.repo.Create(ctx, &Post{ClinicID: w.clinic2.ID, AuthorID: w.doctor2.ID, AuthorRole: identity.RoleDoctor, Title: "other", Body: "b"})

	rec := httptest.NewRecorder()
	w.handler.List(rec, request(t, w.doctor1, http.MethodGet, "/posts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	var resp ListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 posts, got %d", resp.Count)
	}
	for _, p := range resp.Posts {
		if p.ClinicID != w.clinic1.ID {
			t.Errorf("foreign post leaked: %+v", p)
		}
	}
}

func TestRepository_RefusesUnscopedQuery(t *testing.T) {
	repo := NewInMemoryRepository()
	_, err := repo.List(context.Background(), access.NewQuerySpec(access.ResourcePosts), 10, 0)
	if err == nil {
		t.Fatal("unscoped list must be rejected")
	}
	_, err = repo.GetByID(context.Background(), access.NewQuerySpec(access.ResourcePosts), "any")
	if err == nil {
		t.Fatal("unscoped get must be rejected")
	}
}

func TestMissingClaims_Unauthorized(t *testing.T) {
	w := newWorld(t)
	rec := httptest.NewRecorder()
	w.handler.List(rec, httptest.NewRequest(http.MethodGet, "/posts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}
}
