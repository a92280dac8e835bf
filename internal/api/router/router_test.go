package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/careloop/clinic-platform/internal/access"
	"github.com/careloop/clinic-platform/internal/authn"
	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/notify"
	"github.com/careloop/clinic-platform/internal/otp"
	"github.com/careloop/clinic-platform/internal/password"
	"github.com/careloop/clinic-platform/internal/posts"
	"github.com/careloop/clinic-platform/internal/staff"
	"github.com/careloop/clinic-platform/internal/tenancy"
	"github.com/careloop/clinic-platform/internal/token"
	"github.com/careloop/clinic-platform/pkg/logging"
)

var testParams = password.Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func newTestRouter(t *testing.T) (http.Handler, *notify.CaptureSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logging.Default()

	store := identity.NewInMemoryRepository()
	hasher := password.NewHasher(testParams)
	otps := otp.NewService(otp.NewInMemoryRepository(), 5*time.Minute, logger)
	tokens := token.NewService([]byte("0123456789abcdef0123456789abcdef"), time.Hour, 15*time.Minute, token.NewRedisDenylist(client))
	mailer := notify.NewCaptureSender(logger)

	gw := authn.NewGateway(authn.GatewayConfig{
		Store:  store,
		Hasher: hasher,
		OTP:    otps,
		Tokens: tokens,
		Mailer: mailer,
		Logger: logger,
	})
	guard := access.NewGuard(tenancy.NewResolver(store), logger)

	h := New(&Config{
		Logger:       logger,
		AuthHandler:  authn.NewHandler(gw, tokens, store, logger),
		PostsHandler: posts.NewHandler(posts.NewInMemoryRepository(), guard, logger),
		StaffHandler: staff.NewHandler(store, hasher, guard, logger),
		Tokens:       tokens,
	})
	return h, mailer
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h, _ := newTestRouter(t)
	for _, target := range []string{"/posts/", "/staff/doctor/", "/auth/me"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", target, rec.Code)
		}
	}
}

func TestDevLoginHiddenByDefault(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/dev-login", bytes.NewReader([]byte(`{"email":"a@b.c"}`))))
	if rec.Code == http.StatusOK || rec.Code == http.StatusUnauthorized {
		t.Fatalf("dev login must not be routable when disabled, got %d", rec.Code)
	}
}

// End-to-end through the router: register, login, create a post, read it back.
func TestRegisterLoginAndPost(t *testing.T) {
	h, _ := newTestRouter(t)

	do := func(method, target, tok string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			_ = json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, target, &buf)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Clinic", "email": "admin@clinic.test", "password": "Str0ng!pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "admin@clinic.test", "password": "Str0ng!pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(http.MethodPost, "/posts/", login.Token, map[string]string{
		"title": "Welcome", "body": "First post",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create post: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created posts.Post
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(http.MethodGet, "/posts/"+created.ID, login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get post: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(http.MethodGet, "/auth/me", login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
