package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/careloop/clinic-platform/internal/authn"
	httpmiddleware "github.com/careloop/clinic-platform/internal/http/middleware"
	"github.com/careloop/clinic-platform/internal/posts"
	"github.com/careloop/clinic-platform/internal/staff"
	"github.com/careloop/clinic-platform/internal/token"
	"github.com/careloop/clinic-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger       *logging.Logger
	AuthHandler  *authn.Handler
	PostsHandler *posts.Handler
	StaffHandler *staff.Handler
	Tokens       *token.Service

	MetricsHandler http.Handler
	CORS           httpmiddleware.CORSPolicy
	RateLimiter    *httpmiddleware.RateLimiter

	// DevLoginEnabled mounts /auth/dev-login; the config layer refuses to set
	// it in production.
	DevLoginEnabled bool
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORS.Origins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORS))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.AuthHandler != nil {
			public.Route("/auth", func(auth chi.Router) {
				auth.Post("/register", cfg.AuthHandler.Register)
				auth.Post("/login", cfg.AuthHandler.Login)
				auth.Post("/login-step1", cfg.AuthHandler.LoginStep1)
				auth.Post("/login-step2", cfg.AuthHandler.LoginStep2)
				auth.Post("/request-otp", cfg.AuthHandler.RequestOTP)
				auth.Post("/forgot-password", cfg.AuthHandler.ForgotPassword)
				auth.Post("/reset-password", cfg.AuthHandler.ResetPassword)
				auth.Post("/logout", cfg.AuthHandler.Logout)
				auth.Post("/refresh", cfg.AuthHandler.Refresh)
				if cfg.DevLoginEnabled {
					auth.Post("/dev-login", cfg.AuthHandler.DevLogin)
				}
			})
		}
	})

	// Session-protected endpoints
	r.Group(func(protected chi.Router) {
		protected.Use(httpmiddleware.SessionAuth(cfg.Tokens))

		if cfg.AuthHandler != nil {
			protected.Get("/auth/me", cfg.AuthHandler.Me)
		}
		if cfg.PostsHandler != nil {
			protected.Route("/posts", func(p chi.Router) {
				p.Post("/", cfg.PostsHandler.Create)
				p.Get("/", cfg.PostsHandler.List)
				p.Get("/{postID}", cfg.PostsHandler.Get)
			})
		}
		if cfg.StaffHandler != nil {
			protected.Route("/staff/{staffRole}", func(s chi.Router) {
				s.Post("/", cfg.StaffHandler.Create)
				s.Get("/", cfg.StaffHandler.List)
				s.Get("/{staffID}", cfg.StaffHandler.Get)
				s.Patch("/{staffID}/active", cfg.StaffHandler.SetActive)
			})
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
