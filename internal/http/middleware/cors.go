package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes the cross-origin surface of the API. Zero-value
// fields fall back to the defaults below; Origins must be set for the
// middleware to emit any CORS headers at all.
type CORSPolicy struct {
	// Origins is the exact-match allowlist. A single "*" entry echoes any
	// Origin back.
	Origins []string
	// Headers lists request headers a browser may send cross-origin.
	Headers []string
	// Methods lists methods advertised on preflight.
	Methods []string
	// MaxAge bounds how long a browser may cache the preflight answer.
	MaxAge time.Duration
}

var (
	defaultCORSHeaders = []string{"Authorization", "Content-Type"}
	defaultCORSMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
)

// CORS returns an allowlist-based CORS middleware for the given policy.
// Requests from origins outside the allowlist pass through untouched; the
// browser enforces the denial.
func CORS(policy CORSPolicy) func(http.Handler) http.Handler {
	allowAny := false
	allow := map[string]struct{}{}
	for _, origin := range policy.Origins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			allowAny = true
		default:
			allow[origin] = struct{}{}
		}
	}

	headers := policy.Headers
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	methods := policy.Methods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	maxAge := policy.MaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}

	headerList := strings.Join(headers, ", ")
	methodList := strings.Join(methods, ", ")
	maxAgeSeconds := strconv.Itoa(int(maxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			_, listed := allow[origin]
			if origin != "" && (allowAny || listed) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Headers", headerList)
				h.Set("Access-Control-Allow-Methods", methodList)
				h.Set("Access-Control-Max-Age", maxAgeSeconds)
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
