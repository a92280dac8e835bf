package authn

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	httpmiddleware "github.com/careloop/clinic-platform/internal/http/middleware"
	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/otp"
	"github.com/careloop/clinic-platform/internal/password"
	"github.com/careloop/clinic-platform/internal/token"
	"github.com/careloop/clinic-platform/pkg/logging"
)

// Messages returned for authentication failures. Deliberately constant so a
// caller cannot distinguish unknown email, wrong password or inactive account.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgTooManyAttempts    = "Too many failed attempts, try again later"
	msgOTPSent            = "If the account exists, a code has been sent"
)

// Handler exposes the authentication flows over HTTP.
type Handler struct {
	gateway *Gateway
	tokens  *token.Service
	store   identity.Repository
	logger  *logging.Logger
}

// NewHandler creates an authentication handler.
func NewHandler(gateway *Gateway, tokens *token.Service, store identity.Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{gateway: gateway, tokens: tokens, store: store, logger: logger}
}

// Register handles POST /auth/register: public clinic sign-up.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterClinicRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.gateway.RegisterClinic(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			h.logger.Error("registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": p.Summarize()})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login: single-step password login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	signed, p, err := h.gateway.PasswordLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": signed, "user": p.Summarize()})
}

// LoginStep1 handles POST /auth/login-step1: password check plus OTP mail.
// The response is the same whether or not the account exists.
func (h *Handler) LoginStep1(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	if err := h.gateway.LoginStep1(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent()); err != nil {
		h.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"otpSent": true})
}

type otpLoginRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// LoginStep2 handles POST /auth/login-step2: trade a login code for a session.
func (h *Handler) LoginStep2(w http.ResponseWriter, r *http.Request) {
	var req otpLoginRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	signed, p, err := h.gateway.LoginStep2(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": signed, "user": p.Summarize()})
}

type requestOTPRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose,omitempty"`
}

// RequestOTP handles POST /auth/request-otp. Always responds 200.
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	purpose := otp.PurposeLogin
	if req.Purpose != "" {
		p, ok := otp.ParsePurpose(req.Purpose)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown purpose")
			return
		}
		purpose = p
	}

	h.gateway.RequestOTP(r.Context(), req.Email, purpose, clientIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, map[string]string{"message": msgOTPSent})
}

type emailRequest struct {
	Email string `json:"email"`
}

// ForgotPassword handles POST /auth/forgot-password. Always responds 200.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	h.gateway.ForgotPassword(r.Context(), req.Email, clientIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, map[string]string{"message": msgOTPSent})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	if err := h.gateway.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		var verr *otp.VerifyError
		switch {
		case errors.Is(err, password.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.ClientMessage())
		default:
			h.logger.Error("password reset failed", "error", err)
			writeError(w, http.StatusInternalServerError, "password reset failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// Logout handles POST /auth/logout: denylists the presented token. Responds
// 200 even for garbage tokens; there is nothing useful to reveal.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	if err := h.tokens.Revoke(r.Context(), raw); err != nil {
		h.logger.Error("logout revoke failed", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Refresh handles POST /auth/refresh: re-mints a token inside its final
// refresh window.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	signed, err := h.tokens.Refresh(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRefreshTooEarly):
			writeError(w, http.StatusConflict, "token not yet refreshable")
		case errors.Is(err, token.ErrTokenExpired), errors.Is(err, token.ErrTokenRevoked), errors.Is(err, token.ErrTokenMalformed):
			writeError(w, http.StatusUnauthorized, "authorization required")
		default:
			h.logger.Error("refresh failed", "error", err)
			writeError(w, http.StatusInternalServerError, "refresh failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

// Me handles GET /auth/me behind the session middleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	p, err := h.store.FindByID(r.Context(), claims.Role, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		h.logger.Error("principal lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": p.Summarize()})
}

// DevLogin handles POST /auth/dev-login. The router mounts it only outside
// production.
func (h *Handler) DevLogin(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeStrict(w, r, &req) {
		return
	}

	signed, p, err := h.gateway.DevLogin(r.Context(), req.Email)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": signed, "user": p.Summarize()})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	var verr *otp.VerifyError
	switch {
	case errors.Is(err, ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, msgTooManyAttempts)
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.As(err, &verr):
		writeError(w, http.StatusUnauthorized, verr.ClientMessage())
	default:
		h.logger.Error("login flow failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeStrict(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
