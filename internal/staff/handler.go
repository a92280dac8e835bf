package staff

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/careloop/clinic-platform/internal/access"
	httpmiddleware "github.com/careloop/clinic-platform/internal/http/middleware"
	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/password"
	"github.com/careloop/clinic-platform/pkg/logging"
)

// Handler manages a clinic's staff roster. Only principals the permission
// matrix allows reach the store; every query is pinned to the caller's clinic.
type Handler struct {
	store  identity.Repository
	hasher *password.Hasher
	guard  *access.Guard
	logger *logging.Logger
}

// NewHandler creates a staff management handler.
func NewHandler(store identity.Repository, hasher *password.Hasher, guard *access.Guard, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, hasher: hasher, guard: guard, logger: logger}
}

// CreateStaffRequest carries the fields for onboarding a staff member. The
// role comes from the URL, the clinic from the caller's grant.
type CreateStaffRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UHID     string `json:"uhid"`

	Specialty      string         `json:"specialty,omitempty"`
	Departments    []string       `json:"departments,omitempty"`
	Shift          identity.Shift `json:"shift,omitempty"`
	Specialization string         `json:"specialization,omitempty"`
	ProfileImage   string         `json:"profileImage,omitempty"`
}

// Validate checks required fields and the password policy.
func (r *CreateStaffRequest) Validate() error {
	if r.FullName == "" {
		return fmt.Errorf("fullName is required")
	}
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if r.UHID == "" {
		return fmt.Errorf("uhid is required")
	}
	return password.ValidatePolicy(r.Password)
}

// Create handles POST /staff/{staffRole}.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	role, ok := staffRoleFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown staff role")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbCreate, access.ResourceStaff)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req CreateStaffRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.Error("staff password hash failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create staff member")
		return
	}

	p, err := h.store.Create(r.Context(), &identity.Principal{
		Role:           role,
		FullName:       req.FullName,
		Email:          req.Email,
		UHID:           req.UHID,
		PasswordHash:   hash,
		ClinicID:       grant.RewriteClinicID(""),
		Active:         true,
		ProfileImage:   req.ProfileImage,
		Specialty:      req.Specialty,
		Departments:    req.Departments,
		Shift:          req.Shift,
		Specialization: req.Specialization,
	})
	if err != nil {
		if errors.Is(err, identity.ErrConflict) {
			writeError(w, http.StatusConflict, "email or uhid already in use")
			return
		}
		h.logger.Error("staff create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create staff member")
		return
	}

	h.logger.Info("staff member created", "id", p.ID, "role", p.EffectiveRole(), "clinic_id", p.ClinicID)
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /staff/{staffRole}: the caller's clinic roster only.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	role, ok := staffRoleFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown staff role")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbRead, access.ResourceStaff)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	list, err := h.store.ListByClinic(r.Context(), role, grant.ClinicID)
	if err != nil {
		h.logger.Error("staff list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list staff")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": list, "count": len(list)})
}

// Get handles GET /staff/{staffRole}/{staffID}. Cross-tenant staff are
// reported as missing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	role, ok := staffRoleFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown staff role")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbRead, access.ResourceStaff)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	p, err := h.lookupInClinic(r, role, grant.ClinicID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive handles PATCH /staff/{staffRole}/{staffID}/active. Deactivation
// takes effect on the principal's next guarded request regardless of any
// outstanding tokens.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	role, ok := staffRoleFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown staff role")
		return
	}

	grant, err := h.guard.Authorize(r.Context(), claims, access.VerbUpdate, access.ResourceStaff)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req setActiveRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.lookupInClinic(r, role, grant.ClinicID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	updated, err := h.store.SetActive(r.Context(), role, p.ID, req.Active)
	if err != nil {
		h.logger.Error("staff set active failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update staff member")
		return
	}

	h.logger.Info("staff active flag changed", "id", updated.ID, "active", updated.Active, "by", claims.Subject)
	writeJSON(w, http.StatusOK, updated)
}

// lookupInClinic fetches the staff member and hides principals belonging to
// other clinics behind ErrNotFound.
func (h *Handler) lookupInClinic(r *http.Request, role identity.Role, clinicID string) (*identity.Principal, error) {
	id := chi.URLParam(r, "staffID")
	p, err := h.store.FindByID(r.Context(), role, id)
	if err != nil {
		return nil, err
	}
	if p.ClinicID != clinicID {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, identity.ErrNotFound) {
		writeError(w, http.StatusNotFound, "staff member not found")
		return
	}
	h.logger.Error("staff lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
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

// staffRoleFromURL resolves the {staffRole} segment; clinics are not staff.
func staffRoleFromURL(r *http.Request) (identity.Role, bool) {
	role, ok := identity.ParseRole(chi.URLParam(r, "staffRole"))
	if !ok || role == identity.RoleClinic {
		return "", false
	}
	return role, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
