package identity

import (
	"strings"
	"time"
)

// Role tags every principal. Authorization and tenancy rules key off this
// value, never off free-form strings from requests.
type Role string

const (
	RoleClinic     Role = "clinic"
	RoleDoctor     Role = "doctor"
	RoleNurse      Role = "nurse"
	RoleHeadNurse  Role = "head_nurse"
	RolePharmacist Role = "pharmacist"
)

// StaffRoles lists the roles that belong to a clinic rather than being one.
var StaffRoles = []Role{RoleDoctor, RoleNurse, RolePharmacist}

// ParseRole validates a client-supplied role string.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleClinic:
		return RoleClinic, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleNurse:
		return RoleNurse, true
	case RoleHeadNurse:
		return RoleHeadNurse, true
	case RolePharmacist:
		return RolePharmacist, true
	}
	return "", false
}

// storageRole collapses head_nurse into the nurses table.
func storageRole(r Role) Role {
	if r == RoleHeadNurse {
		return RoleNurse
	}
	return r
}

// Shift is a nurse's duty rotation.
type Shift string

const (
	ShiftDay      Shift = "day"
	ShiftNight    Shift = "night"
	ShiftEvening  Shift = "evening"
	ShiftRotating Shift = "rotating"
)

// Principal is an authenticatable identity. One struct covers all roles; the
// role-specific fields are populated only for that role. A clinic is its own
// tenant anchor: its ClinicID equals its ID.
type Principal struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	UHID         string    `json:"uhid,omitempty"`
	PasswordHash string    `json:"-"`
	ClinicID     string    `json:"clinicId"`
	Active       bool      `json:"active"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	// Doctor
	Specialty string `json:"specialty,omitempty"`

	// Nurse
	Departments []string `json:"departments,omitempty"`
	Shift       Shift    `json:"shift,omitempty"`
	IsHead      bool     `json:"isHead,omitempty"`

	// Pharmacist
	Specialization string `json:"specialization,omitempty"`

	// Clinic
	ContactPhone string `json:"contactPhone,omitempty"`
	Address      string `json:"address,omitempty"`
}

// EffectiveRole maps a stored nurse with the head flag back to head_nurse.
func (p *Principal) EffectiveRole() Role {
	if p.Role == RoleNurse && p.IsHead {
		return RoleHeadNurse
	}
	return p.Role
}

// Summary is the principal shape returned to clients after authentication.
type Summary struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	ClinicID string `json:"cid"`
}

// Summarize builds the client-facing view of a principal.
func (p *Principal) Summarize() Summary {
	return Summary{
		ID:       p.ID,
		Role:     p.EffectiveRole(),
		FullName: p.FullName,
		Email:    p.Email,
		ClinicID: p.ClinicID,
	}
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUHID uppercases a hospital identifier for storage and lookup.
func NormalizeUHID(uhid string) string {
	return strings.ToUpper(strings.TrimSpace(uhid))
}
