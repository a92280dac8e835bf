package tenancy

import (
	"context"
	"errors"

	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/token"
)

// ErrTenantUnresolved is returned when no clinic binding can be established
// for a principal; callers map it to HTTP 403.
var ErrTenantUnresolved = errors.New("tenancy: no clinic binding for principal")

// Resolver turns verified claims into the effective clinic id that scopes
// every tenant-bound query. It re-reads the principal from the identity store
// rather than trusting the token's cid claim, so deactivation and
// reassignment take effect immediately.
type Resolver struct {
	store identity.Repository
}

// NewResolver creates a resolver over the identity store.
func NewResolver(store identity.Repository) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the current principal and its effective clinic id.
// A clinic principal is its own tenant; staff inherit their clinic binding;
// elevated nurse roles do not cross the tenant boundary.
func (r *Resolver) Resolve(ctx context.Context, claims *token.Claims) (*identity.Principal, string, error) {
	switch claims.Role {
	case identity.RoleClinic, identity.RoleDoctor, identity.RoleNurse, identity.RoleHeadNurse, identity.RolePharmacist:
	default:
		return nil, "", ErrTenantUnresolved
	}

	p, err := r.store.FindByID(ctx, claims.Role, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, "", ErrTenantUnresolved
		}
		return nil, "", err
	}

	if claims.Role == identity.RoleClinic {
		return p, p.ID, nil
	}
	if p.ClinicID == "" {
		return nil, "", ErrTenantUnresolved
	}
	return p, p.ClinicID, nil
}
