package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/careloop/clinic-platform/internal/identity"
	"github.com/careloop/clinic-platform/internal/token"
)

func seedStore(t *testing.T) (*identity.InMemoryRepository, *identity.Principal, *identity.Principal) {
	t.Helper()
	store := identity.NewInMemoryRepository()
	ctx := context.Background()

	clinic, err := store.Create(ctx, &identity.Principal{
		Role: identity.RoleClinic, FullName: "Main Street Clinic", Email: "admin@main.test", Active: true,
	})
	if err != nil {
		t.Fatalf("seed clinic: %v", err)
	}
	doctor, err := store.Create(ctx, &identity.Principal{
		Role: identity.RoleDoctor, FullName: "Alice", Email: "alice@clinic.test", UHID: "DR-001",
		ClinicID: clinic.ID, Active: true,
	})
	if err != nil {
		t.Fatalf("seed doctor: %v", err)
	}
	return store, clinic, doctor
}

func TestResolve_ClinicIsOwnTenant(t *testing.T) {
	store, clinic, _ := seedStore(t)
	r := NewResolver(store)

	p, cid, err := r.Resolve(context.Background(), &token.Claims{Subject: clinic.ID, Role: identity.RoleClinic})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cid != clinic.ID || p.ID != clinic.ID {
		t.Errorf("clinic must scope to itself: cid=%s", cid)
	}
}

func TestResolve_StaffInheritClinicBinding(t *testing.T) {
	store, clinic, doctor := seedStore(t)
	r := NewResolver(store)

	_, cid, err := r.Resolve(context.Background(), &token.Claims{Subject: doctor.ID, Role: identity.RoleDoctor})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cid != clinic.ID {
		t.Errorf("expected clinic %s, got %s", clinic.ID, cid)
	}
}

func TestResolve_HeadNurseStaysInTenant(t *testing.T) {
	store, clinic, _ := seedStore(t)
	ctx := context.Background()
	hn, err := store.Create(ctx, &identity.Principal{
		Role: identity.RoleHeadNurse, FullName: "Head N", Email: "head@clinic.test", UHID: "NU-001",
		ClinicID: clinic.ID, Active: true,
	})
	if err != nil {
		t.Fatalf("seed head nurse: %v", err)
	}

	r := NewResolver(store)
	_, cid, err := r.Resolve(ctx, &token.Claims{Subject: hn.ID, Role: identity.RoleHeadNurse})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cid != clinic.ID {
		t.Errorf("elevated role must not cross tenant boundary: cid=%s", cid)
	}
}

func TestResolve_UnknownPrincipal(t *testing.T) {
	store, _, _ := seedStore(t)
	r := NewResolver(store)
	_, _, err := r.Resolve(context.Background(), &token.Claims{Subject: "ghost", Role: identity.RoleDoctor})
	if !errors.Is(err, ErrTenantUnresolved) {
		t.Fatalf("expected ErrTenantUnresolved, got %v", err)
	}
}

func TestResolve_UnknownRole(t *testing.T) {
	store, _, doctor := seedStore(t)
	r := NewResolver(store)
	_, _, err := r.Resolve(context.Background(), &token.Claims{Subject: doctor.ID, Role: identity.Role("superuser")})
	if !errors.Is(err, ErrTenantUnresolved) {
		t.Fatalf("expected ErrTenantUnresolved, got %v", err)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := WithClinicID(context.Background(), "C1")
	cid, ok := ClinicIDFromContext(ctx)
	if !ok || cid != "C1" {
		t.Errorf("round trip failed: %s %v", cid, ok)
	}
	if _, ok := ClinicIDFromContext(context.Background()); ok {
		t.Error("empty context should not resolve")
	}
}
