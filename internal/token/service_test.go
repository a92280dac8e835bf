package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/careloop/clinic-platform/internal/identity"
)

var testKey = []byte(strings.Repeat("k", 32))

func testPrincipal() *identity.Principal {
	return &identity.Principal{
		ID:       "doc-1",
		Role:     identity.RoleDoctor,
		ClinicID: "C1",
		Active:   true,
	}
}

func TestMintAndValidate(t *testing.T) {
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil)
	tok, err := svc.Mint(testPrincipal())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := svc.Validate(context.Background(), tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "doc-1" || claims.Role != identity.RoleDoctor || claims.ClinicID != "C1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.JTI == "" {
		t.Error("jti must be set")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != time.Hour {
		t.Errorf("expected 1h lifetime, got %s", got)
	}
}

func TestValidate_Expired(t *testing.T) {
	current := time.Now()
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil).WithClock(func() time.Time { return current })
	tok, _ := svc.Mint(testPrincipal())

	current = current.Add(2 * time.Hour)
	_, err := svc.Validate(context.Background(), tok)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidate_Malformed(t *testing.T) {
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil)
	for _, bad := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.Validate(context.Background(), bad); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("token %q: expected ErrTokenMalformed, got %v", bad, err)
		}
	}
}

func TestValidate_WrongKey(t *testing.T) {
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil)
	other := NewService([]byte(strings.Repeat("x", 32)), time.Hour, 15*time.Minute, nil)
	tok, _ := other.Mint(testPrincipal())
	if _, err := svc.Validate(context.Background(), tok); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for wrong key, got %v", err)
	}
}

// Tokens signed with "alg":"none" must never validate.
func TestValidate_RejectsUnsignedAlgorithm(t *testing.T) {
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil)
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJzdWIiOiJkb2MtMSIsInJvbGUiOiJkb2N0b3IiLCJjaWQiOiJDMSJ9."
	if _, err := svc.Validate(context.Background(), unsigned); err == nil {
		t.Fatal("unsigned token validated")
	}
}

func TestRefresh_OnlyInsideWindow(t *testing.T) {
	current := time.Now()
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil).WithClock(func() time.Time { return current })
	tok, _ := svc.Mint(testPrincipal())

	// Too early: 30 minutes of life remain beyond the window.
	current = current.Add(30 * time.Minute)
	if _, err := svc.Refresh(context.Background(), tok); !errors.Is(err, ErrRefreshTooEarly) {
		t.Fatalf("expected ErrRefreshTooEarly, got %v", err)
	}

	// Inside the final 15 minutes.
	current = current.Add(20 * time.Minute)
	refreshed, err := svc.Refresh(context.Background(), tok)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	claims, err := svc.Validate(context.Background(), refreshed)
	if err != nil {
		t.Fatalf("validate refreshed: %v", err)
	}
	if claims.Subject != "doc-1" || claims.ClinicID != "C1" {
		t.Errorf("claims must carry over: %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != time.Hour {
		t.Errorf("refreshed token should get a full TTL, got %s", got)
	}
}

func TestRevoke_DenylistsUntilExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(testKey, time.Hour, 15*time.Minute, NewRedisDenylist(client))

	tok, _ := svc.Mint(testPrincipal())
	ctx := context.Background()

	if _, err := svc.Validate(ctx, tok); err != nil {
		t.Fatalf("pre-revoke validate: %v", err)
	}
	if err := svc.Revoke(ctx, tok); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Validate(ctx, tok); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	// A different token is unaffected.
	other, _ := svc.Mint(testPrincipal())
	if _, err := svc.Validate(ctx, other); err != nil {
		t.Fatalf("other token rejected: %v", err)
	}
}

func TestRevoke_GarbageTokenIsNoop(t *testing.T) {
	svc := NewService(testKey, time.Hour, 15*time.Minute, nil)
	if err := svc.Revoke(context.Background(), "not-a-token"); err != nil {
		t.Fatalf("revoking garbage should not error: %v", err)
	}
}
