package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/careloop/clinic-platform/internal/identity"
)

var (
	// ErrTokenExpired is returned for a structurally valid but expired token.
	ErrTokenExpired = errors.New("token: expired")
	// ErrTokenMalformed covers bad signatures, wrong algorithms and garbage.
	ErrTokenMalformed = errors.New("token: malformed")
	// ErrTokenRevoked is returned for tokens whose jti is denylisted.
	ErrTokenRevoked = errors.New("token: revoked")
	// ErrRefreshTooEarly is returned when a token is outside the refresh window.
	ErrRefreshTooEarly = errors.New("token: outside refresh window")
)

// Claims are the verified contents of a session token. The clinic id claim is
// informational; the access guard re-resolves it from the identity store.
type Claims struct {
	Subject   string
	Role      identity.Role
	ClinicID  string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type sessionClaims struct {
	Role     string `json:"role"`
	ClinicID string `json:"cid"`
	jwt.RegisteredClaims
}

// Denylist tracks revoked token ids until their natural expiry.
type Denylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service mints and validates HMAC-SHA-256 session tokens.
type Service struct {
	key           []byte
	ttl           time.Duration
	refreshWindow time.Duration
	denylist      Denylist
	now           func() time.Time
}

// NewService creates a token service. key must be at least 32 bytes; the
// config layer enforces that before startup completes.
func NewService(key []byte, ttl, refreshWindow time.Duration, denylist Denylist) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if refreshWindow <= 0 {
		refreshWindow = 15 * time.Minute
	}
	if denylist == nil {
		denylist = NoopDenylist{}
	}
	return &Service{key: key, ttl: ttl, refreshWindow: refreshWindow, denylist: denylist, now: time.Now}
}

// WithClock overrides the time source; test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mint produces a signed token for the principal. The clinic claim is fixed
// at mint time.
func (s *Service) Mint(p *identity.Principal) (string, error) {
	now := s.now().UTC()
	claims := sessionClaims{
		Role:     string(p.EffectiveRole()),
		ClinicID: p.ClinicID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate verifies the signature, expiry and revocation state of a token.
func (s *Service) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	revoked, err := s.denylist.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Refresh re-mints a token inside its final refresh window. Claims carry over
// unchanged; the new token gets a fresh TTL and jti.
func (s *Service) Refresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.Validate(ctx, tokenString)
	if err != nil {
		return "", err
	}
	if s.now().UTC().Before(claims.ExpiresAt.Add(-s.refreshWindow)) {
		return "", ErrRefreshTooEarly
	}
	p := &identity.Principal{ID: claims.Subject, Role: claims.Role, ClinicID: claims.ClinicID}
	return s.Mint(p)
}

// Revoke denylists a token's jti until the token would have expired anyway.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		// Nothing to revoke for garbage tokens.
		return nil
	}
	remaining := time.Until(claims.ExpiresAt)
	if remaining <= 0 {
		return nil
	}
	return s.denylist.Revoke(ctx, claims.JTI, remaining)
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	var sc sessionClaims
	tok, err := jwt.ParseWithClaims(tokenString, &sc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}

	role, ok := identity.ParseRole(sc.Role)
	if !ok {
		return nil, ErrTokenMalformed
	}

	claims := &Claims{
		Subject:  sc.Subject,
		Role:     role,
		ClinicID: sc.ClinicID,
		JTI:      sc.ID,
	}
	if sc.IssuedAt != nil {
		claims.IssuedAt = sc.IssuedAt.Time
	}
	if sc.ExpiresAt != nil {
		claims.ExpiresAt = sc.ExpiresAt.Time
	}
	return claims, nil
}
