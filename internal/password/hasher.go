package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrCorruptHash is returned when a stored hash cannot be parsed. Callers
// surface it to clients as a generic authentication failure and log it.
var ErrCorruptHash = errors.New("password: stored hash is corrupt")

// Params tune the argon2id KDF. Cost is deploy-time configurable; defaults
// target roughly 100ms on commodity server hardware.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the production cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and verifies argon2id password hashes in PHC string format.
type Hasher struct {
	params Params
}

// NewHasher creates a hasher with the given cost parameters.
func NewHasher(params Params) *Hasher {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		params = DefaultParams()
	}
	if params.SaltLength == 0 {
		params.SaltLength = 16
	}
	if params.KeyLength == 0 {
		params.KeyLength = 32
	}
	return &Hasher{params: params}
}

// Hash derives a salted argon2id hash of the plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt generation failed: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether plaintext matches the stored hash. A wrong password
// returns (false, nil); only an unparseable hash returns ErrCorruptHash. The
// corrupt-hash path still burns a full derivation so its timing matches the
// wrong-password path.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		h.burn(plaintext)
		return false, ErrCorruptHash
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

// DummyVerify performs a derivation against a throwaway salt. Login flows call
// it when no principal exists so that unknown-email and wrong-password
// responses take the same time.
func (h *Hasher) DummyVerify(plaintext string) {
	h.burn(plaintext)
}

func (h *Hasher) burn(plaintext string) {
	salt := make([]byte, h.params.SaltLength)
	argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrCorruptHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrCorruptHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrCorruptHash
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, ErrCorruptHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrCorruptHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrCorruptHash
	}
	return p, salt, key, nil
}
