package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit decimal code with leading
// zeros preserved, drawn from a cryptographic RNG over the full 10^6 range.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("otp: code generation failed: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
