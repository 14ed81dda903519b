// Package otp generates the short numeric codes delivered to users for
// email verification and password reset.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeLength is the fixed width of every generated code.
const CodeLength = 6

var codeSpace = big.NewInt(1000000)

// GenerateFunc matches Generate so services can inject a deterministic
// source in tests.
type GenerateFunc func() (string, error)

// Generate returns a zero-padded string of exactly six ASCII digits,
// uniformly distributed over 000000-999999. crypto/rand.Int is already
// rejection-sampled, so no modulo bias correction is needed here.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
