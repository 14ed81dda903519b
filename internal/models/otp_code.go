package models

import (
	"fmt"
	"time"
)

// Purpose identifies the flow an OTP code was issued for. The purpose
// determines the code's TTL and what a successful verification unlocks.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// DefaultMaxAttempts is the verification attempt budget per code.
const DefaultMaxAttempts = 5

// ParsePurpose validates a raw purpose string.
func ParsePurpose(raw string) (Purpose, error) {
	switch Purpose(raw) {
	case PurposeEmailVerification:
		return PurposeEmailVerification, nil
	case PurposePasswordReset:
		return PurposePasswordReset, nil
	default:
		return "", fmt.Errorf("unsupported purpose: %q", raw)
	}
}

// TTL returns the purpose-dependent validity window of a fresh code.
func (p Purpose) TTL() time.Duration {
	if p == PurposePasswordReset {
		return 60 * time.Minute
	}
	return 15 * time.Minute
}

func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// OTPCode is a single outstanding one-time password. At most one
// unverified, unexpired row exists per (email, purpose) pair; issuing a
// new code invalidates prior ones. The code itself is stored hashed.
type OTPCode struct {
	OTPID          string     `db:"otp_id" json:"otp_id"`
	EmailBucket    int        `db:"email_bucket" json:"-"`
	EmailHash      string     `db:"email_hash" json:"-"`
	EmailEncrypted []byte     `db:"email_encrypted" json:"-"`
	EmailKeyID     string     `db:"email_key_id" json:"-"`
	Purpose        Purpose    `db:"purpose" json:"purpose"`
	CodeHash       string     `db:"code_hash" json:"-"`
	CodeSalt       string     `db:"code_salt" json:"-"`
	PepperVersion  int        `db:"pepper_version" json:"-"`
	OwnerRef       string     `db:"owner_ref" json:"owner_ref,omitempty"`
	Attempts       int        `db:"attempts" json:"attempts"`
	MaxAttempts    int        `db:"max_attempts" json:"max_attempts"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expires_at"`
	Verified       bool       `db:"verified" json:"verified"`
	VerifiedAt     *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Live reports whether the code can still be presented for verification.
func (o *OTPCode) Live(now time.Time) bool {
	return !o.Verified && o.ExpiresAt.After(now)
}

// Exhausted reports whether the attempt budget is spent. An exhausted code
// is permanently rejected, even when the submitted code would match.
func (o *OTPCode) Exhausted() bool {
	return o.Attempts >= o.MaxAttempts
}

// Remaining returns how many verification attempts are left.
func (o *OTPCode) Remaining() int {
	if r := o.MaxAttempts - o.Attempts; r > 0 {
		return r
	}
	return 0
}
