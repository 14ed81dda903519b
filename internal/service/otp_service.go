package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-service/internal/bucketing"
	"security-service/internal/encryption"
	"security-service/internal/hashing"
	"security-service/internal/mailer"
	"security-service/internal/models"
	"security-service/internal/otp"
	"security-service/internal/repository/scylla"
	"security-service/internal/util"
)

// VerifyResult is what a successful verification unlocks for the caller.
type VerifyResult struct {
	OTPID    string         `json:"otp_id"`
	Purpose  models.Purpose `json:"purpose"`
	OwnerRef string         `json:"owner_ref,omitempty"`
}

// OTPService issues and verifies one-time codes. The raw code exists only
// between generation and the mail handoff; everything at rest is hashed.
type OTPService struct {
	otps        OTPStore
	accounts    AccountStore
	settings    SettingsStore
	sink        AuditSink
	mail        mailer.Mailer
	hasher      *hashing.Hasher
	buckets     *bucketing.BucketingManager
	crypt       *encryption.EncryptionManager
	generate    otp.GenerateFunc
	maxAttempts int
}

func NewOTPService(
	otps OTPStore,
	accounts AccountStore,
	settings SettingsStore,
	sink AuditSink,
	mail mailer.Mailer,
	hasher *hashing.Hasher,
	buckets *bucketing.BucketingManager,
	crypt *encryption.EncryptionManager,
	generate otp.GenerateFunc,
	maxAttempts int,
) *OTPService {
	if generate == nil {
		generate = otp.Generate
	}
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	return &OTPService{
		otps:        otps,
		accounts:    accounts,
		settings:    settings,
		sink:        sink,
		mail:        mail,
		hasher:      hasher,
		buckets:     buckets,
		crypt:       crypt,
		generate:    generate,
		maxAttempts: maxAttempts,
	}
}

// Issue creates and delivers a fresh code for the (email, purpose) pair,
// invalidating any previous live code first. A password reset for an email
// with no account reports success and does nothing, so the endpoint cannot
// be used to probe which addresses exist.
func (s *OTPService) Issue(ctx context.Context, email string, purpose models.Purpose, ownerRef string) (string, error) {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if !purpose.Valid() {
		return "", fmt.Errorf("%w: unsupported purpose", ErrInvalidInput)
	}

	emailHash := hashing.HashEmail(email)
	emailBucket := s.buckets.GetEmailBucket(emailHash)

	if purpose == models.PurposePasswordReset {
		account, err := s.accounts.FindByEmail(ctx, emailBucket, emailHash)
		if err != nil {
			if errors.Is(err, scylla.ErrAccountNotFound) {
				util.Info("Password reset requested for unknown email, suppressed")
				return "", nil
			}
			return "", fmt.Errorf("%w: account lookup: %v", ErrPersistence, err)
		}
		ownerRef = account.AccountID
	}

	if err := s.otps.InvalidateActive(ctx, emailBucket, emailHash, purpose); err != nil {
		return "", fmt.Errorf("%w: invalidate prior codes: %v", ErrPersistence, err)
	}

	code, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	hashed, err := s.hasher.HashOTP(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	sealed, err := s.crypt.EncryptEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt email: %w", err)
	}
	sealedBytes, err := json.Marshal(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to encode sealed email: %w", err)
	}

	now := time.Now().UTC()
	row := &models.OTPCode{
		EmailBucket:    emailBucket,
		EmailHash:      emailHash,
		EmailEncrypted: sealedBytes,
		EmailKeyID:     sealed.KeyID,
		Purpose:        purpose,
		CodeHash:       hashed.Hash,
		CodeSalt:       hashed.Salt,
		PepperVersion:  hashed.PepperVersion,
		OwnerRef:       ownerRef,
		MaxAttempts:    s.maxAttempts,
		ExpiresAt:      now.Add(purpose.TTL()),
		CreatedAt:      now,
	}

	if err := s.otps.Create(ctx, row); err != nil {
		return "", fmt.Errorf("%w: store code: %v", ErrPersistence, err)
	}

	if err := s.mail.SendOTP(ctx, email, purpose, code); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	s.audit(ctx, &models.AuditLogEntry{
		ActorRef:     ownerRef,
		Action:       models.AuditActionOTPIssued,
		ResourceType: "otp_code",
		ResourceID:   row.OTPID,
		Description:  "one-time code issued",
		Metadata: map[string]string{
			"purpose":    string(purpose),
			"expires_at": row.ExpiresAt.Format(time.RFC3339),
		},
	})

	util.Info("OTP issued",
		zap.String("otp_id", row.OTPID),
		zap.String("purpose", string(purpose)))
	return row.OTPID, nil
}

// Verify checks a submitted code against the live row for the pair.
//
// A spent attempt budget rejects before the code is even compared, so an
// exhausted code fails regardless of correctness. A wrong guess increments
// the counter atomically; a right guess flips verified exactly once.
func (s *OTPService) Verify(ctx context.Context, email, code string, purpose models.Purpose) (*VerifyResult, error) {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: unsupported purpose", ErrInvalidInput)
	}
	if !validCodeShape(code) {
		return nil, fmt.Errorf("%w: code must be %d digits", ErrInvalidInput, otp.CodeLength)
	}

	emailHash := hashing.HashEmail(email)
	emailBucket := s.buckets.GetEmailBucket(emailHash)
	now := time.Now().UTC()

	row, err := s.otps.GetActive(ctx, emailBucket, emailHash, purpose, now)
	if err != nil {
		if errors.Is(err, scylla.ErrOTPNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("%w: load code: %v", ErrPersistence, err)
	}

	if row.Exhausted() {
		return nil, ErrAttemptsExceeded
	}

	match, err := s.hasher.VerifyOTP(code, &hashing.HashResult{
		Hash:          row.CodeHash,
		Salt:          row.CodeSalt,
		PepperVersion: row.PepperVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: verify code: %v", ErrPersistence, err)
	}

	if !match {
		attempts, err := s.otps.IncrementAttempts(ctx, row)
		if err != nil {
			if errors.Is(err, scylla.ErrOTPConsumed) {
				return nil, ErrAttemptsExceeded
			}
			return nil, fmt.Errorf("%w: record attempt: %v", ErrPersistence, err)
		}
		remaining := row.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		util.Info("OTP verification failed",
			zap.String("otp_id", row.OTPID),
			zap.Int("attempts", attempts),
			zap.Int("remaining", remaining))
		return nil, &IncorrectCodeError{Remaining: remaining}
	}

	if err := s.otps.MarkVerified(ctx, row, now); err != nil {
		if errors.Is(err, scylla.ErrOTPConsumed) {
			// Lost the race to a concurrent verification; the code is
			// single use, so this caller sees no live code.
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("%w: mark verified: %v", ErrPersistence, err)
	}

	s.audit(ctx, &models.AuditLogEntry{
		ActorRef:     row.OwnerRef,
		Action:       models.AuditActionOTPVerified,
		ResourceType: "otp_code",
		ResourceID:   row.OTPID,
		Description:  "one-time code verified",
		Metadata:     map[string]string{"purpose": string(purpose)},
	})

	util.Info("OTP verified",
		zap.String("otp_id", row.OTPID),
		zap.String("purpose", string(purpose)))

	return &VerifyResult{
		OTPID:    row.OTPID,
		Purpose:  row.Purpose,
		OwnerRef: row.OwnerRef,
	}, nil
}

// SweepExpired removes rows whose expiry has passed. Invoked by the
// maintenance endpoint; live traffic never depends on it because the
// verifier filters dead rows itself.
func (s *OTPService) SweepExpired(ctx context.Context) (int, error) {
	deleted, err := s.otps.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return deleted, fmt.Errorf("%w: sweep expired codes: %v", ErrPersistence, err)
	}
	return deleted, nil
}

func (s *OTPService) audit(ctx context.Context, entry *models.AuditLogEntry) {
	if s.sink == nil {
		return
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		util.Warn("Failed to load settings for audit decision, auditing anyway",
			zap.Error(err))
	} else if !settings.AuditLogEnabled {
		return
	}
	s.sink.Enqueue(entry)
}

func validCodeShape(code string) bool {
	if len(code) != otp.CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
