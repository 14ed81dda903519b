package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"security-service/internal/bucketing"
	"security-service/internal/config"
	"security-service/internal/encryption"
	"security-service/internal/hashing"
	"security-service/internal/models"
)

func testCryptoConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "service-test-pepper",
			PepperVersion:     1,
		},
		Bucketing: config.BucketingConfig{EmailBuckets: 128, EventBuckets: 64},
	}
}

type otpFixture struct {
	svc      *OTPService
	otps     *fakeOTPStore
	accounts *fakeAccountStore
	settings *fakeSettingsStore
	sink     *recordingSink
	mail     *fakeMailer
	buckets  *bucketing.BucketingManager
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()
	cfg := testCryptoConfig()
	f := &otpFixture{
		otps:     newFakeOTPStore(),
		accounts: newFakeAccountStore(),
		settings: newFakeSettingsStore(),
		sink:     &recordingSink{},
		mail:     &fakeMailer{},
		buckets:  bucketing.NewBucketingManager(cfg),
	}
	f.svc = NewOTPService(
		f.otps, f.accounts, f.settings, f.sink, f.mail,
		hashing.NewHasher(cfg),
		f.buckets,
		encryption.NewEncryptionManager(cfg, nil),
		nil, // crypto/rand generator
		models.DefaultMaxAttempts,
	)
	return f
}

func (f *otpFixture) keyFor(email string, purpose models.Purpose) (int, string) {
	hash := hashing.HashEmail(email)
	return f.buckets.GetEmailBucket(hash), hash
}

func TestIssueAndVerifyEmailVerification(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	otpID, err := f.svc.Issue(ctx, "User@Example.com", models.PurposeEmailVerification, "acct-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if otpID == "" {
		t.Fatal("Issue() returned empty otp id")
	}
	if f.mail.sentCount() != 1 {
		t.Fatalf("mailer sent %d messages, want 1", f.mail.sentCount())
	}

	// Email was normalized before delivery.
	if f.mail.sent[0].email != "user@example.com" {
		t.Errorf("mail sent to %q", f.mail.sent[0].email)
	}

	result, err := f.svc.Verify(ctx, "user@example.com", f.mail.lastCode(), models.PurposeEmailVerification)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if result.OTPID != otpID || result.OwnerRef != "acct-1" {
		t.Errorf("Verify() = %+v", result)
	}

	// Single use: the same correct code is rejected the second time.
	if _, err := f.svc.Verify(ctx, "user@example.com", f.mail.lastCode(), models.PurposeEmailVerification); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("second Verify() error = %v, want ErrCodeNotFound", err)
	}
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	firstCode := f.mail.lastCode()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	secondCode := f.mail.lastCode()

	// The first code no longer verifies; at best it counts as a wrong
	// guess against the new code.
	_, err := f.svc.Verify(ctx, "user@x.com", firstCode, models.PurposeEmailVerification)
	var incorrect *IncorrectCodeError
	if firstCode != secondCode && !errors.As(err, &incorrect) {
		t.Errorf("old code Verify() error = %v, want IncorrectCodeError", err)
	}

	if _, err := f.svc.Verify(ctx, "user@x.com", secondCode, models.PurposeEmailVerification); err != nil {
		t.Errorf("new code Verify() error: %v", err)
	}
}

func TestWrongGuessesExhaustBudget(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	right := f.mail.lastCode()
	wrong := "000000"
	if wrong == right {
		wrong = "000001"
	}

	for i := 1; i <= models.DefaultMaxAttempts; i++ {
		_, err := f.svc.Verify(ctx, "user@x.com", wrong, models.PurposeEmailVerification)
		var incorrect *IncorrectCodeError
		if !errors.As(err, &incorrect) {
			t.Fatalf("guess %d: error = %v, want IncorrectCodeError", i, err)
		}
		if want := models.DefaultMaxAttempts - i; incorrect.Remaining != want {
			t.Errorf("guess %d: remaining = %d, want %d", i, incorrect.Remaining, want)
		}
	}

	// Budget spent: even the correct code is now rejected.
	if _, err := f.svc.Verify(ctx, "user@x.com", right, models.PurposeEmailVerification); !errors.Is(err, ErrAttemptsExceeded) {
		t.Errorf("post-exhaustion Verify() error = %v, want ErrAttemptsExceeded", err)
	}
}

func TestConcurrentWrongGuessesNeverExceedBudget(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	wrong := "000000"
	if wrong == f.mail.lastCode() {
		wrong = "000001"
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Verify(ctx, "user@x.com", wrong, models.PurposeEmailVerification)
		}()
	}
	wg.Wait()

	bucket, hash := f.keyFor("user@x.com", models.PurposeEmailVerification)
	if got := f.otps.storedAttempts(bucket, hash, models.PurposeEmailVerification); got != models.DefaultMaxAttempts {
		t.Errorf("attempts after 10 concurrent wrong guesses = %d, want exactly %d", got, models.DefaultMaxAttempts)
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	code := f.mail.lastCode()

	bucket, hash := f.keyFor("user@x.com", models.PurposeEmailVerification)
	f.otps.expire(bucket, hash, models.PurposeEmailVerification)

	if _, err := f.svc.Verify(ctx, "user@x.com", code, models.PurposeEmailVerification); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("expired Verify() error = %v, want ErrCodeNotFound", err)
	}
}

func TestPasswordResetUnknownAccountSuppressed(t *testing.T) {
	f := newOTPFixture(t)

	otpID, err := f.svc.Issue(context.Background(), "ghost@x.com", models.PurposePasswordReset, "")
	if err != nil {
		t.Fatalf("Issue() error: %v, want silent success", err)
	}
	if otpID != "" {
		t.Errorf("Issue() otp id = %q, want empty", otpID)
	}
	if f.mail.sentCount() != 0 {
		t.Errorf("mailer sent %d messages for unknown account, want 0", f.mail.sentCount())
	}
	if len(f.sink.actions()) != 0 {
		t.Errorf("audit entries emitted for suppressed issuance: %v", f.sink.actions())
	}
}

func TestPasswordResetCarriesOwnerRef(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	hash := hashing.HashEmail("owner@x.com")
	f.accounts.add(&models.Account{
		AccountID: "acct-42",
		EmailHash: hash,
	})

	if _, err := f.svc.Issue(ctx, "owner@x.com", models.PurposePasswordReset, ""); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Verify(ctx, "owner@x.com", f.mail.lastCode(), models.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if result.OwnerRef != "acct-42" {
		t.Errorf("OwnerRef = %q, want acct-42", result.OwnerRef)
	}
}

func TestIssueDeliveryFailure(t *testing.T) {
	f := newOTPFixture(t)
	f.mail.fail = true

	_, err := f.svc.Issue(context.Background(), "user@x.com", models.PurposeEmailVerification, "")
	if !errors.Is(err, ErrDelivery) {
		t.Errorf("Issue() error = %v, want ErrDelivery", err)
	}
}

func TestIssuePersistenceFailure(t *testing.T) {
	f := newOTPFixture(t)
	f.otps.fail = true

	_, err := f.svc.Issue(context.Background(), "user@x.com", models.PurposeEmailVerification, "")
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("Issue() error = %v, want ErrPersistence", err)
	}
}

func TestAuditRespectsDisabledSetting(t *testing.T) {
	f := newOTPFixture(t)
	f.settings.settings.AuditLogEnabled = false
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Verify(ctx, "user@x.com", f.mail.lastCode(), models.PurposeEmailVerification); err != nil {
		t.Fatal(err)
	}

	if got := f.sink.actions(); len(got) != 0 {
		t.Errorf("audit entries emitted while disabled: %v", got)
	}
}

func TestAuditEmittedWhenEnabled(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Verify(ctx, "user@x.com", f.mail.lastCode(), models.PurposeEmailVerification); err != nil {
		t.Fatal(err)
	}

	actions := f.sink.actions()
	if len(actions) != 2 || actions[0] != models.AuditActionOTPIssued || actions[1] != models.AuditActionOTPVerified {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestIssueInvalidInput(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		email   string
		purpose models.Purpose
	}{
		{"empty email", "", models.PurposeEmailVerification},
		{"no at sign", "not-an-email", models.PurposeEmailVerification},
		{"bad purpose", "user@x.com", models.Purpose("mfa")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Issue(ctx, tc.email, tc.purpose, ""); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Issue() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestVerifyInvalidCodeShape(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		if _, err := f.svc.Verify(ctx, "user@x.com", code, models.PurposeEmailVerification); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidInput", code, err)
		}
	}
}

func TestPurposesAreIsolated(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	f.accounts.add(&models.Account{AccountID: "acct-9", EmailHash: hashing.HashEmail("user@x.com")})

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	verifyCode := f.mail.lastCode()

	if _, err := f.svc.Issue(ctx, "user@x.com", models.PurposePasswordReset, ""); err != nil {
		t.Fatal(err)
	}

	// Issuing a reset code must not invalidate the verification code.
	if _, err := f.svc.Verify(ctx, "user@x.com", verifyCode, models.PurposeEmailVerification); err != nil {
		t.Errorf("verification code dead after reset issuance: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "a@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Issue(ctx, "b@x.com", models.PurposeEmailVerification, ""); err != nil {
		t.Fatal(err)
	}

	bucket, hash := f.keyFor("a@x.com", models.PurposeEmailVerification)
	f.otps.expire(bucket, hash, models.PurposeEmailVerification)

	deleted, err := f.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("SweepExpired() deleted %d rows, want 1", deleted)
	}

	// The unexpired code still verifies.
	if _, err := f.svc.Verify(ctx, "b@x.com", f.mail.lastCode(), models.PurposeEmailVerification); err != nil {
		t.Errorf("surviving code Verify() error: %v", err)
	}
}
