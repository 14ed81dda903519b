package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/util"
)

var (
	// ErrOTPNotFound means no live code exists for the (email, purpose) pair.
	ErrOTPNotFound = errors.New("otp code not found")
	// ErrOTPConsumed means the code was already verified or its attempt
	// budget was spent by a concurrent caller.
	ErrOTPConsumed = errors.New("otp code already consumed")
)

// casMaxRounds bounds the conditional-update retry loop under contention.
const casMaxRounds = 5

type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient, logger *zap.Logger) *OTPRepository {
	return &OTPRepository{
		client: client,
	}
}

// Create inserts a fresh code row. The caller is expected to have
// invalidated prior codes for the same pair first.
func (r *OTPRepository) Create(ctx context.Context, otp *models.OTPCode) error {
	if otp.OTPID == "" {
		otp.OTPID = uuid.New().String()
	}

	now := time.Now().UTC()
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = now
	}
	if otp.ExpiresAt.IsZero() {
		otp.ExpiresAt = now.Add(otp.Purpose.TTL())
	}
	if otp.MaxAttempts <= 0 {
		otp.MaxAttempts = models.DefaultMaxAttempts
	}

	query := r.client.Query(stmts.CreateOTP,
		otp.EmailBucket, otp.EmailHash, string(otp.Purpose), otp.OTPID,
		otp.EmailEncrypted, otp.EmailKeyID, otp.CodeHash, otp.CodeSalt,
		otp.PepperVersion, otp.OwnerRef, otp.Attempts, otp.MaxAttempts,
		otp.ExpiresAt, otp.Verified, otp.VerifiedAt, otp.CreatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP code",
			zap.String("otp_id", otp.OTPID),
			zap.String("purpose", string(otp.Purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to create otp code: %w", err)
	}

	util.Info("OTP code created",
		zap.String("otp_id", otp.OTPID),
		zap.String("purpose", string(otp.Purpose)),
		zap.Time("expires_at", otp.ExpiresAt))

	return nil
}

// GetActive returns the newest live code for the pair, or ErrOTPNotFound.
func (r *OTPRepository) GetActive(ctx context.Context, emailBucket int, emailHash string, purpose models.Purpose, now time.Time) (*models.OTPCode, error) {
	iter := r.client.Query(stmts.GetActiveOTPs, emailBucket, emailHash, string(purpose)).
		WithContext(ctx).Iter()

	var newest *models.OTPCode
	for {
		otp := &models.OTPCode{}
		var rawPurpose string
		ok := iter.Scan(
			&otp.EmailBucket, &otp.EmailHash, &rawPurpose, &otp.OTPID,
			&otp.EmailEncrypted, &otp.EmailKeyID, &otp.CodeHash, &otp.CodeSalt,
			&otp.PepperVersion, &otp.OwnerRef, &otp.Attempts, &otp.MaxAttempts,
			&otp.ExpiresAt, &otp.Verified, &otp.VerifiedAt, &otp.CreatedAt,
		)
		if !ok {
			break
		}
		otp.Purpose = models.Purpose(rawPurpose)
		if !otp.Live(now) {
			continue
		}
		if newest == nil || otp.CreatedAt.After(newest.CreatedAt) {
			newest = otp
		}
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to read OTP codes",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read otp codes: %w", err)
	}

	if newest == nil {
		return nil, ErrOTPNotFound
	}
	return newest, nil
}

// InvalidateActive removes every code for the pair. Called before a new
// code is issued so at most one live code exists per (email, purpose).
func (r *OTPRepository) InvalidateActive(ctx context.Context, emailBucket int, emailHash string, purpose models.Purpose) error {
	query := r.client.Query(stmts.InvalidateOTPs, emailBucket, emailHash, string(purpose)).
		WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to invalidate OTP codes",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate otp codes: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter through a conditional update
// and returns the new count. The counter never moves past max_attempts,
// regardless of how many callers race on the same code.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, otp *models.OTPCode) (int, error) {
	attempts := otp.Attempts

	for round := 0; round < casMaxRounds; round++ {
		if attempts >= otp.MaxAttempts {
			otp.Attempts = attempts
			return attempts, ErrOTPConsumed
		}

		query := r.client.Query(stmts.IncrementOTPAttempt,
			attempts+1,
			otp.EmailBucket, otp.EmailHash, string(otp.Purpose), otp.OTPID,
			attempts,
		).WithContext(ctx)

		previous := make(map[string]interface{})
		applied, err := query.MapScanCAS(previous)
		if err != nil {
			if err == gocql.ErrNotFound {
				return attempts, ErrOTPNotFound
			}
			util.Error("Failed to increment OTP attempts",
				zap.String("otp_id", otp.OTPID),
				zap.Error(err))
			return attempts, fmt.Errorf("failed to increment otp attempts: %w", err)
		}

		if applied {
			otp.Attempts = attempts + 1
			return otp.Attempts, nil
		}

		if verified, ok := previous["verified"].(bool); ok && verified {
			return attempts, ErrOTPConsumed
		}
		if prev, ok := previous["attempts"].(int); ok {
			attempts = prev
			continue
		}
		return attempts, ErrOTPNotFound
	}

	otp.Attempts = attempts
	return attempts, fmt.Errorf("otp attempt update contention exceeded %d rounds", casMaxRounds)
}

// MarkVerified flips the code to verified exactly once. A second caller
// gets ErrOTPConsumed, which is what makes a code single use.
func (r *OTPRepository) MarkVerified(ctx context.Context, otp *models.OTPCode, now time.Time) error {
	query := r.client.Query(stmts.MarkOTPVerified,
		now, otp.EmailBucket, otp.EmailHash, string(otp.Purpose), otp.OTPID,
	).WithContext(ctx)

	previous := make(map[string]interface{})
	applied, err := query.MapScanCAS(previous)
	if err != nil {
		if err == gocql.ErrNotFound {
			return ErrOTPNotFound
		}
		util.Error("Failed to mark OTP verified",
			zap.String("otp_id", otp.OTPID),
			zap.Error(err))
		return fmt.Errorf("failed to mark otp verified: %w", err)
	}
	if !applied {
		return ErrOTPConsumed
	}

	otp.Verified = true
	otp.VerifiedAt = &now

	util.Info("OTP code verified",
		zap.String("otp_id", otp.OTPID),
		zap.String("purpose", string(otp.Purpose)))
	return nil
}

// DeleteExpired sweeps rows whose expiry has passed. Runs from the
// maintenance endpoint, not the hot path.
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	iter := r.client.Session.Query(`
        SELECT email_bucket, email_hash, purpose, otp_id FROM otp_codes
        WHERE expires_at < ? ALLOW FILTERING`, now).WithContext(ctx).Iter()

	var (
		emailBucket       int
		emailHash         string
		rawPurpose, otpID string
	)
	deletedCount := 0

	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batchSize := 0

	for iter.Scan(&emailBucket, &emailHash, &rawPurpose, &otpID) {
		batch.Query(`DELETE FROM otp_codes WHERE email_bucket = ? AND email_hash = ? AND purpose = ? AND otp_id = ?`,
			emailBucket, emailHash, rawPurpose, otpID)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				util.Error("Failed to execute batch delete for expired OTP codes", zap.Error(err))
				iter.Close()
				return deletedCount, fmt.Errorf("failed to delete expired otp codes: %w", err)
			}
			deletedCount += batchSize
			batch = r.client.Session.NewBatch(gocql.UnloggedBatch)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			util.Error("Failed to execute final batch delete for expired OTP codes", zap.Error(err))
			iter.Close()
			return deletedCount, fmt.Errorf("failed to delete expired otp codes: %w", err)
		}
		deletedCount += batchSize
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to close iterator for expired OTP cleanup", zap.Error(err))
		return deletedCount, fmt.Errorf("failed to cleanup expired otp codes: %w", err)
	}

	util.Info("Expired OTP codes deleted", zap.Int("deleted_count", deletedCount))
	return deletedCount, nil
}
