package service

import (
	"context"
	"time"

	"security-service/internal/models"
)

// Storage contracts consumed by the services. The concrete types live in
// internal/repository; tests substitute in-memory fakes.

// OTPStore is the durable code table. Implementations signal a missing
// live row with scylla.ErrOTPNotFound and a spent or already-verified row
// with scylla.ErrOTPConsumed.
type OTPStore interface {
	Create(ctx context.Context, otp *models.OTPCode) error
	GetActive(ctx context.Context, emailBucket int, emailHash string, purpose models.Purpose, now time.Time) (*models.OTPCode, error)
	InvalidateActive(ctx context.Context, emailBucket int, emailHash string, purpose models.Purpose) error
	IncrementAttempts(ctx context.Context, otp *models.OTPCode) (int, error)
	MarkVerified(ctx context.Context, otp *models.OTPCode, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AccountStore resolves email hashes to accounts. Missing rows are
// signalled with scylla.ErrAccountNotFound.
type AccountStore interface {
	FindByEmail(ctx context.Context, emailBucket int, emailHash string) (*models.Account, error)
}

// BlockStore is the lockout record store. Missing records are signalled
// with redis.ErrBlockNotFound.
type BlockStore interface {
	Upsert(ctx context.Context, block *models.BlockedAddress) error
	GetByAddress(ctx context.Context, sourceAddress string) (*models.BlockedAddress, error)
	GetByID(ctx context.Context, blockID string) (*models.BlockedAddress, error)
	Delete(ctx context.Context, block *models.BlockedAddress) error
}

// AttemptStore is the append-only login attempt log.
type AttemptStore interface {
	Insert(ctx context.Context, attempt *models.LoginAttempt) error
	CountRecentFailures(ctx context.Context, eventBucket int, sourceAddress string, since time.Time) (int, error)
	RecentByAddress(ctx context.Context, eventBucket int, sourceAddress string, limit int) ([]*models.LoginAttempt, error)
}

// SettingsStore holds the operator-tunable settings document.
type SettingsStore interface {
	Get(ctx context.Context) (models.SecuritySettings, error)
	Save(ctx context.Context, settings models.SecuritySettings) error
}

// AuditSink accepts audit entries without ever blocking or failing.
type AuditSink interface {
	Enqueue(entry *models.AuditLogEntry)
}
