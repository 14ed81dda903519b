package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/bucketing"
	"security-service/internal/models"
	"security-service/internal/repository/redis"
	"security-service/internal/util"
)

// LockoutService records login attempts, trips the automatic IP lockout,
// and answers the block gate.
type LockoutService struct {
	blocks   BlockStore
	attempts AttemptStore
	settings SettingsStore
	sink     AuditSink
	buckets  *bucketing.BucketingManager
}

func NewLockoutService(
	blocks BlockStore,
	attempts AttemptStore,
	settings SettingsStore,
	sink AuditSink,
	buckets *bucketing.BucketingManager,
) *LockoutService {
	return &LockoutService{
		blocks:   blocks,
		attempts: attempts,
		settings: settings,
		sink:     sink,
		buckets:  buckets,
	}
}

// RecordLoginAttempt appends one attempt row and, on failure, runs the
// lockout evaluation synchronously. It never returns an error: a broken
// attempt log must not break the login flow it observes.
func (s *LockoutService) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) {
	attempt.SourceAddress = util.NormalizeAddress(attempt.SourceAddress)
	attempt.Email = util.NormalizeEmail(attempt.Email)
	attempt.EventBucket = s.buckets.GetEventBucket(attempt.SourceAddress)
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	if err := s.attempts.Insert(ctx, attempt); err != nil {
		util.Error("Failed to record login attempt",
			zap.String("source_address", attempt.SourceAddress),
			zap.Error(err))
		return
	}

	if !attempt.Success {
		s.evaluate(ctx, attempt)
	}
}

// evaluate counts failures from the address inside the trailing window and
// blocks it once the threshold is reached. Re-evaluation of an already
// blocked address extends the block, which keeps the operation idempotent.
func (s *LockoutService) evaluate(ctx context.Context, attempt *models.LoginAttempt) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		util.Error("Failed to load security settings, using defaults", zap.Error(err))
		settings = models.DefaultSecuritySettings()
	}

	now := time.Now().UTC()
	since := now.Add(-settings.LockoutWindow())

	failures, err := s.attempts.CountRecentFailures(ctx, attempt.EventBucket, attempt.SourceAddress, since)
	if err != nil {
		util.Error("Failed to count recent failures, skipping lockout evaluation",
			zap.String("source_address", attempt.SourceAddress),
			zap.Error(err))
		return
	}

	if failures < settings.MaxLoginAttempts {
		return
	}

	blockID := uuid.New().String()
	if existing, err := s.blocks.GetByAddress(ctx, attempt.SourceAddress); err == nil {
		if existing.IsPermanent {
			return
		}
		blockID = existing.BlockID
	}

	until := now.Add(settings.LockoutDuration())
	block := &models.BlockedAddress{
		BlockID:       blockID,
		SourceAddress: attempt.SourceAddress,
		Reason:        "too many failed login attempts",
		FailureCount:  failures,
		BlockedUntil:  &until,
		BlockedBy:     "system",
		BlockedAt:     now,
	}

	if err := s.blocks.Upsert(ctx, block); err != nil {
		util.Error("Failed to store automatic block",
			zap.String("source_address", attempt.SourceAddress),
			zap.Error(err))
		return
	}

	s.audit(ctx, &models.AuditLogEntry{
		ActorRef:     "system",
		Action:       models.AuditActionBlockIP,
		ResourceType: "blocked_address",
		ResourceID:   block.BlockID,
		Description:  "address blocked after repeated login failures",
		Metadata: map[string]string{
			"source_address": block.SourceAddress,
			"failure_count":  fmt.Sprintf("%d", failures),
			"blocked_until":  until.Format(time.RFC3339),
		},
	})

	util.Warn("Source address blocked",
		zap.String("source_address", block.SourceAddress),
		zap.Int("failure_count", failures),
		zap.Time("blocked_until", until))
}

// RecentAttempts lists the newest attempts recorded for an address.
func (s *LockoutService) RecentAttempts(ctx context.Context, sourceAddress string, limit int) ([]*models.LoginAttempt, error) {
	sourceAddress = util.NormalizeAddress(sourceAddress)
	if sourceAddress == "" {
		return nil, fmt.Errorf("%w: empty source address", ErrInvalidInput)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	attempts, err := s.attempts.RecentByAddress(ctx, s.buckets.GetEventBucket(sourceAddress), sourceAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list attempts: %v", ErrPersistence, err)
	}
	return attempts, nil
}

// IsBlocked answers the block gate. Store errors fail closed: an address
// we cannot check is treated as blocked.
func (s *LockoutService) IsBlocked(ctx context.Context, sourceAddress string) bool {
	block, err := s.blocks.GetByAddress(ctx, util.NormalizeAddress(sourceAddress))
	if err != nil {
		if errors.Is(err, redis.ErrBlockNotFound) {
			return false
		}
		util.Error("Block gate check failed, failing closed",
			zap.String("source_address", sourceAddress),
			zap.Error(err))
		return true
	}
	return block.Active(time.Now().UTC())
}

// GetBlock returns the block record for an address, if one is in force.
func (s *LockoutService) GetBlock(ctx context.Context, sourceAddress string) (*models.BlockedAddress, error) {
	sourceAddress = util.NormalizeAddress(sourceAddress)
	if sourceAddress == "" {
		return nil, fmt.Errorf("%w: empty source address", ErrInvalidInput)
	}

	block, err := s.blocks.GetByAddress(ctx, sourceAddress)
	if err != nil {
		if errors.Is(err, redis.ErrBlockNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("%w: load block: %v", ErrPersistence, err)
	}
	if !block.Active(time.Now().UTC()) {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

// Block is the manual operator block. It bypasses thresholds entirely.
func (s *LockoutService) Block(ctx context.Context, sourceAddress, reason, blockedBy string, permanent bool, duration time.Duration) (*models.BlockedAddress, error) {
	sourceAddress = util.NormalizeAddress(sourceAddress)
	if sourceAddress == "" {
		return nil, fmt.Errorf("%w: empty source address", ErrInvalidInput)
	}
	if !permanent && duration <= 0 {
		return nil, fmt.Errorf("%w: temporary block needs a positive duration", ErrInvalidInput)
	}

	now := time.Now().UTC()
	block := &models.BlockedAddress{
		BlockID:       uuid.New().String(),
		SourceAddress: sourceAddress,
		Reason:        reason,
		IsPermanent:   permanent,
		BlockedBy:     blockedBy,
		BlockedAt:     now,
	}
	if !permanent {
		until := now.Add(duration)
		block.BlockedUntil = &until
	}

	if existing, err := s.blocks.GetByAddress(ctx, sourceAddress); err == nil {
		block.BlockID = existing.BlockID
		block.FailureCount = existing.FailureCount
	}

	if err := s.blocks.Upsert(ctx, block); err != nil {
		return nil, fmt.Errorf("%w: store block: %v", ErrPersistence, err)
	}

	s.audit(ctx, &models.AuditLogEntry{
		ActorRef:     blockedBy,
		Action:       models.AuditActionBlockIP,
		ResourceType: "blocked_address",
		ResourceID:   block.BlockID,
		Description:  "address blocked manually",
		Metadata: map[string]string{
			"source_address": sourceAddress,
			"reason":         reason,
			"permanent":      fmt.Sprintf("%t", permanent),
		},
	})

	util.Info("Address blocked manually",
		zap.String("source_address", sourceAddress),
		zap.String("blocked_by", blockedBy),
		zap.Bool("permanent", permanent))
	return block, nil
}

// Unblock lifts a block by id.
func (s *LockoutService) Unblock(ctx context.Context, blockID, actor string) error {
	if blockID == "" {
		return fmt.Errorf("%w: empty block id", ErrInvalidInput)
	}

	block, err := s.blocks.GetByID(ctx, blockID)
	if err != nil {
		if errors.Is(err, redis.ErrBlockNotFound) {
			return ErrBlockNotFound
		}
		return fmt.Errorf("%w: load block: %v", ErrPersistence, err)
	}

	if err := s.blocks.Delete(ctx, block); err != nil {
		return fmt.Errorf("%w: delete block: %v", ErrPersistence, err)
	}

	s.audit(ctx, &models.AuditLogEntry{
		ActorRef:     actor,
		Action:       models.AuditActionUnblockIP,
		ResourceType: "blocked_address",
		ResourceID:   block.BlockID,
		Description:  "address unblocked",
		Metadata:     map[string]string{"source_address": block.SourceAddress},
	})

	util.Info("Address unblocked",
		zap.String("source_address", block.SourceAddress),
		zap.String("actor", actor))
	return nil
}

func (s *LockoutService) audit(ctx context.Context, entry *models.AuditLogEntry) {
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
