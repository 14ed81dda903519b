// Package clickhouse holds the append-only analytical stores: login
// attempts feeding the lockout evaluator, and the audit log.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/models"
	"security-service/internal/util"
)

type AttemptStore struct {
	client *client.ClickHouseClient
}

func NewAttemptStore(ch *client.ClickHouseClient) *AttemptStore {
	return &AttemptStore{client: ch}
}

// Insert appends one attempt row. Rows are never updated or deleted from
// the hot path.
func (s *AttemptStore) Insert(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	err := s.client.Exec(ctx, `
        INSERT INTO login_attempts (
            event_bucket, email, source_address, user_agent, success, failure_reason, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.EventBucket, attempt.Email, attempt.SourceAddress,
		attempt.UserAgent, attempt.Success, attempt.FailureReason, attempt.CreatedAt)
	if err != nil {
		util.Error("Failed to insert login attempt",
			zap.String("source_address", attempt.SourceAddress),
			zap.Error(err))
		return fmt.Errorf("failed to insert login attempt: %w", err)
	}

	return nil
}

// CountRecentFailures counts failed attempts from the address since the
// window start. The lockout evaluator compares this against the threshold.
func (s *AttemptStore) CountRecentFailures(ctx context.Context, eventBucket int, sourceAddress string, since time.Time) (int, error) {
	var count uint64
	err := s.client.QueryRow(ctx, `
        SELECT count() FROM login_attempts
        WHERE event_bucket = ? AND source_address = ? AND success = false AND created_at >= ?`,
		eventBucket, sourceAddress, since).Scan(&count)
	if err != nil {
		util.Error("Failed to count recent failures",
			zap.String("source_address", sourceAddress),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count recent failures: %w", err)
	}

	return int(count), nil
}

// RecentByAddress returns the newest attempts for an address, newest first.
func (s *AttemptStore) RecentByAddress(ctx context.Context, eventBucket int, sourceAddress string, limit int) ([]*models.LoginAttempt, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT event_bucket, email, source_address, user_agent, success, failure_reason, created_at
        FROM login_attempts
        WHERE event_bucket = ? AND source_address = ?
        ORDER BY created_at DESC LIMIT ?`,
		eventBucket, sourceAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.LoginAttempt
	for rows.Next() {
		a := &models.LoginAttempt{}
		var bucket int32
		if err := rows.Scan(&bucket, &a.Email, &a.SourceAddress, &a.UserAgent, &a.Success, &a.FailureReason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		a.EventBucket = int(bucket)
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}
