package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/models"
	"security-service/internal/util"
)

type AuditStore struct {
	client *client.ClickHouseClient
}

func NewAuditStore(ch *client.ClickHouseClient) *AuditStore {
	return &AuditStore{client: ch}
}

func (s *AuditStore) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	err := s.client.Exec(ctx, `
        INSERT INTO audit_log (
            entry_id, actor_ref, action, resource_type, resource_id, description, metadata, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.ActorRef, entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Description, metadata, entry.CreatedAt)
	if err != nil {
		util.Error("Failed to insert audit entry",
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// RecentByAction returns the newest audit entries, optionally filtered to
// one action name. An empty action matches everything.
func (s *AuditStore) RecentByAction(ctx context.Context, action string, limit int) ([]*models.AuditLogEntry, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT entry_id, actor_ref, action, resource_type, resource_id, description, metadata, created_at
        FROM audit_log WHERE ? = '' OR action = ?
        ORDER BY created_at DESC LIMIT ?`, action, action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		e := &models.AuditLogEntry{}
		if err := rows.Scan(&e.EntryID, &e.ActorRef, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
