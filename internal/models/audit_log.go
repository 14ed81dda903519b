package models

import "time"

// Audit action names emitted by the security core.
const (
	AuditActionOTPIssued       = "otp_issued"
	AuditActionOTPVerified     = "otp_verified"
	AuditActionBlockIP         = "block_ip"
	AuditActionUnblockIP       = "unblock_ip"
	AuditActionSettingsUpdated = "security_settings_updated"
)

// AuditLogEntry is a best-effort, append-only record of a security-relevant
// action. A failed write never propagates to the audited operation.
type AuditLogEntry struct {
	EntryID      string            `db:"entry_id" json:"entry_id"`
	ActorRef     string            `db:"actor_ref" json:"actor_ref,omitempty"`
	Action       string            `db:"action" json:"action"`
	ResourceType string            `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   string            `db:"resource_id" json:"resource_id,omitempty"`
	Description  string            `db:"description" json:"description,omitempty"`
	Metadata     map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
}
