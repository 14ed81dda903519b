package models

import "time"

// LoginAttempt is a single, append-only record of an authentication
// attempt. Rows are never mutated; the lockout evaluator only counts them.
type LoginAttempt struct {
	EventBucket   int       `db:"event_bucket" json:"-"`
	Email         string    `db:"email" json:"email,omitempty"`
	SourceAddress string    `db:"source_address" json:"source_address"`
	UserAgent     string    `db:"user_agent" json:"user_agent,omitempty"`
	Success       bool      `db:"success" json:"success"`
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
