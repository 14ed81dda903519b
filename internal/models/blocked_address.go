package models

import "time"

// BlockedAddress is the lockout record for one source address. Upsert
// semantics: a new block for an already-blocked address extends or
// overwrites the existing record rather than duplicating it.
type BlockedAddress struct {
	BlockID       string     `json:"block_id"`
	SourceAddress string     `json:"source_address"`
	Reason        string     `json:"reason"`
	FailureCount  int        `json:"failure_count"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
	IsPermanent   bool       `json:"is_permanent"`
	BlockedBy     string     `json:"blocked_by,omitempty"`
	BlockedAt     time.Time  `json:"blocked_at"`
}

// Active reports whether the block is currently in force: permanent, or
// blocked_until strictly in the future.
func (b *BlockedAddress) Active(now time.Time) bool {
	if b.IsPermanent {
		return true
	}
	return b.BlockedUntil != nil && b.BlockedUntil.After(now)
}
