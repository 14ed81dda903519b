package models

import "time"

// Account is the minimal identity surface the security core needs: a
// lookup by email so password-reset issuance can decide whether to send
// anything at all. The full account record lives in the main application.
type Account struct {
	AccountID      string    `db:"account_id" json:"account_id"`
	EmailBucket    int       `db:"email_bucket" json:"-"`
	EmailHash      string    `db:"email_hash" json:"-"`
	EmailEncrypted []byte    `db:"email_encrypted" json:"-"`
	EmailKeyID     string    `db:"email_key_id" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
