// Package domain defines the access ledger and charge log persisted by the bot.
package domain

import (
	"errors"
	"time"
)

// SecondsPerDay converts purchased day counts to expiry offsets.
const SecondsPerDay = 86400

// ErrStorageUnavailable wraps any failure of the backing store. Callers
// surface it as an opaque server error; nothing retries automatically.
var ErrStorageUnavailable = errors.New("storage unavailable")

// AccessRecord maps a Telegram user to an access expiry. Access is valid
// while now < UntilTS. At most one record exists per user; a new grant
// overwrites the previous expiry.
type AccessRecord struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	UntilTS   int64     `bson:"until_ts" json:"until_ts"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ChargeRecord is an append-only audit entry for a completed payment. The
// provider-issued ChargeID doubles as the dedup key for redelivered events.
type ChargeRecord struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	ChargeID  string    `bson:"charge_id" json:"charge_id"`
	Payload   string    `bson:"payload" json:"payload"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
