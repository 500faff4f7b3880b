package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type insertCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// ChargeLog appends charge records for reconciliation. Nothing in the bot
// reads the log back except the unique charge_id index, which rejects
// redelivered payment events.
type ChargeLog struct {
	charges insertCollection
}

// NewChargeLog constructs a ChargeLog over the charges collection.
func NewChargeLog(charges insertCollection) *ChargeLog {
	return &ChargeLog{charges: charges}
}

// Append records a charge. It reports inserted=false without error when the
// charge id was already logged, which callers use to skip duplicate payment
// deliveries.
func (c *ChargeLog) Append(ctx context.Context, record ChargeRecord) (bool, error) {
	if c == nil || c.charges == nil {
		return false, errors.New("charge log is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if record.UserID == 0 {
		return false, errors.New("user id is required")
	}
	if record.ChargeID == "" {
		return false, errors.New("charge id is required")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = timeNow().UTC().Truncate(time.Millisecond)
	}

	if _, err := c.charges.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: append charge: %v", ErrStorageUnavailable, err)
	}

	return true, nil
}
