package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type upsertFindCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// timeNow is overridable for tests.
var timeNow = time.Now

// Ledger persists and reads access grants. All reads and writes go through a
// single mutex: the HTTP pool and the bot event loop share the collection, and
// read-your-writes across both must hold (the read path is cheap enough that
// coarse locking costs nothing).
type Ledger struct {
	mu     sync.Mutex
	access upsertFindCollection
}

// NewLedger constructs a Ledger over the access collection.
func NewLedger(access upsertFindCollection) *Ledger {
	return &Ledger{access: access}
}

// Grant gives the user days of access starting now, replacing any prior
// expiry. Last grant wins; grants never accumulate.
func (l *Ledger) Grant(ctx context.Context, userID int64, days int) (int64, error) {
	if l == nil || l.access == nil {
		return 0, errors.New("ledger is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if userID == 0 {
		return 0, errors.New("user id is required")
	}
	if days <= 0 {
		return 0, errors.New("days must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := timeNow().UTC()
	untilTS := now.Unix() + int64(days)*SecondsPerDay

	_, err := l.access.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$set": bson.M{
				"until_ts":   untilTS,
				"updated_at": now.Truncate(time.Millisecond),
			},
			"$setOnInsert": bson.M{
				"user_id": userID,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: grant access: %v", ErrStorageUnavailable, err)
	}

	return untilTS, nil
}

// Query reports whether the user currently has access and until when.
// A user with no record gets (false, 0).
func (l *Ledger) Query(ctx context.Context, userID int64) (bool, int64, error) {
	if l == nil || l.access == nil {
		return false, 0, errors.New("ledger is not initialized")
	}
	if ctx == nil {
		return false, 0, errors.New("context is required")
	}
	if userID == 0 {
		return false, 0, errors.New("user id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result := l.access.FindOne(ctx, bson.M{"user_id": userID})
	if result == nil {
		return false, 0, fmt.Errorf("%w: find access returned no result", ErrStorageUnavailable)
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("%w: find access: %v", ErrStorageUnavailable, err)
	}

	var record AccessRecord
	if err := result.Decode(&record); err != nil {
		return false, 0, fmt.Errorf("%w: decode access: %v", ErrStorageUnavailable, err)
	}

	return record.UntilTS > timeNow().Unix(), record.UntilTS, nil
}
