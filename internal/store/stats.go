package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for basic
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	access  countCollection
	charges countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided access
// and charge collections.
func NewStatsProvider(access, charges countCollection) *StatsProvider {
	return &StatsProvider{
		access:  access,
		charges: charges,
	}
}

// CountActiveAccess returns the number of ledger records whose expiry is still
// in the future relative to nowTS.
func (p *StatsProvider) CountActiveAccess(ctx context.Context, nowTS int64) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.access == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.access.CountDocuments(ctx, bson.M{"until_ts": bson.M{"$gt": nowTS}})
	if err != nil {
		return 0, fmt.Errorf("count active access: %w", err)
	}

	return count, nil
}

// CountCharges returns the number of documents in the charge audit log.
func (p *StatsProvider) CountCharges(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.charges == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.charges.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count charges: %w", err)
	}

	return count, nil
}
