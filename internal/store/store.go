package store

import (
	"context"
	"time"

	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

// CollectionOfferFill decrements a collection offer's remaining amount. The
// embedded row is the template used when no prior row exists: a fill seen
// before its place lands as an already-consumed offer.
type CollectionOfferFill struct {
	Offer  schema.CurrentCollectionOffer
	Amount int64
}

// TransactionWrites is the complete set of rows produced by remapping one
// transaction. The engine applies it atomically: either every activity and
// current-state mutation lands, or none do.
type TransactionWrites struct {
	// Version of the transaction the writes derive from
	Version int64
	// Timestamp is the chain timestamp of the transaction
	Timestamp time.Time

	Activities           []schema.Activity
	Listings             []schema.CurrentListing
	TokenOffers          []schema.CurrentTokenOffer
	CollectionOffers     []schema.CurrentCollectionOffer
	CollectionOfferFills []CollectionOfferFill
}

// Empty reports whether the transaction produced no rows at all
func (w *TransactionWrites) Empty() bool {
	return len(w.Activities) == 0 &&
		len(w.Listings) == 0 &&
		len(w.TokenOffers) == 0 &&
		len(w.CollectionOffers) == 0 &&
		len(w.CollectionOfferFills) == 0
}

// Store defines the interface for database operations
type Store interface {
	// ApplyTransaction atomically writes the activities and current-state
	// mutations of one transaction. Activities insert idempotently;
	// current-state rows only move forward in (version, event index) order.
	ApplyTransaction(ctx context.Context, writes *TransactionWrites) error

	// GetProcessorStatus retrieves the live checkpoint row, nil when absent
	GetProcessorStatus(ctx context.Context, processor string) (*schema.ProcessorStatus, error)
	// SaveProcessorStatus advances the live checkpoint; stale versions are ignored
	SaveProcessorStatus(ctx context.Context, processor string, version int64, txnTimestamp *time.Time) error

	// GetBackfillStatus retrieves a backfill checkpoint row, nil when absent
	GetBackfillStatus(ctx context.Context, alias string) (*schema.BackfillProcessorStatus, error)
	// SaveBackfillStatus upserts a backfill checkpoint; stale versions are ignored
	SaveBackfillStatus(ctx context.Context, status *schema.BackfillProcessorStatus) error
}
