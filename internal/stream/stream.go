// Package stream delivers ordered transaction batches from the chain
// transaction feed.
package stream

import (
	"context"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
)

// Batch is one contiguous run of transactions as published on the feed
type Batch struct {
	// FirstVersion is the version of the first transaction in the batch
	FirstVersion int64 `json:"first_version"`
	// LastVersion is the version of the last transaction in the batch
	LastVersion int64 `json:"last_version"`
	// Transactions are ordered by ascending version
	Transactions []domain.Transaction `json:"transactions"`
}

// Client defines the interface for consuming the transaction feed
type Client interface {
	// Transactions streams batches starting at fromVersion. Transactions
	// below fromVersion are trimmed from the first batches. The returned
	// channel closes when ctx is cancelled or the connection shuts down.
	Transactions(ctx context.Context, fromVersion int64) (<-chan Batch, error)

	// Close closes the connection and cleans up resources
	Close()
}
