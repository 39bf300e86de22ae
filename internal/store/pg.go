package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// activityFieldCount is the number of columns on schema.Activity. GORM binds
// one parameter per column per row, so it sizes the insert batches.
const activityFieldCount = 23

// calculateSafeBatchSize computes the batch size for bulk inserts that keeps
// the statement under PostgreSQL's 65535 extended-protocol parameter limit.
// A fixed headroom leaves room for statement parameters outside the row
// values.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// monotonicGuard builds the DO UPDATE condition that only lets a row move
// forward in (last_transaction_version, last_event_index) order.
func monotonicGuard(table string) clause.Where {
	cond := fmt.Sprintf(
		"%[1]s.last_transaction_version < excluded.last_transaction_version"+
			" OR (%[1]s.last_transaction_version = excluded.last_transaction_version"+
			" AND %[1]s.last_event_index < excluded.last_event_index)", table)
	return clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: cond}}}
}

// ApplyTransaction atomically writes the activities and current-state
// mutations of one transaction
func (s *pgStore) ApplyTransaction(ctx context.Context, writes *TransactionWrites) error {
	if writes.Empty() {
		return nil
	}

	// Deterministic key order avoids deadlocks between concurrent batches.
	sortWrites(writes)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(writes.Activities) > 0 {
			// Activities are immutable: replays hit the (txn_version,
			// event_index, marketplace) key and do nothing.
			// Activity has 23 columns, one bound parameter each per row.
			batchSize := calculateSafeBatchSize(len(writes.Activities), activityFieldCount)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "txn_version"}, {Name: "event_index"}, {Name: "marketplace"}},
				DoNothing: true,
			}).CreateInBatches(&writes.Activities, batchSize).Error; err != nil {
				return fmt.Errorf("failed to insert activities: %w", err)
			}
		}

		if len(writes.Listings) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "token_data_id"}, {Name: "listing_id"}, {Name: "marketplace"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"collection_id", "seller", "price", "token_amount", "token_standard",
					"is_deleted", "standard_event_type",
					"last_transaction_version", "last_event_index", "last_transaction_timestamp",
				}),
				Where: monotonicGuard(schema.CurrentListing{}.TableName()),
			}).Create(&writes.Listings).Error; err != nil {
				return fmt.Errorf("failed to upsert listings: %w", err)
			}
		}

		if len(writes.TokenOffers) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "token_data_id"}, {Name: "buyer"}, {Name: "offer_id"}, {Name: "marketplace"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"collection_id", "price", "token_amount", "token_standard",
					"is_deleted", "standard_event_type", "expiration_time",
					"last_transaction_version", "last_event_index", "last_transaction_timestamp",
				}),
				Where: monotonicGuard(schema.CurrentTokenOffer{}.TableName()),
			}).Create(&writes.TokenOffers).Error; err != nil {
				return fmt.Errorf("failed to upsert token offers: %w", err)
			}
		}

		if len(writes.CollectionOffers) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "collection_offer_id"}, {Name: "marketplace"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"buyer", "collection_id", "price", "remaining_token_amount", "token_standard",
					"is_deleted", "standard_event_type", "expiration_time",
					"last_transaction_version", "last_event_index", "last_transaction_timestamp",
				}),
				Where: monotonicGuard(schema.CurrentCollectionOffer{}.TableName()),
			}).Create(&writes.CollectionOffers).Error; err != nil {
				return fmt.Errorf("failed to upsert collection offers: %w", err)
			}
		}

		for i := range writes.CollectionOfferFills {
			if err := applyCollectionOfferFill(tx, &writes.CollectionOfferFills[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

// applyCollectionOfferFill decrements a collection offer in place. A fill
// landing before its place inserts the template row: remaining 0, deleted.
func applyCollectionOfferFill(tx *gorm.DB, fill *CollectionOfferFill) error {
	table := schema.CurrentCollectionOffer{}.TableName()

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "collection_offer_id"}, {Name: "marketplace"}},
		DoUpdates: clause.Assignments(map[string]any{
			"remaining_token_amount": gorm.Expr(
				fmt.Sprintf("GREATEST(%s.remaining_token_amount - ?, 0)", table), fill.Amount),
			"is_deleted": gorm.Expr(
				fmt.Sprintf("%s.remaining_token_amount - ? <= 0", table), fill.Amount),
			"price":                      fill.Offer.Price,
			"standard_event_type":        fill.Offer.StandardEventType,
			"last_transaction_version":   fill.Offer.LastTransactionVersion,
			"last_event_index":           fill.Offer.LastEventIndex,
			"last_transaction_timestamp": fill.Offer.LastTransactionTimestamp,
		}),
		Where: monotonicGuard(table),
	}).Create(&fill.Offer).Error
	if err != nil {
		return fmt.Errorf("failed to apply collection offer fill: %w", err)
	}

	return nil
}

// GetProcessorStatus retrieves the live checkpoint row
func (s *pgStore) GetProcessorStatus(ctx context.Context, processor string) (*schema.ProcessorStatus, error) {
	var status schema.ProcessorStatus
	err := s.db.WithContext(ctx).Where("processor = ?", processor).First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get processor status: %w", err)
	}
	return &status, nil
}

// SaveProcessorStatus advances the live checkpoint. The guard keeps a
// delayed writer from moving the checkpoint backwards.
func (s *pgStore) SaveProcessorStatus(ctx context.Context, processor string, version int64, txnTimestamp *time.Time) error {
	status := schema.ProcessorStatus{
		Processor:                processor,
		LastSuccessVersion:       version,
		LastTransactionTimestamp: txnTimestamp,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "processor"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_success_version", "last_updated", "last_transaction_timestamp",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "processor_status.last_success_version <= excluded.last_success_version"},
		}},
	}).Create(&status).Error
	if err != nil {
		return fmt.Errorf("failed to save processor status: %w", err)
	}

	return nil
}

// GetBackfillStatus retrieves a backfill checkpoint row
func (s *pgStore) GetBackfillStatus(ctx context.Context, alias string) (*schema.BackfillProcessorStatus, error) {
	var status schema.BackfillProcessorStatus
	err := s.db.WithContext(ctx).Where("backfill_alias = ?", alias).First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get backfill status: %w", err)
	}
	return &status, nil
}

// SaveBackfillStatus upserts a backfill checkpoint row
func (s *pgStore) SaveBackfillStatus(ctx context.Context, status *schema.BackfillProcessorStatus) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "backfill_alias"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"backfill_status", "last_success_version", "last_updated",
			"last_transaction_timestamp", "backfill_start_version", "backfill_end_version",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "backfill_processor_status.last_success_version <= excluded.last_success_version"},
		}},
	}).Create(status).Error
	if err != nil {
		return fmt.Errorf("failed to save backfill status: %w", err)
	}

	return nil
}

// sortWrites orders every slice by its primary key
func sortWrites(w *TransactionWrites) {
	sort.Slice(w.Activities, func(i, j int) bool {
		a, b := &w.Activities[i], &w.Activities[j]
		if a.TxnVersion != b.TxnVersion {
			return a.TxnVersion < b.TxnVersion
		}
		if a.EventIndex != b.EventIndex {
			return a.EventIndex < b.EventIndex
		}
		return a.Marketplace < b.Marketplace
	})
	sort.Slice(w.Listings, func(i, j int) bool {
		a, b := &w.Listings[i], &w.Listings[j]
		if a.TokenDataID != b.TokenDataID {
			return a.TokenDataID < b.TokenDataID
		}
		if a.ListingID != b.ListingID {
			return a.ListingID < b.ListingID
		}
		return a.Marketplace < b.Marketplace
	})
	sort.Slice(w.TokenOffers, func(i, j int) bool {
		a, b := &w.TokenOffers[i], &w.TokenOffers[j]
		if a.TokenDataID != b.TokenDataID {
			return a.TokenDataID < b.TokenDataID
		}
		if a.Buyer != b.Buyer {
			return a.Buyer < b.Buyer
		}
		if a.OfferID != b.OfferID {
			return a.OfferID < b.OfferID
		}
		return a.Marketplace < b.Marketplace
	})
	sort.Slice(w.CollectionOffers, func(i, j int) bool {
		a, b := &w.CollectionOffers[i], &w.CollectionOffers[j]
		if a.CollectionOfferID != b.CollectionOfferID {
			return a.CollectionOfferID < b.CollectionOfferID
		}
		return a.Marketplace < b.Marketplace
	})
	sort.Slice(w.CollectionOfferFills, func(i, j int) bool {
		a, b := &w.CollectionOfferFills[i].Offer, &w.CollectionOfferFills[j].Offer
		if a.CollectionOfferID != b.CollectionOfferID {
			return a.CollectionOfferID < b.CollectionOfferID
		}
		return a.Marketplace < b.Marketplace
	})
}
