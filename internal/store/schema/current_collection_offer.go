package schema

import (
	"time"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
)

// CurrentCollectionOffer represents the
// current_nft_marketplace_collection_offers table - one row per live (or
// soft-deleted) collection-wide offer. When a marketplace exposes no
// collection offer identifier, the identifier is synthesized from the
// collection identity and the buyer.
type CurrentCollectionOffer struct {
	// CollectionOfferID is the marketplace-scoped or synthesized offer identifier
	CollectionOfferID string `gorm:"column:collection_offer_id;primaryKey;type:varchar(128)"`
	// Marketplace is the config-declared marketplace name
	Marketplace string `gorm:"column:marketplace;primaryKey;type:varchar(100)"`
	// Buyer is the standardized address of the account making the offer
	Buyer string `gorm:"column:buyer;not null;type:varchar(66)"`
	// CollectionID is the canonical collection identifier
	CollectionID string `gorm:"column:collection_id;not null;type:varchar(66)"`
	// Price is the per-token offered price in base units
	Price int64 `gorm:"column:price;not null"`
	// RemainingTokenAmount counts down as the offer is filled; 0 means consumed
	RemainingTokenAmount int64 `gorm:"column:remaining_token_amount;not null"`
	// TokenStandard records which token generation the identity came from
	TokenStandard *string `gorm:"column:token_standard;type:varchar(10)"`
	// ContractAddress is the marketplace contract
	ContractAddress string `gorm:"column:contract_address;not null;type:varchar(66)"`
	// IsDeleted soft-deletes the offer on cancel or exhaustion
	IsDeleted bool `gorm:"column:is_deleted;not null"`
	// StandardEventType is the canonical type of the event that last touched this row
	StandardEventType domain.StandardEventType `gorm:"column:standard_event_type;not null;type:varchar(50)"`
	// ExpirationTime is the offer deadline, when the marketplace exposes one
	ExpirationTime *time.Time `gorm:"column:expiration_time;type:timestamptz"`
	// LastTransactionVersion is the version of the last applied event
	LastTransactionVersion int64 `gorm:"column:last_transaction_version;not null"`
	// LastEventIndex breaks ties between events of the same transaction
	LastEventIndex int64 `gorm:"column:last_event_index;not null"`
	// LastTransactionTimestamp is the chain timestamp of the last applied event
	LastTransactionTimestamp time.Time `gorm:"column:last_transaction_timestamp;not null;type:timestamptz"`
}

// TableName specifies the table name for the CurrentCollectionOffer model
func (CurrentCollectionOffer) TableName() string {
	return "current_nft_marketplace_collection_offers"
}
