package schema

import (
	"time"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
)

// CurrentTokenOffer represents the current_nft_marketplace_token_offers
// table - one row per live (or soft-deleted) offer on a specific token.
//
// OfferID defaults to the empty string for marketplaces whose config declares
// no offer identifier; the key then degrades to (token_data_id, buyer,
// marketplace).
type CurrentTokenOffer struct {
	// TokenDataID is the canonical token identifier
	TokenDataID string `gorm:"column:token_data_id;primaryKey;type:varchar(66)"`
	// Buyer is the standardized address of the account making the offer
	Buyer string `gorm:"column:buyer;primaryKey;type:varchar(66)"`
	// OfferID is the marketplace-scoped offer identifier ('' when the
	// marketplace exposes none)
	OfferID string `gorm:"column:offer_id;primaryKey;type:varchar(128);default:''"`
	// Marketplace is the config-declared marketplace name
	Marketplace string `gorm:"column:marketplace;primaryKey;type:varchar(100)"`
	// CollectionID is the canonical collection identifier
	CollectionID *string `gorm:"column:collection_id;type:varchar(66)"`
	// Price is the offered price in base units
	Price int64 `gorm:"column:price;not null"`
	// TokenAmount is the offered token quantity
	TokenAmount int64 `gorm:"column:token_amount;not null"`
	// TokenStandard records which token generation the identity came from
	TokenStandard *string `gorm:"column:token_standard;type:varchar(10)"`
	// ContractAddress is the marketplace contract
	ContractAddress string `gorm:"column:contract_address;not null;type:varchar(66)"`
	// IsDeleted soft-deletes the offer on cancel or fill
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

// TableName specifies the table name for the CurrentTokenOffer model
func (CurrentTokenOffer) TableName() string {
	return "current_nft_marketplace_token_offers"
}
