package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
)

// Activity represents the nft_marketplace_activities table - the immutable,
// append-only record of every recognized marketplace event
type Activity struct {
	// TxnVersion is the transaction version the event was emitted in
	TxnVersion int64 `gorm:"column:txn_version;primaryKey;autoIncrement:false"`
	// EventIndex is the position of the event within its transaction
	EventIndex int64 `gorm:"column:event_index;primaryKey;autoIncrement:false"`
	// Marketplace is the config-declared marketplace name
	Marketplace string `gorm:"column:marketplace;primaryKey;type:varchar(100)"`
	// RawEventType is the fully qualified on-chain event type
	RawEventType string `gorm:"column:raw_event_type;not null;type:text"`
	// StandardEventType is the canonical category/action pair
	StandardEventType domain.StandardEventType `gorm:"column:standard_event_type;not null;type:varchar(50)"`
	// ContractAddress is the marketplace contract the event originated from
	ContractAddress string `gorm:"column:contract_address;not null;type:varchar(66)"`
	// CreatorAddress is the collection creator (nil when not extracted)
	CreatorAddress *string `gorm:"column:creator_address;type:varchar(66)"`
	// CollectionID is the canonical collection identifier
	CollectionID *string `gorm:"column:collection_id;type:varchar(66)"`
	// CollectionName is the human-readable collection name
	CollectionName *string `gorm:"column:collection_name;type:text"`
	// TokenDataID is the canonical token identifier (object address for v2,
	// synthesized hash for v1)
	TokenDataID *string `gorm:"column:token_data_id;type:varchar(66)"`
	// TokenName is the human-readable token name, truncated for storage
	TokenName *string `gorm:"column:token_name;type:text"`
	// TokenStandard records which token generation the identity came from
	TokenStandard *string `gorm:"column:token_standard;type:varchar(10)"`
	// Price is the event price in base units
	Price int64 `gorm:"column:price;not null"`
	// TokenAmount is the number of tokens involved (nil when not applicable)
	TokenAmount *int64 `gorm:"column:token_amount"`
	// Buyer is the standardized buyer address
	Buyer *string `gorm:"column:buyer;type:varchar(66)"`
	// Seller is the standardized seller address
	Seller *string `gorm:"column:seller;type:varchar(66)"`
	// ListingID is the marketplace-scoped listing identifier
	ListingID *string `gorm:"column:listing_id;type:varchar(128)"`
	// OfferID is the marketplace-scoped token offer identifier
	OfferID *string `gorm:"column:offer_id;type:varchar(128)"`
	// CollectionOfferID is the marketplace-scoped collection offer identifier
	CollectionOfferID *string `gorm:"column:collection_offer_id;type:varchar(128)"`
	// EntryFunctionID is the entry function that produced the transaction
	EntryFunctionID *string `gorm:"column:entry_function_id;type:varchar(1000)"`
	// ExpirationTime is the offer or listing deadline, when the event carries one
	ExpirationTime *time.Time `gorm:"column:expiration_time;type:timestamptz"`
	// JSONData preserves the raw event payload for debugging and reprocessing
	JSONData datatypes.JSON `gorm:"column:json_data;type:jsonb"`
	// BlockTimestamp is the chain timestamp of the containing block
	BlockTimestamp time.Time `gorm:"column:block_timestamp;not null;type:timestamptz"`
}

// TableName specifies the table name for the Activity model
func (Activity) TableName() string {
	return "nft_marketplace_activities"
}
