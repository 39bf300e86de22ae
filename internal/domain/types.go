package domain

import (
	"encoding/json"
	"time"
)

// Category identifies the kind of marketplace object an event acts on.
type Category string

const (
	CategoryListing         Category = "listing"
	CategoryTokenOffer      Category = "token_offer"
	CategoryCollectionOffer Category = "collection_offer"
)

// Valid reports whether the category is one of the known kinds
func (c Category) Valid() bool {
	switch c {
	case CategoryListing, CategoryTokenOffer, CategoryCollectionOffer:
		return true
	}
	return false
}

// Action identifies what an event does to a marketplace object.
type Action string

const (
	ActionPlace  Action = "place"
	ActionCancel Action = "cancel"
	ActionFill   Action = "fill"
)

// Valid reports whether the action is one of the known kinds
func (a Action) Valid() bool {
	switch a {
	case ActionPlace, ActionCancel, ActionFill:
		return true
	}
	return false
}

// StandardEventType is the canonical category/action pair stored on every activity
type StandardEventType string

const (
	StandardEventPlaceListing          StandardEventType = "place_listing"
	StandardEventCancelListing         StandardEventType = "cancel_listing"
	StandardEventFillListing           StandardEventType = "fill_listing"
	StandardEventPlaceOffer            StandardEventType = "place_offer"
	StandardEventCancelOffer           StandardEventType = "cancel_offer"
	StandardEventFillOffer             StandardEventType = "fill_offer"
	StandardEventPlaceCollectionOffer  StandardEventType = "place_collection_offer"
	StandardEventCancelCollectionOffer StandardEventType = "cancel_collection_offer"
	StandardEventFillCollectionOffer   StandardEventType = "fill_collection_offer"
)

// StandardEvent maps a category/action pair to its canonical event type.
// Inputs must be valid; callers are expected to have validated them at
// config load time.
func StandardEvent(c Category, a Action) StandardEventType {
	var suffix string
	switch c {
	case CategoryListing:
		suffix = "listing"
	case CategoryTokenOffer:
		suffix = "offer"
	case CategoryCollectionOffer:
		suffix = "collection_offer"
	}
	return StandardEventType(string(a) + "_" + suffix)
}

// TokenStandard distinguishes the two on-chain token generations
type TokenStandard string

const (
	// TokenStandardV1 tokens are identified by (creator, collection, name)
	TokenStandardV1 TokenStandard = "v1"
	// TokenStandardV2 tokens are identified by an object address
	TokenStandardV2 TokenStandard = "v2"
)

// Transaction is a single user transaction as delivered by the transaction stream
type Transaction struct {
	// Version is the global, strictly increasing transaction version
	Version int64 `json:"version"`
	// BlockTimestamp is the chain timestamp of the block containing the transaction
	BlockTimestamp time.Time `json:"block_timestamp"`
	// EntryFunction is the fully qualified entry function that produced the transaction
	EntryFunction string `json:"entry_function"`
	// Events are the events emitted by the transaction, in emission order
	Events []Event `json:"events"`
	// WriteSet are the resource writes committed by the transaction
	WriteSet []ResourceWrite `json:"write_set"`
}

// Event is a single event emitted by a transaction
type Event struct {
	// Index is the position of the event within its transaction
	Index int64 `json:"index"`
	// Type is the fully qualified on-chain event type, e.g. "0xabc::events::ListingPlacedEvent"
	Type string `json:"type"`
	// Data is the raw JSON event payload
	Data json.RawMessage `json:"data"`
}

// ResourceWrite is a single write-set change touching an on-chain resource
type ResourceWrite struct {
	// Address is the account or object address the resource lives under
	Address string `json:"address"`
	// Type is the fully qualified resource type, including type parameters
	Type string `json:"type"`
	// Data is the raw JSON resource payload (nil when Deleted)
	Data json.RawMessage `json:"data"`
	// Deleted marks a resource removal rather than a write
	Deleted bool `json:"deleted"`
}
