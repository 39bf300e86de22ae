package remapper

import (
	"strconv"
	"time"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
	"github.com/movestream/nft-marketplace-indexer/internal/registry"
	"github.com/movestream/nft-marketplace-indexer/internal/store"
	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

const keySep = "\x00"

// foldMutations collapses the transaction's activities into at most one
// current-state mutation per entity key, walking events in chain order so the
// last touch wins. Collection-offer fills against an offer placed earlier in
// the same transaction decrement in memory; fills with no in-memory row
// become decrement writes resolved against the database.
func foldMutations(writes *store.TransactionWrites, events []*remappedEvent) {
	listings := make(map[string]*schema.CurrentListing)
	tokenOffers := make(map[string]*schema.CurrentTokenOffer)
	collOffers := make(map[string]*schema.CurrentCollectionOffer)
	fills := make(map[string]*store.CollectionOfferFill)

	for _, re := range events {
		switch re.sem.Category {
		case domain.CategoryListing:
			row := buildListing(re)
			listings[row.TokenDataID+keySep+row.ListingID+keySep+row.Marketplace] = row
		case domain.CategoryTokenOffer:
			row := buildTokenOffer(re)
			tokenOffers[row.TokenDataID+keySep+row.Buyer+keySep+row.OfferID+keySep+row.Marketplace] = row
		case domain.CategoryCollectionOffer:
			applyCollectionOfferEvent(re, collOffers, fills)
		}
	}

	for _, row := range listings {
		writes.Listings = append(writes.Listings, *row)
	}
	for _, row := range tokenOffers {
		writes.TokenOffers = append(writes.TokenOffers, *row)
	}
	for _, row := range collOffers {
		writes.CollectionOffers = append(writes.CollectionOffers, *row)
	}
	for _, fill := range fills {
		writes.CollectionOfferFills = append(writes.CollectionOfferFills, *fill)
	}
}

// tableRecord merges the activity record with the per-table column overrides
// declared for the event's current table.
func tableRecord(re *remappedEvent, table string) map[string]string {
	rules := re.sem.Overrides[table]
	if len(rules) == 0 {
		return re.record
	}
	merged := make(map[string]string, len(re.record)+len(rules))
	for k, v := range re.record {
		merged[k] = v
	}
	for k, v := range extractRecord(rules, re.sem.RawType, re.doc) {
		merged[k] = v
	}
	return merged
}

func buildListing(re *remappedEvent) *schema.CurrentListing {
	act := re.activity
	rec := tableRecord(re, registry.TableListings)

	row := &schema.CurrentListing{
		TokenDataID:              strOrEmpty(act.TokenDataID),
		ListingID:                strOrEmpty(act.ListingID),
		Marketplace:              act.Marketplace,
		CollectionID:             act.CollectionID,
		Seller:                   overrideAddr(rec[registry.ColSeller], act.Seller),
		Price:                    overrideAmount(rec[registry.ColPrice], act.Price),
		TokenAmount:              overrideAmount(rec[registry.ColTokenAmount], amountOf(act)),
		TokenStandard:            act.TokenStandard,
		ContractAddress:          act.ContractAddress,
		IsDeleted:                re.sem.Action != domain.ActionPlace,
		StandardEventType:        act.StandardEventType,
		LastTransactionVersion:   act.TxnVersion,
		LastEventIndex:           act.EventIndex,
		LastTransactionTimestamp: act.BlockTimestamp,
	}
	if row.IsDeleted {
		row.TokenAmount = 0
	}
	return row
}

func buildTokenOffer(re *remappedEvent) *schema.CurrentTokenOffer {
	act := re.activity
	rec := tableRecord(re, registry.TableTokenOffers)

	row := &schema.CurrentTokenOffer{
		TokenDataID:              strOrEmpty(act.TokenDataID),
		Buyer:                    strOrEmpty(act.Buyer),
		OfferID:                  strOrEmpty(act.OfferID),
		Marketplace:              act.Marketplace,
		CollectionID:             act.CollectionID,
		Price:                    overrideAmount(rec[registry.ColPrice], act.Price),
		TokenAmount:              overrideAmount(rec[registry.ColTokenAmount], amountOf(act)),
		TokenStandard:            act.TokenStandard,
		ContractAddress:          act.ContractAddress,
		IsDeleted:                re.sem.Action != domain.ActionPlace,
		StandardEventType:        act.StandardEventType,
		ExpirationTime:           overrideDeadline(rec[registry.ColDeadline], act.ExpirationTime),
		LastTransactionVersion:   act.TxnVersion,
		LastEventIndex:           act.EventIndex,
		LastTransactionTimestamp: act.BlockTimestamp,
	}
	if row.IsDeleted {
		row.TokenAmount = 0
	}
	return row
}

func applyCollectionOfferEvent(re *remappedEvent, collOffers map[string]*schema.CurrentCollectionOffer, fills map[string]*store.CollectionOfferFill) {
	act := re.activity
	rec := tableRecord(re, registry.TableCollectionOffers)
	key := *act.CollectionOfferID + keySep + act.Marketplace

	switch re.sem.Action {
	case domain.ActionPlace:
		row := baseCollectionOffer(re, rec)
		row.RemainingTokenAmount = overrideAmount(rec[registry.ColTokenAmount], amountOf(act))
		// A new placement supersedes any pending decrement for the key.
		collOffers[key] = row
		delete(fills, key)

	case domain.ActionCancel:
		row := baseCollectionOffer(re, rec)
		row.RemainingTokenAmount = 0
		row.IsDeleted = true
		collOffers[key] = row
		delete(fills, key)

	case domain.ActionFill:
		amount := overrideAmount(rec[registry.ColTokenAmount], amountOf(act))
		if amount <= 0 {
			// Fill events without an amount consume one token.
			amount = 1
		}

		if row, ok := collOffers[key]; ok {
			row.RemainingTokenAmount = max(row.RemainingTokenAmount-amount, 0)
			row.IsDeleted = row.RemainingTokenAmount == 0
			row.Price = overrideAmount(rec[registry.ColPrice], act.Price)
			row.StandardEventType = act.StandardEventType
			row.LastTransactionVersion = act.TxnVersion
			row.LastEventIndex = act.EventIndex
			row.LastTransactionTimestamp = act.BlockTimestamp
			return
		}

		template := baseCollectionOffer(re, rec)
		template.RemainingTokenAmount = 0
		template.IsDeleted = true
		if fill, ok := fills[key]; ok {
			fill.Amount += amount
			fill.Offer = *template
			return
		}
		fills[key] = &store.CollectionOfferFill{Offer: *template, Amount: amount}
	}
}

func baseCollectionOffer(re *remappedEvent, rec map[string]string) *schema.CurrentCollectionOffer {
	act := re.activity
	return &schema.CurrentCollectionOffer{
		CollectionOfferID:        *act.CollectionOfferID,
		Marketplace:              act.Marketplace,
		Buyer:                    strOrEmpty(overrideAddr(rec[registry.ColBuyer], act.Buyer)),
		CollectionID:             strOrEmpty(act.CollectionID),
		Price:                    overrideAmount(rec[registry.ColPrice], act.Price),
		TokenStandard:            act.TokenStandard,
		ContractAddress:          act.ContractAddress,
		StandardEventType:        act.StandardEventType,
		ExpirationTime:           overrideDeadline(rec[registry.ColDeadline], act.ExpirationTime),
		LastTransactionVersion:   act.TxnVersion,
		LastEventIndex:           act.EventIndex,
		LastTransactionTimestamp: act.BlockTimestamp,
	}
}

func amountOf(act *schema.Activity) int64 {
	if act.TokenAmount == nil {
		return 0
	}
	return *act.TokenAmount
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// overrideAmount parses an override value, keeping the activity value when
// the override is absent or unparseable.
func overrideAmount(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func overrideAddr(raw string, fallback *string) *string {
	if raw == "" {
		return fallback
	}
	s := domain.StandardizeAddress(raw)
	return &s
}

func overrideDeadline(raw string, fallback *time.Time) *time.Time {
	if raw == "" {
		return fallback
	}
	t, ok := parseDeadline(raw)
	if !ok {
		return fallback
	}
	return &t
}
