// Package remapper turns raw chain transactions into canonical activity rows
// and current-state mutations, driven entirely by the compiled marketplace
// registry. Unrecognized events are skipped; events that fail extraction are
// dropped individually with a warning and never fail the transaction.
package remapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
	"github.com/movestream/nft-marketplace-indexer/internal/logger"
	"github.com/movestream/nft-marketplace-indexer/internal/registry"
	"github.com/movestream/nft-marketplace-indexer/internal/store"
	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

// maxEpochSeconds is 9999-12-31T23:59:59Z; deadlines beyond it are clamped
const maxEpochSeconds = 253402300799

// Remapper translates transactions using a compiled registry
type Remapper struct {
	registry *registry.Registry
}

// New creates a remapper over a compiled marketplace registry
func New(reg *registry.Registry) *Remapper {
	return &Remapper{registry: reg}
}

// remappedEvent pairs an activity with the semantics, decoded payload and
// extracted record it was built from
type remappedEvent struct {
	activity *schema.Activity
	sem      *registry.EventSemantics
	record   map[string]string
	doc      any
}

// Remap processes one transaction end to end: event extraction, write-set
// enrichment, then folding into per-entity mutations.
func (r *Remapper) Remap(txn *domain.Transaction) *store.TransactionWrites {
	writes := &store.TransactionWrites{
		Version:   txn.Version,
		Timestamp: txn.BlockTimestamp,
	}

	var events []*remappedEvent
	for i := range txn.Events {
		ev := &txn.Events[i]
		sem, ok := r.registry.Lookup(ev.Type)
		if !ok {
			// Not a marketplace event.
			continue
		}

		re, err := r.remapEvent(txn, ev, sem)
		if err != nil {
			logger.Warn("dropping marketplace event",
				zap.Int64("version", txn.Version),
				zap.Int64("event_index", ev.Index),
				zap.String("event_type", ev.Type),
				zap.String("marketplace", sem.Marketplace),
				zap.Error(err))
			continue
		}
		events = append(events, re)
	}

	if len(events) == 0 {
		return writes
	}

	r.applyWriteSet(txn, events)

	// Identity can arrive from the write set, so the check runs only after
	// enrichment.
	kept := events[:0]
	for _, re := range events {
		if err := checkIdentity(re.sem.Category, re.activity); err != nil {
			logger.Warn("dropping marketplace event",
				zap.Int64("version", txn.Version),
				zap.Int64("event_index", re.activity.EventIndex),
				zap.String("event_type", re.sem.RawType),
				zap.String("marketplace", re.sem.Marketplace),
				zap.Error(err))
			continue
		}
		// Marketplaces without an explicit collection offer id get a stable
		// synthesized one from (collection, buyer).
		if re.sem.Category == domain.CategoryCollectionOffer && re.activity.CollectionOfferID == nil {
			id := domain.CollectionOfferID(*re.activity.CollectionID, *re.activity.Buyer)
			re.activity.CollectionOfferID = &id
		}
		kept = append(kept, re)
	}
	events = kept
	if len(events) == 0 {
		return writes
	}

	for _, re := range events {
		writes.Activities = append(writes.Activities, *re.activity)
	}
	foldMutations(writes, events)

	return writes
}

func (r *Remapper) remapEvent(txn *domain.Transaction, ev *domain.Event, sem *registry.EventSemantics) (*remappedEvent, error) {
	doc, err := decodeJSON(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("undecodable event payload: %w", err)
	}

	rec := extractRecord(sem.EventRules, sem.RawType, doc)
	act, err := buildActivity(txn, ev, sem, rec)
	if err != nil {
		return nil, err
	}

	return &remappedEvent{activity: act, sem: sem, record: rec, doc: doc}, nil
}

// extractRecord evaluates every applicable rule against a decoded payload.
// Missing or empty values simply leave the column unset.
func extractRecord(rules []registry.Rule, rawType string, doc any) map[string]string {
	rec := make(map[string]string, len(rules))
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesTo(rawType) {
			continue
		}
		if v, ok := rule.Path.EvalString(doc); ok && v != "" {
			rec[rule.Column] = v
		}
	}
	return rec
}

func buildActivity(txn *domain.Transaction, ev *domain.Event, sem *registry.EventSemantics, rec map[string]string) (*schema.Activity, error) {
	act := &schema.Activity{
		TxnVersion:        txn.Version,
		EventIndex:        ev.Index,
		Marketplace:       sem.Marketplace,
		RawEventType:      sem.RawType,
		StandardEventType: sem.Standard,
		ContractAddress:   sem.ContractAddress,
		JSONData:          datatypes.JSON(ev.Data),
		BlockTimestamp:    txn.BlockTimestamp,
	}
	if txn.EntryFunction != "" {
		ef := domain.TruncateName(txn.EntryFunction, domain.MaxEntryFunctionLength)
		act.EntryFunctionID = &ef
	}

	applyIdentity(act, rec)

	price, err := parseAmount(rec[registry.ColPrice], 0)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", domain.ErrBadAmount, rec[registry.ColPrice])
	}
	act.Price = price

	// Placements without an explicit amount mean a single token.
	defaultAmount := int64(0)
	if sem.Action == domain.ActionPlace {
		defaultAmount = 1
	}
	amount, err := parseAmount(rec[registry.ColTokenAmount], defaultAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: token_amount %q", domain.ErrBadAmount, rec[registry.ColTokenAmount])
	}
	act.TokenAmount = &amount

	if v := rec[registry.ColBuyer]; v != "" {
		b := domain.StandardizeAddress(v)
		act.Buyer = &b
	}
	if v := rec[registry.ColSeller]; v != "" {
		s := domain.StandardizeAddress(v)
		act.Seller = &s
	}
	if v := rec[registry.ColListingID]; v != "" {
		act.ListingID = &v
	}
	if v := rec[registry.ColOfferID]; v != "" {
		act.OfferID = &v
	}
	if v := rec[registry.ColCollectionOfferID]; v != "" {
		act.CollectionOfferID = &v
	}
	if v := rec[registry.ColDeadline]; v != "" {
		if t, ok := parseDeadline(v); ok {
			act.ExpirationTime = &t
		}
	}

	return act, nil
}

// applyIdentity resolves the token and collection identity of an activity.
// A configured v2 inner address wins over everything; otherwise a full
// (creator, collection, name) triple synthesizes the v1 identity.
func applyIdentity(act *schema.Activity, rec map[string]string) {
	if v := rec[registry.ColCreatorAddress]; v != "" {
		a := domain.StandardizeAddress(v)
		act.CreatorAddress = &a
	}
	if v := rec[registry.ColTokenName]; v != "" {
		n := domain.TruncateName(v, domain.MaxTokenNameLength)
		act.TokenName = &n
	}
	if v := rec[registry.ColCollectionName]; v != "" {
		act.CollectionName = &v
	}

	var std domain.TokenStandard
	switch {
	case rec[registry.ColTokenInner] != "":
		id := domain.StandardizeAddress(rec[registry.ColTokenInner])
		act.TokenDataID = &id
		std = domain.TokenStandardV2
	case rec[registry.ColTokenDataID] != "":
		id := domain.StandardizeAddress(rec[registry.ColTokenDataID])
		act.TokenDataID = &id
	case act.CreatorAddress != nil && act.CollectionName != nil && act.TokenName != nil:
		id := domain.TokenDataIDV1(*act.CreatorAddress, *act.CollectionName, *act.TokenName)
		act.TokenDataID = &id
		std = domain.TokenStandardV1
	}

	switch {
	case rec[registry.ColCollectionInner] != "":
		id := domain.StandardizeAddress(rec[registry.ColCollectionInner])
		act.CollectionID = &id
		if std == "" {
			std = domain.TokenStandardV2
		}
	case rec[registry.ColCollectionID] != "":
		id := domain.StandardizeAddress(rec[registry.ColCollectionID])
		act.CollectionID = &id
	case act.CreatorAddress != nil && act.CollectionName != nil:
		id := domain.CollectionIDV1(*act.CreatorAddress, *act.CollectionName)
		act.CollectionID = &id
		if std == "" {
			std = domain.TokenStandardV1
		}
	}

	if std != "" {
		s := string(std)
		act.TokenStandard = &s
	}
}

// checkIdentity verifies the activity can produce the entity key its
// category needs.
func checkIdentity(category domain.Category, act *schema.Activity) error {
	var ok bool
	switch category {
	case domain.CategoryListing:
		ok = act.TokenDataID != nil || act.ListingID != nil
	case domain.CategoryTokenOffer:
		ok = act.OfferID != nil || (act.TokenDataID != nil && act.Buyer != nil)
	case domain.CategoryCollectionOffer:
		ok = act.CollectionOfferID != nil || (act.CollectionID != nil && act.Buyer != nil)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMissingIdentity, category)
	}
	return nil
}

// parseAmount parses a base-unit integer amount. Amounts never truncate:
// anything that does not fit an int64 exactly is an error.
func parseAmount(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// parseDeadline interprets a value as epoch seconds, clamping far-future
// values the chain allows but timestamptz does not.
func parseDeadline(raw string) (time.Time, bool) {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return time.Time{}, false
	}
	if secs > maxEpochSeconds {
		secs = maxEpochSeconds
	}
	return time.Unix(secs, 0).UTC(), true
}

func decodeJSON(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// UseNumber keeps u64 amounts exact.
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
