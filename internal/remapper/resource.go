package remapper

import (
	"strings"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
	"github.com/movestream/nft-marketplace-indexer/internal/registry"
	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

// applyWriteSet enriches remapped events with values extracted from the
// transaction's resource writes. Event-sourced values always win: a resource
// only fills columns the event left empty. Deleted resources carry no data
// and are skipped.
func (r *Remapper) applyWriteSet(txn *domain.Transaction, events []*remappedEvent) {
	byMarketplace := make(map[string][]*remappedEvent)
	for _, re := range events {
		byMarketplace[re.sem.Marketplace] = append(byMarketplace[re.sem.Marketplace], re)
	}

	for marketplace, evs := range byMarketplace {
		ruleSets := r.registry.ResourceRules(marketplace)
		if len(ruleSets) == 0 {
			continue
		}

		for wi := range txn.WriteSet {
			w := &txn.WriteSet[wi]
			if w.Deleted || len(w.Data) == 0 {
				continue
			}
			for ri := range ruleSets {
				rs := &ruleSets[ri]
				if !resourceTypeMatches(w.Type, rs.ResourceType) {
					continue
				}
				doc, err := decodeJSON(w.Data)
				if err != nil {
					continue
				}
				for _, re := range evs {
					fillFromResource(re, rs, doc)
				}
			}
		}
	}
}

// resourceTypeMatches accepts an exact match, or a match on the base type
// with the on-chain type arguments stripped, so configs can name generic
// resources without spelling out type parameters. Sibling types sharing a
// prefix ("...::token::TokenStore" vs "...::token::Token") never match.
func resourceTypeMatches(onChain, configured string) bool {
	if onChain == configured {
		return true
	}
	if i := strings.Index(onChain, "<"); i >= 0 {
		return onChain[:i] == configured
	}
	return false
}

func fillFromResource(re *remappedEvent, rs *registry.ResourceRules, doc any) {
	partial := extractRecord(rs.Rules, re.sem.RawType, doc)
	if len(partial) == 0 {
		return
	}
	if !matchesEvent(re.activity, partial) {
		return
	}

	for col, v := range partial {
		if _, taken := re.record[col]; !taken {
			re.record[col] = v
		}
	}
	fillMissing(re.activity, re.record)
}

// matchesEvent decides whether a resource belongs to an event by comparing
// every identity key both sides know. A resource that shares no identity key
// with the event applies to all of the marketplace's events in the
// transaction.
func matchesEvent(act *schema.Activity, partial map[string]string) bool {
	pairs := []struct {
		resource string
		event    *string
	}{
		{partialTokenID(partial), act.TokenDataID},
		{partialCollectionID(partial), act.CollectionID},
		{partial[registry.ColListingID], act.ListingID},
		{partial[registry.ColOfferID], act.OfferID},
		{partial[registry.ColCollectionOfferID], act.CollectionOfferID},
	}

	shared := false
	for _, p := range pairs {
		if p.resource == "" || p.event == nil {
			continue
		}
		shared = true
		if p.resource == *p.event {
			return true
		}
	}
	return !shared
}

func partialTokenID(partial map[string]string) string {
	switch {
	case partial[registry.ColTokenInner] != "":
		return domain.StandardizeAddress(partial[registry.ColTokenInner])
	case partial[registry.ColTokenDataID] != "":
		return domain.StandardizeAddress(partial[registry.ColTokenDataID])
	case partial[registry.ColCreatorAddress] != "" &&
		partial[registry.ColCollectionName] != "" &&
		partial[registry.ColTokenName] != "":
		return domain.TokenDataIDV1(
			partial[registry.ColCreatorAddress],
			partial[registry.ColCollectionName],
			partial[registry.ColTokenName])
	}
	return ""
}

func partialCollectionID(partial map[string]string) string {
	switch {
	case partial[registry.ColCollectionInner] != "":
		return domain.StandardizeAddress(partial[registry.ColCollectionInner])
	case partial[registry.ColCollectionID] != "":
		return domain.StandardizeAddress(partial[registry.ColCollectionID])
	case partial[registry.ColCreatorAddress] != "" && partial[registry.ColCollectionName] != "":
		return domain.CollectionIDV1(
			partial[registry.ColCreatorAddress],
			partial[registry.ColCollectionName])
	}
	return ""
}

// fillMissing sets activity fields the event extraction left empty, running
// the same identity resolution as the event path.
func fillMissing(act *schema.Activity, rec map[string]string) {
	if act.CreatorAddress == nil && rec[registry.ColCreatorAddress] != "" {
		a := domain.StandardizeAddress(rec[registry.ColCreatorAddress])
		act.CreatorAddress = &a
	}
	if act.TokenName == nil && rec[registry.ColTokenName] != "" {
		n := domain.TruncateName(rec[registry.ColTokenName], domain.MaxTokenNameLength)
		act.TokenName = &n
	}
	if act.CollectionName == nil && rec[registry.ColCollectionName] != "" {
		v := rec[registry.ColCollectionName]
		act.CollectionName = &v
	}

	if act.TokenDataID == nil {
		switch {
		case rec[registry.ColTokenInner] != "":
			id := domain.StandardizeAddress(rec[registry.ColTokenInner])
			act.TokenDataID = &id
			setStandard(act, domain.TokenStandardV2)
		case rec[registry.ColTokenDataID] != "":
			id := domain.StandardizeAddress(rec[registry.ColTokenDataID])
			act.TokenDataID = &id
		case act.CreatorAddress != nil && act.CollectionName != nil && act.TokenName != nil:
			id := domain.TokenDataIDV1(*act.CreatorAddress, *act.CollectionName, *act.TokenName)
			act.TokenDataID = &id
			setStandard(act, domain.TokenStandardV1)
		}
	}
	if act.CollectionID == nil {
		switch {
		case rec[registry.ColCollectionInner] != "":
			id := domain.StandardizeAddress(rec[registry.ColCollectionInner])
			act.CollectionID = &id
			setStandard(act, domain.TokenStandardV2)
		case rec[registry.ColCollectionID] != "":
			id := domain.StandardizeAddress(rec[registry.ColCollectionID])
			act.CollectionID = &id
		case act.CreatorAddress != nil && act.CollectionName != nil:
			id := domain.CollectionIDV1(*act.CreatorAddress, *act.CollectionName)
			act.CollectionID = &id
			setStandard(act, domain.TokenStandardV1)
		}
	}

	if act.Buyer == nil && rec[registry.ColBuyer] != "" {
		b := domain.StandardizeAddress(rec[registry.ColBuyer])
		act.Buyer = &b
	}
	if act.Seller == nil && rec[registry.ColSeller] != "" {
		s := domain.StandardizeAddress(rec[registry.ColSeller])
		act.Seller = &s
	}
	if act.ListingID == nil && rec[registry.ColListingID] != "" {
		v := rec[registry.ColListingID]
		act.ListingID = &v
	}
	if act.OfferID == nil && rec[registry.ColOfferID] != "" {
		v := rec[registry.ColOfferID]
		act.OfferID = &v
	}
	if act.CollectionOfferID == nil && rec[registry.ColCollectionOfferID] != "" {
		v := rec[registry.ColCollectionOfferID]
		act.CollectionOfferID = &v
	}
	if act.ExpirationTime == nil && rec[registry.ColDeadline] != "" {
		if t, ok := parseDeadline(rec[registry.ColDeadline]); ok {
			act.ExpirationTime = &t
		}
	}
}

func setStandard(act *schema.Activity, std domain.TokenStandard) {
	if act.TokenStandard == nil {
		s := string(std)
		act.TokenStandard = &s
	}
}
