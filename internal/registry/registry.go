// Package registry compiles declarative marketplace config documents into an
// immutable lookup index. Compilation front-loads every validation so that a
// bad document stops the processor at startup instead of corrupting rows at
// runtime.
package registry

import (
	"fmt"
	"sort"

	"github.com/movestream/nft-marketplace-indexer/internal/config"
	"github.com/movestream/nft-marketplace-indexer/internal/domain"
	"github.com/movestream/nft-marketplace-indexer/internal/extract"
)

// Target table names accepted in config documents
const (
	TableActivities       = "nft_marketplace_activities"
	TableListings         = "current_nft_marketplace_listings"
	TableTokenOffers      = "current_nft_marketplace_token_offers"
	TableCollectionOffers = "current_nft_marketplace_collection_offers"
)

// Canonical destination columns accepted in config documents
const (
	ColCreatorAddress    = "creator_address"
	ColCollectionID      = "collection_id"
	ColCollectionName    = "collection_name"
	ColTokenDataID       = "token_data_id"
	ColTokenName         = "token_name"
	ColTokenInner        = "token_inner"
	ColCollectionInner   = "collection_inner"
	ColPrice             = "price"
	ColTokenAmount       = "token_amount"
	ColBuyer             = "buyer"
	ColSeller            = "seller"
	ColDeadline          = "deadline"
	ColListingID         = "listing_id"
	ColOfferID           = "offer_id"
	ColCollectionOfferID = "collection_offer_id"
)

var canonicalColumns = map[string]struct{}{
	ColCreatorAddress:    {},
	ColCollectionID:      {},
	ColCollectionName:    {},
	ColTokenDataID:       {},
	ColTokenName:         {},
	ColTokenInner:        {},
	ColCollectionInner:   {},
	ColPrice:             {},
	ColTokenAmount:       {},
	ColBuyer:             {},
	ColSeller:            {},
	ColDeadline:          {},
	ColListingID:         {},
	ColOfferID:           {},
	ColCollectionOfferID: {},
}

var currentTables = map[string]struct{}{
	TableListings:         {},
	TableTokenOffers:      {},
	TableCollectionOffers: {},
}

// Rule is a compiled extraction rule bound to one canonical column
type Rule struct {
	Column       string
	Path         *extract.Path
	Source       config.Source
	ResourceType string
	// eventType restricts event-sourced rules to one raw type; empty matches all
	eventType string
}

// AppliesTo reports whether the rule fires for the given raw event type
func (r *Rule) AppliesTo(rawType string) bool {
	return r.eventType == "" || r.eventType == rawType
}

// EventSemantics is everything the remapper needs to know about one raw
// on-chain event type.
type EventSemantics struct {
	Marketplace     string
	ContractAddress string
	RawType         string
	Category        domain.Category
	Action          domain.Action
	Standard        domain.StandardEventType
	// EventRules are the event-sourced activity rules, in stable column order
	EventRules []Rule
	// Overrides holds per-current-table column rules that replace the
	// inherited activity mapping, keyed by table name
	Overrides map[string][]Rule
}

// ResourceRules groups the write-set extraction rules of one marketplace by
// resource type.
type ResourceRules struct {
	Marketplace  string
	ResourceType string
	Rules        []Rule
}

// Registry is the compiled, immutable marketplace config index
type Registry struct {
	byRawType map[string]*EventSemantics
	resources map[string][]ResourceRules
	names     []string
}

// Compile validates and indexes a set of marketplace config documents.
// Any violation wraps domain.ErrInvalidConfig.
func Compile(configs []config.MarketplaceConfig) (*Registry, error) {
	r := &Registry{
		byRawType: make(map[string]*EventSemantics),
		resources: make(map[string][]ResourceRules),
	}

	for _, mc := range configs {
		if err := r.compileMarketplace(mc); err != nil {
			return nil, err
		}
		r.names = append(r.names, mc.Name)
	}
	sort.Strings(r.names)

	return r, nil
}

// Lookup resolves a raw on-chain event type. Raw types embed their contract
// address, so a single map keyed by the full type string gives constant-time
// dispatch across all marketplaces.
func (r *Registry) Lookup(rawType string) (*EventSemantics, bool) {
	sem, ok := r.byRawType[rawType]
	return sem, ok
}

// ResourceRules returns the write-set rules of one marketplace
func (r *Registry) ResourceRules(marketplace string) []ResourceRules {
	return r.resources[marketplace]
}

// Marketplaces returns the sorted names of all compiled marketplaces
func (r *Registry) Marketplaces() []string {
	return r.names
}

func (r *Registry) compileMarketplace(mc config.MarketplaceConfig) error {
	activities, ok := mc.Tables[TableActivities]
	if !ok {
		return fmt.Errorf("%w: marketplace %q missing %s table config",
			domain.ErrInvalidConfig, mc.Name, TableActivities)
	}

	for table := range mc.Tables {
		if table == TableActivities {
			continue
		}
		if _, ok := currentTables[table]; !ok {
			return fmt.Errorf("%w: marketplace %q references unknown table %q",
				domain.ErrInvalidConfig, mc.Name, table)
		}
	}

	eventRules, resourceRules, err := compileColumns(mc.Name, TableActivities, activities.Columns)
	if err != nil {
		return err
	}

	overrides := make(map[string][]Rule)
	for table := range currentTables {
		tc, ok := mc.Tables[table]
		if !ok {
			continue
		}
		evRules, resRules, err := compileColumns(mc.Name, table, tc.Columns)
		if err != nil {
			return err
		}
		overrides[table] = evRules
		// Write-set overrides participate in resource matching like any
		// other write-set rule.
		resourceRules = append(resourceRules, resRules...)
	}

	for _, etc := range mc.EventTypes {
		if !etc.Type.Valid() {
			return fmt.Errorf("%w: marketplace %q has unknown event category %q",
				domain.ErrInvalidConfig, mc.Name, etc.Type)
		}
		if etc.Place == "" {
			return fmt.Errorf("%w: marketplace %q category %q has no place event type",
				domain.ErrInvalidConfig, mc.Name, etc.Type)
		}

		if err := validateIdentity(mc.Name, etc.Type, eventRules, resourceRules); err != nil {
			return err
		}

		for action, rawType := range map[domain.Action]string{
			domain.ActionPlace:  etc.Place,
			domain.ActionCancel: etc.Cancel,
			domain.ActionFill:   etc.Fill,
		} {
			if rawType == "" {
				continue
			}
			if _, dup := r.byRawType[rawType]; dup {
				return fmt.Errorf("%w: raw event type %q bound more than once",
					domain.ErrInvalidConfig, rawType)
			}
			r.byRawType[rawType] = &EventSemantics{
				Marketplace:     mc.Name,
				ContractAddress: domain.ContractAddressOf(rawType),
				RawType:         rawType,
				Category:        etc.Type,
				Action:          action,
				Standard:        domain.StandardEvent(etc.Type, action),
				EventRules:      eventRules,
				Overrides:       overrides,
			}
		}
	}

	r.resources[mc.Name] = groupByResourceType(mc.Name, resourceRules)
	return nil
}

// compileColumns splits a column block into event-sourced and write-set
// rules, compiling every path up front.
func compileColumns(marketplace, table string, columns map[string]config.ExtractRule) ([]Rule, []Rule, error) {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	var eventRules, resourceRules []Rule
	for _, name := range names {
		raw := columns[name]
		if _, ok := canonicalColumns[name]; !ok {
			return nil, nil, fmt.Errorf("%w: marketplace %q table %s has unknown column %q",
				domain.ErrInvalidConfig, marketplace, table, name)
		}

		path := raw.Path
		if path == "" {
			path = "$"
		}
		compiled, err := extract.Compile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: marketplace %q column %q: %v",
				domain.ErrInvalidConfig, marketplace, name, err)
		}

		rule := Rule{
			Column:       name,
			Path:         compiled,
			Source:       raw.Source,
			ResourceType: raw.ResourceType,
			eventType:    raw.EventType,
		}

		switch raw.Source {
		case config.SourceEvents, "":
			rule.Source = config.SourceEvents
			eventRules = append(eventRules, rule)
		case config.SourceWriteSet:
			if raw.ResourceType == "" {
				return nil, nil, fmt.Errorf("%w: marketplace %q column %q reads write_set_changes without resource_type",
					domain.ErrInvalidConfig, marketplace, name)
			}
			resourceRules = append(resourceRules, rule)
		default:
			return nil, nil, fmt.Errorf("%w: marketplace %q column %q has unknown source %q",
				domain.ErrInvalidConfig, marketplace, name, raw.Source)
		}
	}

	return eventRules, resourceRules, nil
}

// validateIdentity checks that a category can always produce an entity key
// from its configured columns.
func validateIdentity(marketplace string, category domain.Category, eventRules, resourceRules []Rule) error {
	has := func(col string) bool {
		for _, r := range eventRules {
			if r.Column == col {
				return true
			}
		}
		for _, r := range resourceRules {
			if r.Column == col {
				return true
			}
		}
		return false
	}

	tokenIdentity := has(ColTokenDataID) || has(ColTokenInner) ||
		(has(ColCreatorAddress) && has(ColCollectionName) && has(ColTokenName))
	collectionIdentity := has(ColCollectionID) || has(ColCollectionInner) ||
		(has(ColCreatorAddress) && has(ColCollectionName))

	var ok bool
	switch category {
	case domain.CategoryListing:
		ok = tokenIdentity || has(ColListingID)
	case domain.CategoryTokenOffer:
		ok = has(ColOfferID) || (tokenIdentity && has(ColBuyer))
	case domain.CategoryCollectionOffer:
		ok = has(ColCollectionOfferID) || (collectionIdentity && has(ColBuyer))
	}
	if !ok {
		return fmt.Errorf("%w: marketplace %q category %q has no identity columns",
			domain.ErrInvalidConfig, marketplace, category)
	}
	return nil
}

func groupByResourceType(marketplace string, rules []Rule) []ResourceRules {
	byType := make(map[string][]Rule)
	for _, rule := range rules {
		byType[rule.ResourceType] = append(byType[rule.ResourceType], rule)
	}

	types := make([]string, 0, len(byType))
	for rt := range byType {
		types = append(types, rt)
	}
	sort.Strings(types)

	grouped := make([]ResourceRules, 0, len(types))
	for _, rt := range types {
		grouped = append(grouped, ResourceRules{
			Marketplace:  marketplace,
			ResourceType: rt,
			Rules:        byType[rt],
		})
	}
	return grouped
}
