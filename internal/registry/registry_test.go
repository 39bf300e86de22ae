package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movestream/nft-marketplace-indexer/internal/config"
	"github.com/movestream/nft-marketplace-indexer/internal/domain"
)

func validConfig() config.MarketplaceConfig {
	return config.MarketplaceConfig{
		Name: "topaz",
		EventTypes: []config.EventTypeConfig{
			{
				Type:   domain.CategoryListing,
				Place:  "0xabc::events::ListEvent",
				Cancel: "0xabc::events::DelistEvent",
				Fill:   "0xabc::events::BuyEvent",
			},
		},
		Tables: map[string]config.TableConfig{
			TableActivities: {Columns: map[string]config.ExtractRule{
				"token_data_id": {Path: "token_id"},
				"price":         {Path: "price"},
				"seller":        {Path: "seller"},
			}},
		},
	}
}

func TestCompileValidConfig(t *testing.T) {
	reg, err := Compile([]config.MarketplaceConfig{validConfig()})
	require.NoError(t, err)

	assert.Equal(t, []string{"topaz"}, reg.Marketplaces())

	sem, ok := reg.Lookup("0xabc::events::ListEvent")
	require.True(t, ok)
	assert.Equal(t, "topaz", sem.Marketplace)
	assert.Equal(t, domain.CategoryListing, sem.Category)
	assert.Equal(t, domain.ActionPlace, sem.Action)
	assert.Equal(t, domain.StandardEventPlaceListing, sem.Standard)
	assert.Equal(t, domain.StandardizeAddress("0xabc"), sem.ContractAddress)

	sem, ok = reg.Lookup("0xabc::events::BuyEvent")
	require.True(t, ok)
	assert.Equal(t, domain.ActionFill, sem.Action)
	assert.Equal(t, domain.StandardEventFillListing, sem.Standard)

	_, ok = reg.Lookup("0xabc::events::Unknown")
	assert.False(t, ok)
}

func TestCompileMissingActivitiesTable(t *testing.T) {
	mc := validConfig()
	delete(mc.Tables, TableActivities)

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileUnknownTable(t *testing.T) {
	mc := validConfig()
	mc.Tables["made_up_table"] = config.TableConfig{}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileUnknownColumn(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities].Columns["not_a_column"] = config.ExtractRule{Path: "x"}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileBadPath(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities].Columns["price"] = config.ExtractRule{Path: "a..b"}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileWriteSetRuleNeedsResourceType(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities].Columns["token_name"] = config.ExtractRule{
		Path:   "name",
		Source: config.SourceWriteSet,
	}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileUnknownSource(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities].Columns["price"] = config.ExtractRule{Path: "price", Source: "carrier_pigeon"}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileMissingPlaceEventType(t *testing.T) {
	mc := validConfig()
	mc.EventTypes[0].Place = ""

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileUnknownCategory(t *testing.T) {
	mc := validConfig()
	mc.EventTypes[0].Type = "auction"

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileDuplicateRawType(t *testing.T) {
	other := validConfig()
	other.Name = "souffl3"

	_, err := Compile([]config.MarketplaceConfig{validConfig(), other})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileMissingIdentityColumns(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities] = config.TableConfig{Columns: map[string]config.ExtractRule{
		"price": {Path: "price"},
	}}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompileIdentityMaySitInWriteSet(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities] = config.TableConfig{Columns: map[string]config.ExtractRule{
		"price": {Path: "price"},
		"token_data_id": {
			Path:         "id",
			Source:       config.SourceWriteSet,
			ResourceType: "0x4::token::Token",
		},
	}}

	_, err := Compile([]config.MarketplaceConfig{mc})
	require.NoError(t, err)
}

func TestCompileGroupsResourceRules(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities].Columns["token_name"] = config.ExtractRule{
		Path:         "name",
		Source:       config.SourceWriteSet,
		ResourceType: "0x4::token::Token",
	}
	mc.Tables[TableActivities].Columns["collection_name"] = config.ExtractRule{
		Path:         "collection",
		Source:       config.SourceWriteSet,
		ResourceType: "0x4::token::Token",
	}
	mc.Tables[TableActivities].Columns["deadline"] = config.ExtractRule{
		Path:         "expiry",
		Source:       config.SourceWriteSet,
		ResourceType: "0xabc::listing::Listing",
	}

	reg, err := Compile([]config.MarketplaceConfig{mc})
	require.NoError(t, err)

	groups := reg.ResourceRules("topaz")
	require.Len(t, groups, 2)
	// Groups come back sorted by resource type.
	assert.Equal(t, "0x4::token::Token", groups[0].ResourceType)
	assert.Len(t, groups[0].Rules, 2)
	assert.Equal(t, "0xabc::listing::Listing", groups[1].ResourceType)
	assert.Len(t, groups[1].Rules, 1)

	assert.Empty(t, reg.ResourceRules("unknown"))
}

func TestCompileEventTypeRestrictedRule(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableActivities].Columns["buyer"] = config.ExtractRule{
		Path:      "purchaser",
		EventType: "0xabc::events::BuyEvent",
	}

	reg, err := Compile([]config.MarketplaceConfig{mc})
	require.NoError(t, err)

	sem, ok := reg.Lookup("0xabc::events::BuyEvent")
	require.True(t, ok)

	var rule *Rule
	for i := range sem.EventRules {
		if sem.EventRules[i].Column == ColBuyer {
			rule = &sem.EventRules[i]
		}
	}
	require.NotNil(t, rule)
	assert.True(t, rule.AppliesTo("0xabc::events::BuyEvent"))
	assert.False(t, rule.AppliesTo("0xabc::events::ListEvent"))
}

func TestCompileCurrentTableOverrides(t *testing.T) {
	mc := validConfig()
	mc.Tables[TableListings] = config.TableConfig{Columns: map[string]config.ExtractRule{
		"price": {Path: "listing_price"},
	}}

	reg, err := Compile([]config.MarketplaceConfig{mc})
	require.NoError(t, err)

	sem, ok := reg.Lookup("0xabc::events::ListEvent")
	require.True(t, ok)
	require.Len(t, sem.Overrides[TableListings], 1)
	assert.Equal(t, ColPrice, sem.Overrides[TableListings][0].Column)
}
