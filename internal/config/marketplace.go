package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
)

// Source names where an extraction rule reads its value from
type Source string

const (
	// SourceEvents extracts from the event payload
	SourceEvents Source = "events"
	// SourceWriteSet extracts from matching write-set resource payloads
	SourceWriteSet Source = "write_set_changes"
)

// ExtractRule maps one canonical column to a path within a payload
type ExtractRule struct {
	Path   string `mapstructure:"path"`
	Source Source `mapstructure:"source"`
	// ResourceType restricts write-set rules to one resource type (required
	// when Source is write_set_changes)
	ResourceType string `mapstructure:"resource_type"`
	// EventType restricts the rule to one raw event type; empty applies to all
	EventType string `mapstructure:"event_type"`
}

// TableConfig holds the column extraction rules for one target table
type TableConfig struct {
	Columns map[string]ExtractRule `mapstructure:"columns"`
}

// EventTypeConfig binds the three actions of one category to raw on-chain
// event types. Cancel and Fill may be empty for marketplaces that never emit
// them.
type EventTypeConfig struct {
	Type   domain.Category `mapstructure:"type"`
	Place  string          `mapstructure:"place"`
	Cancel string          `mapstructure:"cancel"`
	Fill   string          `mapstructure:"fill"`
}

// MarketplaceConfig is one declarative marketplace definition document
type MarketplaceConfig struct {
	Name       string                 `mapstructure:"name"`
	EventTypes []EventTypeConfig      `mapstructure:"event_types"`
	Tables     map[string]TableConfig `mapstructure:"tables"`
}

// LoadMarketplaceConfigs loads every YAML document in dir, one marketplace
// per file. Structural problems (unreadable file, duplicate marketplace
// name, missing name) are errors; semantic validation happens when the
// registry compiles the documents.
func LoadMarketplaceConfigs(dir string) ([]MarketplaceConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read marketplace config dir: %w", err)
	}

	var configs []MarketplaceConfig
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		mc, err := loadMarketplaceConfig(path)
		if err != nil {
			return nil, err
		}

		if prev, ok := seen[mc.Name]; ok {
			return nil, fmt.Errorf("%w: marketplace %q defined in both %s and %s",
				domain.ErrInvalidConfig, mc.Name, prev, path)
		}
		seen[mc.Name] = path
		configs = append(configs, *mc)
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no marketplace configs found in %s", domain.ErrInvalidConfig, dir)
	}

	return configs, nil
}

func loadMarketplaceConfig(path string) (*MarketplaceConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read marketplace config %s: %w", path, err)
	}

	var mc MarketplaceConfig
	if err := v.Unmarshal(&mc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal marketplace config %s: %w", path, err)
	}

	if mc.Name == "" {
		return nil, fmt.Errorf("%w: %s has no marketplace name", domain.ErrInvalidConfig, path)
	}
	if len(mc.EventTypes) == 0 {
		return nil, fmt.Errorf("%w: marketplace %q declares no event types", domain.ErrInvalidConfig, mc.Name)
	}

	return &mc, nil
}
