package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/mdr/internal/types"
)

// tomlConfig mirrors Config with TOML tags and second-valued durations.
// Zero values mean "keep the default".
type tomlConfig struct {
	Paths struct {
		ModelsRoot string `toml:"models_root"`
		CacheDir   string `toml:"cache_dir"`
	} `toml:"paths"`
	Subdirs  map[string]string `toml:"subdirs"`
	CatalogH struct {
		BaseURL string `toml:"base_url"`
		Token   string `toml:"token"`
	} `toml:"catalog_h"`
	CatalogC struct {
		BaseURL string `toml:"base_url"`
		APIKey  string `toml:"api_key"`
	} `toml:"catalog_c"`
	Search struct {
		Concurrency int `toml:"concurrency"`
		TimeoutS    int `toml:"timeout_s"`
	} `toml:"search"`
	Download struct {
		Concurrency     int   `toml:"concurrency"`
		Retries         int   `toml:"retries"`
		ChunkBytes      int64 `toml:"chunk_bytes"`
		PerTaskTimeoutS int   `toml:"per_task_timeout_s"`
		HistorySize     int   `toml:"history_size"`
	} `toml:"download"`
	Cache struct {
		SearchTTLS    int `toml:"search_ttl_s"`
		InventoryTTLS int `toml:"inventory_ttl_s"`
	} `toml:"cache"`
	Router struct {
		CuratedAuthors   []string `toml:"curated_authors"`
		OfficialPrefixes []string `toml:"official_prefixes"`
	} `toml:"router"`
	Matching struct {
		FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	} `toml:"matching"`
	Inventory struct {
		Exclude []string `toml:"exclude"`
		Watch   *bool    `toml:"watch"`
	} `toml:"inventory"`
}

// LoadTOML loads configuration from mdr.toml in dir. A missing file is not
// an error; it returns (nil, nil).
func LoadTOML(dir string) (*Config, error) {
	path := filepath.Join(dir, "mdr.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mdr.toml: %v", err)
	}

	var tc tomlConfig
	if err := toml.Unmarshal(content, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse mdr.toml: %w", err)
	}

	cfg := Default()
	if tc.Paths.ModelsRoot != "" {
		cfg.Paths.ModelsRoot = resolvePath(dir, tc.Paths.ModelsRoot)
	}
	if tc.Paths.CacheDir != "" {
		cfg.Paths.CacheDir = resolvePath(dir, tc.Paths.CacheDir)
	}
	for kind, sub := range tc.Subdirs {
		cfg.Subdirs[types.Kind(kind)] = sub
	}
	if tc.CatalogH.BaseURL != "" {
		cfg.CatalogH.BaseURL = tc.CatalogH.BaseURL
	}
	if tc.CatalogH.Token != "" {
		cfg.CatalogH.Token = tc.CatalogH.Token
	}
	if tc.CatalogC.BaseURL != "" {
		cfg.CatalogC.BaseURL = tc.CatalogC.BaseURL
	}
	if tc.CatalogC.APIKey != "" {
		cfg.CatalogC.APIKey = tc.CatalogC.APIKey
	}
	if tc.Search.Concurrency > 0 {
		cfg.Search.Concurrency = tc.Search.Concurrency
	}
	if tc.Search.TimeoutS > 0 {
		cfg.Search.Timeout = time.Duration(tc.Search.TimeoutS) * time.Second
	}
	if tc.Download.Concurrency > 0 {
		cfg.Download.Concurrency = tc.Download.Concurrency
	}
	if tc.Download.Retries > 0 {
		cfg.Download.Retries = tc.Download.Retries
	}
	if tc.Download.ChunkBytes > 0 {
		cfg.Download.ChunkBytes = tc.Download.ChunkBytes
	}
	if tc.Download.PerTaskTimeoutS > 0 {
		cfg.Download.PerTaskTimeout = time.Duration(tc.Download.PerTaskTimeoutS) * time.Second
	}
	if tc.Download.HistorySize > 0 {
		cfg.Download.HistorySize = tc.Download.HistorySize
	}
	if tc.Cache.SearchTTLS > 0 {
		cfg.Cache.SearchTTL = time.Duration(tc.Cache.SearchTTLS) * time.Second
	}
	if tc.Cache.InventoryTTLS > 0 {
		cfg.Cache.InventoryTTL = time.Duration(tc.Cache.InventoryTTLS) * time.Second
	}
	if len(tc.Router.CuratedAuthors) > 0 {
		cfg.Router.CuratedAuthors = tc.Router.CuratedAuthors
	}
	if len(tc.Router.OfficialPrefixes) > 0 {
		cfg.Router.OfficialPrefixes = tc.Router.OfficialPrefixes
	}
	if tc.Matching.FuzzyThreshold > 0 {
		cfg.Matching.FuzzyThreshold = tc.Matching.FuzzyThreshold
	}
	if len(tc.Inventory.Exclude) > 0 {
		cfg.Inventory.Exclude = tc.Inventory.Exclude
	}
	if tc.Inventory.Watch != nil {
		cfg.Inventory.Watch = *tc.Inventory.Watch
	}
	return cfg, nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(dir, p))
}
