package config

import (
	"net/url"

	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
)

// Validate rejects configuration the pipeline cannot run with. Failures are
// InvalidInput and abort the whole resolution.
func (c *Config) Validate() error {
	const op = "config.validate"

	if c.Paths.ModelsRoot == "" {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "paths.models_root is required")
	}
	if c.Paths.CacheDir == "" {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "paths.cache_dir is required")
	}
	if len(c.Subdirs) == 0 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "subdirs map is empty")
	}
	for kind, sub := range c.Subdirs {
		if sub == "" {
			return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "subdirs.%s is empty", kind)
		}
	}
	for _, endpoint := range []struct {
		name string
		raw  string
	}{
		{"catalog_h.base_url", c.CatalogH.BaseURL},
		{"catalog_c.base_url", c.CatalogC.BaseURL},
	} {
		u, err := url.Parse(endpoint.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "%s is not an absolute URL: %q", endpoint.name, endpoint.raw)
		}
	}
	if c.Search.Concurrency < 1 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "search.concurrency must be at least 1, got %d", c.Search.Concurrency)
	}
	if c.Search.Timeout <= 0 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "search.timeout_s must be positive")
	}
	if c.Download.Concurrency < 1 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "download.concurrency must be at least 1, got %d", c.Download.Concurrency)
	}
	if c.Download.Retries < 0 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "download.retries must not be negative, got %d", c.Download.Retries)
	}
	if c.Download.ChunkBytes < 1 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "download.chunk_bytes must be positive, got %d", c.Download.ChunkBytes)
	}
	if c.Download.HistorySize < 1 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "download.history_size must be at least 1, got %d", c.Download.HistorySize)
	}
	if c.Cache.SearchTTL <= 0 || c.Cache.InventoryTTL <= 0 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "cache TTLs must be positive")
	}
	if c.Matching.FuzzyThreshold < 0 || c.Matching.FuzzyThreshold > 1 {
		return mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "matching.fuzzy_threshold must be in [0,1], got %v", c.Matching.FuzzyThreshold)
	}
	return nil
}
