package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/types"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Search.Concurrency)
	assert.Equal(t, 3, cfg.Download.Concurrency)
	assert.Equal(t, int64(4*1024*1024), cfg.Download.ChunkBytes)
	assert.Equal(t, 168*time.Hour, cfg.Cache.SearchTTL)
	assert.Equal(t, 0.7, cfg.Matching.FuzzyThreshold)
	assert.Equal(t, DefaultCuratedAuthors, cfg.Router.CuratedAuthors)
}

func TestTargetPath(t *testing.T) {
	cfg := Default()
	cfg.Paths.ModelsRoot = "/models"

	assert.Equal(t, filepath.Join("/models", "loras", "a.safetensors"),
		cfg.TargetPath(types.KindLora, "a.safetensors"))
	assert.Equal(t, filepath.Join("/models", "text_encoders", "t5.gguf"),
		cfg.TargetPath(types.KindTextEncoder, "t5.gguf"))
	// Unknown kinds land in the broadest bucket.
	assert.Equal(t, filepath.Join("/models", "checkpoints", "x.ckpt"),
		cfg.TargetPath(types.KindUnknown, "x.ckpt"))
}

func TestLoadKDL(t *testing.T) {
	dir := t.TempDir()
	content := `
paths {
    models_root "/srv/models"
    cache_dir "/srv/cache"
}
catalog_c {
    api_key "secret"
}
search {
    concurrency 2
    timeout_s 10
}
download {
    concurrency 1
    retries 5
}
router {
    curated_authors "city96" "Kijai" "calcuis"
}
matching {
    fuzzy_threshold 0.8
}
subdirs {
    lora "my_loras"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mdr.kdl"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/models", cfg.Paths.ModelsRoot)
	assert.Equal(t, "/srv/cache", cfg.Paths.CacheDir)
	assert.Equal(t, "secret", cfg.CatalogC.APIKey)
	assert.Equal(t, 2, cfg.Search.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 1, cfg.Download.Concurrency)
	assert.Equal(t, 5, cfg.Download.Retries)
	assert.Equal(t, []string{"city96", "Kijai", "calcuis"}, cfg.Router.CuratedAuthors)
	assert.Equal(t, 0.8, cfg.Matching.FuzzyThreshold)
	assert.Equal(t, "my_loras", cfg.Subdirs[types.KindLora])
	// Untouched keys keep their defaults.
	assert.Equal(t, "https://huggingface.co", cfg.CatalogH.BaseURL)
	assert.Equal(t, "vae", cfg.Subdirs[types.KindVAE])
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := `
[paths]
models_root = "/data/models"
cache_dir = "/data/cache"

[catalog_h]
token = "hf_token"

[download]
chunk_bytes = 1048576

[inventory]
exclude = ["**/.git/**"]
watch = false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mdr.toml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/models", cfg.Paths.ModelsRoot)
	assert.Equal(t, "hf_token", cfg.CatalogH.Token)
	assert.Equal(t, int64(1048576), cfg.Download.ChunkBytes)
	assert.Equal(t, []string{"**/.git/**"}, cfg.Inventory.Exclude)
	assert.False(t, cfg.Inventory.Watch)
}

func TestLoadMissingFilesFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Search, cfg.Search)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty models_root", func(c *Config) { c.Paths.ModelsRoot = "" }},
		{"empty cache_dir", func(c *Config) { c.Paths.CacheDir = "" }},
		{"relative catalog url", func(c *Config) { c.CatalogH.BaseURL = "huggingface.co" }},
		{"zero search concurrency", func(c *Config) { c.Search.Concurrency = 0 }},
		{"zero download concurrency", func(c *Config) { c.Download.Concurrency = 0 }},
		{"negative retries", func(c *Config) { c.Download.Retries = -1 }},
		{"zero chunk", func(c *Config) { c.Download.ChunkBytes = 0 }},
		{"threshold above one", func(c *Config) { c.Matching.FuzzyThreshold = 1.5 }},
		{"zero ttl", func(c *Config) { c.Cache.SearchTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, mdrerrors.IsType(err, mdrerrors.ErrorTypeInvalidInput))
		})
	}
}
