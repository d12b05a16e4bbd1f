package inventory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mdr/internal/cache"
	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ModelsRoot = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	return cfg
}

func writeModel(t *testing.T, root string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	return path
}

func TestIndexScansModelFiles(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Paths.ModelsRoot

	writeModel(t, root, "checkpoints", "sd_xl_base_1.0.safetensors")
	writeModel(t, root, "loras", "Cute_3d_Cartoon_Flux.safetensors")
	writeModel(t, root, "vae", "ae.safetensors")
	// Ignored: not a model extension.
	writeModel(t, root, "checkpoints", "notes.txt")
	// Ignored: excluded directory.
	writeModel(t, root, ".git", "objects.safetensors")

	inv := New(cfg, nil)
	require.NoError(t, inv.Index())

	models := inv.All()
	require.Len(t, models, 3)

	m, ok := inv.LookupExact("ae.safetensors")
	require.True(t, ok)
	assert.Equal(t, "vae", m.Subdirectory)
	assert.Equal(t, int64(len("weights")), m.SizeBytes)
	assert.NotEmpty(t, m.Keywords)
}

func TestLookupExactIsCaseInsensitive(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.Paths.ModelsRoot, "loras", "Cute_3d_Cartoon_Flux.safetensors")

	inv := New(cfg, nil)
	require.NoError(t, inv.Index())

	m, ok := inv.LookupExact("cute_3d_cartoon_flux.safetensors")
	require.True(t, ok)
	assert.Equal(t, "Cute_3d_Cartoon_Flux.safetensors", m.Filename)

	_, ok = inv.LookupExact("missing.safetensors")
	assert.False(t, ok)
}

func TestLookupFuzzyRestrictedToKindSubdir(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Paths.ModelsRoot
	writeModel(t, root, "checkpoints", "epicrealism_naturalSin.safetensors")
	writeModel(t, root, "loras", "epicrealism_style.safetensors")

	inv := New(cfg, nil)
	require.NoError(t, inv.Index())

	kws := keywords.Extract("epicRealism_naturalSinRC1VAE.safetensors")

	m, score, ok := inv.LookupFuzzy(kws, types.KindCheckpoint, cfg.Matching.FuzzyThreshold)
	require.True(t, ok)
	assert.Equal(t, "epicrealism_naturalSin.safetensors", m.Filename)
	assert.GreaterOrEqual(t, score, cfg.Matching.FuzzyThreshold)

	// The lora directory holds a weaker match; restricting to lora must not
	// return the checkpoint.
	m2, _, ok2 := inv.LookupFuzzy(kws, types.KindLora, cfg.Matching.FuzzyThreshold)
	if ok2 {
		assert.Equal(t, "epicrealism_style.safetensors", m2.Filename)
	}
}

func TestLookupFuzzyUnknownKindSearchesEverywhere(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.Paths.ModelsRoot, "upscale_models", "RealESRGAN_x4plus.pth")

	inv := New(cfg, nil)
	require.NoError(t, inv.Index())

	kws := keywords.Extract("RealESRGAN_x4plus.pth")
	m, score, ok := inv.LookupFuzzy(kws, types.KindUnknown, cfg.Matching.FuzzyThreshold)
	require.True(t, ok)
	assert.Equal(t, "RealESRGAN_x4plus.pth", m.Filename)
	assert.Equal(t, 1.0, score)
}

func TestLookupFuzzyBelowThreshold(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.Paths.ModelsRoot, "checkpoints", "dreamshaper_8.safetensors")

	inv := New(cfg, nil)
	require.NoError(t, inv.Index())

	_, _, ok := inv.LookupFuzzy(keywords.Extract("juggernaut_xl.safetensors"), types.KindCheckpoint, 0.7)
	assert.False(t, ok)
}

func TestIndexUsesCache(t *testing.T) {
	cfg := testConfig(t)
	writeModel(t, cfg.Paths.ModelsRoot, "vae", "ae.safetensors")

	store, err := cache.Open(cfg.Paths.CacheDir)
	require.NoError(t, err)

	inv := New(cfg, store)
	require.NoError(t, inv.Index())

	// Remove the file from disk; a cached index still reports it until the
	// cache is invalidated.
	require.NoError(t, os.Remove(filepath.Join(cfg.Paths.ModelsRoot, "vae", "ae.safetensors")))

	inv2 := New(cfg, store)
	require.NoError(t, inv2.Index())
	_, ok := inv2.LookupExact("ae.safetensors")
	assert.True(t, ok)

	require.NoError(t, store.Invalidate(cache.NamespaceInventory))
	inv3 := New(cfg, store)
	require.NoError(t, inv3.Index())
	_, ok = inv3.LookupExact("ae.safetensors")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Paths.ModelsRoot
	writeModel(t, root, "loras", "a.safetensors")
	writeModel(t, root, "loras", "b.safetensors")
	writeModel(t, root, "vae", "ae.safetensors")

	inv := New(cfg, nil)
	require.NoError(t, inv.Index())

	stats := inv.Stats()
	assert.Equal(t, 3, stats.TotalModels)
	assert.Equal(t, 2, stats.BySubdir["loras"].Count)
	assert.Equal(t, 1, stats.BySubdir["vae"].Count)
	assert.Equal(t, int64(3*len("weights")), stats.TotalBytes)
}

func TestWatcherInvalidatesOnNewModel(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Paths.ModelsRoot
	require.NoError(t, os.MkdirAll(filepath.Join(root, "loras"), 0o755))

	store, err := cache.Open(cfg.Paths.CacheDir)
	require.NoError(t, err)

	inv := New(cfg, store)
	require.NoError(t, inv.Index())

	w, err := NewWatcher(inv)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeModel(t, root, "loras", "fresh.safetensors")

	require.Eventually(t, func() bool {
		_, ok := inv.LookupExact("fresh.safetensors")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}
