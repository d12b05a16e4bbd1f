package matcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/inventory"
	"github.com/standardbeagle/mdr/internal/types"
)

func setup(t *testing.T, files map[string]string) *Matcher {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ModelsRoot = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	for sub, name := range files {
		dir := filepath.Join(cfg.Paths.ModelsRoot, sub)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("w"), 0o644))
	}
	inv := inventory.New(cfg, nil)
	require.NoError(t, inv.Index())
	return New(cfg, inv)
}

func TestMatchExact(t *testing.T) {
	m := setup(t, map[string]string{"vae": "ae.safetensors"})

	res := m.Match(types.ArtifactRef{Filename: "ae.safetensors", Kind: types.KindVAE})
	assert.Equal(t, types.MatchPresent, res.Status)
	assert.Equal(t, 1.0, res.Score)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "ae.safetensors", res.Candidate.Filename)
}

func TestMatchPartial(t *testing.T) {
	m := setup(t, map[string]string{"checkpoints": "epicrealism_naturalSin.safetensors"})

	res := m.Match(types.ArtifactRef{Filename: "epicRealism_naturalSinRC1VAE.safetensors", Kind: types.KindCheckpoint})
	assert.Equal(t, types.MatchPartial, res.Status)
	assert.GreaterOrEqual(t, res.Score, 0.7)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "epicrealism_naturalSin.safetensors", res.Candidate.Filename)
}

func TestMatchMissing(t *testing.T) {
	m := setup(t, map[string]string{"checkpoints": "dreamshaper_8.safetensors"})

	res := m.Match(types.ArtifactRef{Filename: "juggernaut_xl_v9.safetensors", Kind: types.KindCheckpoint})
	assert.Equal(t, types.MatchMissing, res.Status)
	assert.Nil(t, res.Candidate)
}

func TestMissingIncludesPartials(t *testing.T) {
	results := []types.MatchResult{
		{Ref: types.ArtifactRef{Filename: "a"}, Status: types.MatchPresent},
		{Ref: types.ArtifactRef{Filename: "b"}, Status: types.MatchPartial},
		{Ref: types.ArtifactRef{Filename: "c"}, Status: types.MatchMissing},
	}
	missing := Missing(results)
	require.Len(t, missing, 2)
	assert.Equal(t, "b", missing[0].Filename)
	assert.Equal(t, "c", missing[1].Filename)
}

func TestMatchAllPreservesOrder(t *testing.T) {
	m := setup(t, map[string]string{"vae": "ae.safetensors"})

	refs := []types.ArtifactRef{
		{Filename: "missing.safetensors", Kind: types.KindLora},
		{Filename: "ae.safetensors", Kind: types.KindVAE},
	}
	results := m.MatchAll(refs)
	require.Len(t, results, 2)
	assert.Equal(t, types.MatchMissing, results[0].Status)
	assert.Equal(t, types.MatchPresent, results[1].Status)
}
