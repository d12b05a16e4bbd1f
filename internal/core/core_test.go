package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/types"
)

const loraWeights = "lora-weight-bytes"

// catalogServers fakes both catalogs: the community catalog knows the cute
// cartoon lora and serves its bytes, the hub returns nothing.
func catalogServers(t *testing.T) (hub, community *httptest.Server) {
	t.Helper()
	hub = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	t.Cleanup(hub.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"items":[{"id":101,"name":"Cute 3D Cartoon","type":"LORA",
			"creator":{"username":"artist42"},
			"modelVersions":[{"id":5551,"name":"v1.0",
				"files":[{"name":"Cute_3d_Cartoon_Flux.safetensors","sizeKB":%f}]}]}]}`,
			float64(len(loraWeights))/1024)
	})
	mux.HandleFunc("/api/download/models/5551", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loraWeights)
	})
	community = httptest.NewServer(mux)
	t.Cleanup(community.Close)
	return hub, community
}

func newTestCore(t *testing.T) (*Core, *config.Config) {
	t.Helper()
	hub, community := catalogServers(t)

	cfg := config.Default()
	cfg.Paths.ModelsRoot = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	cfg.CatalogH.BaseURL = hub.URL
	cfg.CatalogC.BaseURL = community.URL

	vaeDir := filepath.Join(cfg.Paths.ModelsRoot, "vae")
	require.NoError(t, os.MkdirAll(vaeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vaeDir, "ae.safetensors"), []byte("vae"), 0o644))

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, cfg
}

const testWorkflow = `{
  "nodes": [
    {"id": 1, "type": "VAELoader", "widgets_values": ["ae.safetensors"]},
    {"id": 2, "type": "SomeCustomSampler", "widgets_values": ["Cute_3d_Cartoon_Flux.safetensors"]}
  ]
}`

func TestAnalyzeClassifiesStyleLora(t *testing.T) {
	c, _ := newTestCore(t)

	refs, err := c.Analyze([]byte(testWorkflow))
	require.NoError(t, err)
	require.Len(t, refs, 2)

	byName := map[string]types.ArtifactRef{}
	for _, r := range refs {
		byName[r.Filename] = r
	}
	assert.Equal(t, types.KindVAE, byName["ae.safetensors"].Kind)
	// widget_scan says unknown; the filename heuristics say style lora.
	assert.Equal(t, types.KindLora, byName["Cute_3d_Cartoon_Flux.safetensors"].Kind)
}

func TestMatchShortCircuitsLocalFiles(t *testing.T) {
	c, _ := newTestCore(t)

	refs, err := c.Analyze([]byte(testWorkflow))
	require.NoError(t, err)
	matches, err := c.Match(refs)
	require.NoError(t, err)

	statuses := map[string]types.MatchStatus{}
	for _, m := range matches {
		statuses[m.Ref.Filename] = m.Status
	}
	assert.Equal(t, types.MatchPresent, statuses["ae.safetensors"])
	assert.Equal(t, types.MatchMissing, statuses["Cute_3d_Cartoon_Flux.safetensors"])
}

func TestResolveEndToEnd(t *testing.T) {
	c, cfg := newTestCore(t)

	res, err := c.Resolve(context.Background(), []byte(testWorkflow), true)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	require.Len(t, res.Candidates, 1)

	cand := res.Candidates[0]
	assert.Equal(t, "Cute_3d_Cartoon_Flux.safetensors", cand.Ref.Filename)
	assert.Equal(t, 5, cand.Rating)
	require.NotNil(t, cand.Recommended)
	assert.Equal(t, "civitai", cand.Recommended.Catalog)
	assert.Contains(t, cand.Recommended.DirectURL, "/api/download/models/5551")

	require.Len(t, res.TaskIDs, 1)
	target := filepath.Join(cfg.Paths.ModelsRoot, "loras", "Cute_3d_Cartoon_Flux.safetensors")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == loraWeights
	}, 10*time.Second, 25*time.Millisecond)
}

func TestResolveWithoutEnqueueLeavesQueueEmpty(t *testing.T) {
	c, _ := newTestCore(t)

	res, err := c.Resolve(context.Background(), []byte(testWorkflow), false)
	require.NoError(t, err)
	assert.Empty(t, res.TaskIDs)

	status := c.Downloads().Status()
	assert.Empty(t, status.Queued)
	assert.Empty(t, status.Active)
}

func TestResolveDoesNotDownloadPartialMatches(t *testing.T) {
	c, cfg := newTestCore(t)

	// A keyword-similar lora makes the cute cartoon reference a partial
	// match even though the community catalog has the exact file.
	loraDir := filepath.Join(cfg.Paths.ModelsRoot, "loras")
	require.NoError(t, os.MkdirAll(loraDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(loraDir, "cute_3d_cartoon.safetensors"), []byte("old"), 0o644))

	res, err := c.Resolve(context.Background(), []byte(testWorkflow), true)
	require.NoError(t, err)

	statuses := map[string]types.MatchStatus{}
	for _, m := range res.Matches {
		statuses[m.Ref.Filename] = m.Status
	}
	require.Equal(t, types.MatchPartial, statuses["Cute_3d_Cartoon_Flux.safetensors"])

	// The candidate is surfaced with its hits, but nothing is enqueued.
	require.Len(t, res.Candidates, 1)
	assert.NotEmpty(t, res.Candidates[0].Hits)
	assert.Empty(t, res.TaskIDs)

	status := c.Downloads().Status()
	assert.Empty(t, status.Queued)
	assert.Empty(t, status.Active)
	assert.Empty(t, status.History)
}

func TestPlanHonorsChoices(t *testing.T) {
	c, cfg := newTestCore(t)

	candidates := c.Search(context.Background(), []types.ArtifactRef{
		{Filename: "Cute_3d_Cartoon_Flux.safetensors", Kind: types.KindLora},
	})
	require.Len(t, candidates, 1)
	require.NotEmpty(t, candidates[0].Hits)

	ids, err := c.Plan(candidates, []int{SkipArtifact})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = c.Plan(candidates, []int{len(candidates[0].Hits)})
	require.Error(t, err)

	ids, err = c.Plan(candidates, []int{0})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	target := filepath.Join(cfg.Paths.ModelsRoot, "loras", "Cute_3d_Cartoon_Flux.safetensors")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == loraWeights
	}, 10*time.Second, 25*time.Millisecond)
}

func TestSearchAttachesAdapterErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	cfg := config.Default()
	cfg.Paths.ModelsRoot = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	cfg.CatalogH.BaseURL = failing.URL
	cfg.CatalogC.BaseURL = failing.URL

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	got := c.Search(context.Background(), []types.ArtifactRef{
		{Filename: "missing_thing.safetensors", Kind: types.KindCheckpoint},
	})
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Rating)
	assert.NotEmpty(t, got[0].Err)
	assert.NotEmpty(t, got[0].Suggestions)
}
