package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mdr/internal/cache"
	"github.com/standardbeagle/mdr/internal/config"
	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/types"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ModelsRoot = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	return cfg
}

const hfListing = `[
  {
    "modelId": "city96/FLUX.1-dev-gguf",
    "author": "city96",
    "siblings": [
      {"rfilename": "flux1-dev-Q4_0.gguf", "size": 6900000000},
      {"rfilename": "flux1-dev-Q8_0.gguf", "size": 12800000000},
      {"rfilename": "README.md", "size": 1024}
    ]
  },
  {
    "modelId": "someone/flux-experiments",
    "author": "someone",
    "siblings": [
      {"rfilename": "flux1_dev_q4_merged.gguf", "size": 7000000000}
    ]
  }
]`

func TestHuggingFaceExactMatch(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/api/models", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("full"))
		fmt.Fprint(w, hfListing)
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.CatalogH.BaseURL = srv.URL
	adapter := newHuggingFace(cfg, newClient(cfg, nil))

	ref := types.ArtifactRef{Filename: "flux1-dev-Q4_0.gguf", Kind: types.KindUNet}
	hits, err := adapter.Search(context.Background(), ref, []string{"flux1-dev-gguf"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	hit := hits[0]
	assert.Equal(t, types.ConfidenceExact, hit.Confidence)
	assert.Equal(t, "city96/FLUX.1-dev-gguf", hit.Repository)
	assert.Equal(t, srv.URL+"/city96/FLUX.1-dev-gguf/resolve/main/flux1-dev-Q4_0.gguf", hit.DirectURL)
	assert.Equal(t, int64(6900000000), hit.SizeBytes)
}

func TestHuggingFaceBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.CatalogH.BaseURL = srv.URL
	cfg.CatalogH.Token = "hf_secret"
	adapter := newHuggingFace(cfg, newClient(cfg, nil))

	_, err := adapter.Search(context.Background(), types.ArtifactRef{Filename: "x.safetensors"}, []string{"x"})
	require.NoError(t, err)
}

func TestHuggingFaceErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   mdrerrors.ErrorType
	}{
		{http.StatusUnauthorized, mdrerrors.ErrorTypeAuthRequired},
		{http.StatusTooManyRequests, mdrerrors.ErrorTypeTransient},
		{http.StatusInternalServerError, mdrerrors.ErrorTypeTransient},
		{http.StatusBadRequest, mdrerrors.ErrorTypePermanent},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			cfg := newTestConfig(t)
			cfg.CatalogH.BaseURL = srv.URL
			adapter := newHuggingFace(cfg, newClient(cfg, nil))

			_, err := adapter.Search(context.Background(), types.ArtifactRef{Filename: "x.safetensors"}, []string{"x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, mdrerrors.TypeOf(err))
		})
	}
}

func TestHuggingFaceCacheShortCircuits(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, hfListing)
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.CatalogH.BaseURL = srv.URL
	store, err := cache.Open(cfg.Paths.CacheDir)
	require.NoError(t, err)
	adapter := newHuggingFace(cfg, newClient(cfg, store))

	ref := types.ArtifactRef{Filename: "flux1-dev-Q4_0.gguf", Kind: types.KindUNet}
	first, err := adapter.Search(context.Background(), ref, []string{"flux1-dev-gguf"})
	require.NoError(t, err)
	second, err := adapter.Search(context.Background(), ref, []string{"flux1-dev-gguf"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, first, second)
}

const civitaiListing = `{
  "items": [
    {
      "id": 101,
      "name": "Cute 3D Cartoon",
      "type": "LORA",
      "creator": {"username": "artist42"},
      "modelVersions": [
        {
          "id": 5551,
          "name": "v1.0",
          "files": [
            {"name": "Cute_3d_Cartoon_Flux.safetensors", "sizeKB": 163840}
          ]
        }
      ]
    }
  ]
}`

func TestCivitaiLoraSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/models", r.URL.Path)
		assert.Equal(t, "LORA", r.URL.Query().Get("types"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		fmt.Fprint(w, civitaiListing)
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.CatalogC.BaseURL = srv.URL
	adapter := newCivitai(cfg, newClient(cfg, nil))

	ref := types.ArtifactRef{Filename: "Cute_3d_Cartoon_Flux.safetensors", Kind: types.KindLora}
	hits, err := adapter.Search(context.Background(), ref, []string{"Cute_3d_Cartoon_Flux"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hit := hits[0]
	assert.Equal(t, types.ConfidenceExact, hit.Confidence)
	assert.Equal(t, srv.URL+"/api/download/models/5551", hit.DirectURL)
	assert.Equal(t, int64(163840*1024), hit.SizeBytes)
	assert.Equal(t, types.KindLora, hit.KindHint)
}

func TestCivitaiSkipsRepoScopedQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("repo-scoped query must not reach the community catalog")
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	cfg.CatalogC.BaseURL = srv.URL
	adapter := newCivitai(cfg, newClient(cfg, nil))

	hits, err := adapter.Search(context.Background(),
		types.ArtifactRef{Filename: "flux1-dev-Q4_0.gguf", Kind: types.KindUNet},
		[]string{"city96/FLUX.1-dev-gguf"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBestVariantPrefersSmallerOnTie(t *testing.T) {
	version := civitaiVersion{
		ID: 1,
		Files: []struct {
			Name   string  `json:"name"`
			SizeKB float64 `json:"sizeKB"`
		}{
			{Name: "model-fp16.safetensors", SizeKB: 4000},
			{Name: "model-fp32.safetensors", SizeKB: 8000},
		},
	}
	// Both variants reduce to the same keywords; the smaller file wins.
	name, size, _, ok := bestVariant("model.safetensors", []string{"model"}, version)
	require.True(t, ok)
	assert.Equal(t, "model-fp16.safetensors", name)
	assert.Equal(t, int64(4000*1024), size)
}

func TestRegistryHasBothAdapters(t *testing.T) {
	cfg := newTestConfig(t)
	r := NewRegistry(cfg, nil)

	for _, id := range []string{"huggingface", "civitai"} {
		a, ok := r.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, id, a.ID())
	}
}
