package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/standardbeagle/mdr/internal/types"
)

// DefaultCuratedAuthors are repository namespaces known for trustworthy
// quantized community builds; their hits earn a rating bonus. Explicit
// defaults, overridable per project.
var DefaultCuratedAuthors = []string{"city96", "Kijai"}

// DefaultOfficialPrefixes mark checkpoints distributed through the hub
// rather than the community catalog.
var DefaultOfficialPrefixes = []string{
	"flux1-dev",
	"flux1-schnell",
	"sdxl-base",
	"sd_xl_base",
	"stable-diffusion-",
}

// DefaultSubdirs maps artifact kinds to their directory under the models
// root.
var DefaultSubdirs = map[types.Kind]string{
	types.KindCheckpoint:   "checkpoints",
	types.KindLora:         "loras",
	types.KindVAE:          "vae",
	types.KindCLIP:         "clip",
	types.KindUNet:         "unet",
	types.KindControlNet:   "controlnet",
	types.KindUpscale:      "upscale_models",
	types.KindEmbeddings:   "embeddings",
	types.KindCLIPVision:   "clip_vision",
	types.KindTextEncoder:  "text_encoders",
	types.KindReactor:      "reactor",
	types.KindHypernetwork: "hypernetworks",
}

type Config struct {
	Paths     Paths
	Subdirs   map[types.Kind]string
	CatalogH  CatalogH
	CatalogC  CatalogC
	Search    Search
	Download  Download
	Cache     Cache
	Router    Router
	Matching  Matching
	Inventory Inventory
}

type Paths struct {
	ModelsRoot string
	CacheDir   string
}

// CatalogH is the HuggingFace-style hub endpoint.
type CatalogH struct {
	BaseURL string
	Token   string
}

// CatalogC is the Civitai-style community catalog endpoint.
type CatalogC struct {
	BaseURL string
	APIKey  string
}

type Search struct {
	Concurrency int           // adapter-call gate
	Timeout     time.Duration // per-request deadline
}

type Download struct {
	Concurrency    int
	Retries        int
	ChunkBytes     int64
	PerTaskTimeout time.Duration
	HistorySize    int
}

type Cache struct {
	SearchTTL    time.Duration
	InventoryTTL time.Duration
}

type Router struct {
	CuratedAuthors   []string
	OfficialPrefixes []string
}

type Matching struct {
	FuzzyThreshold float64
}

type Inventory struct {
	Exclude []string // doublestar patterns relative to the models root
	Watch   bool     // invalidate the inventory cache on filesystem events
}

// Default returns the stock configuration rooted at the current directory.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	home, err := os.UserHomeDir()
	cacheDir := filepath.Join(cwd, ".mdr-cache")
	if err == nil {
		cacheDir = filepath.Join(home, ".cache", "mdr")
	}

	subdirs := make(map[types.Kind]string, len(DefaultSubdirs))
	for k, v := range DefaultSubdirs {
		subdirs[k] = v
	}

	return &Config{
		Paths: Paths{
			ModelsRoot: filepath.Join(cwd, "models"),
			CacheDir:   cacheDir,
		},
		Subdirs: subdirs,
		CatalogH: CatalogH{
			BaseURL: "https://huggingface.co",
		},
		CatalogC: CatalogC{
			BaseURL: "https://civitai.com",
		},
		Search: Search{
			Concurrency: 5,
			Timeout:     30 * time.Second,
		},
		Download: Download{
			Concurrency:    3,
			Retries:        3,
			ChunkBytes:     4 * 1024 * 1024,
			PerTaskTimeout: time.Hour,
			HistorySize:    100,
		},
		Cache: Cache{
			SearchTTL:    168 * time.Hour,
			InventoryTTL: 24 * time.Hour,
		},
		Router: Router{
			CuratedAuthors:   append([]string(nil), DefaultCuratedAuthors...),
			OfficialPrefixes: append([]string(nil), DefaultOfficialPrefixes...),
		},
		Matching: Matching{
			FuzzyThreshold: 0.7,
		},
		Inventory: Inventory{
			Exclude: []string{
				"**/.git/**",
				"**/.cache/**",
				"**/tmp/**",
				"**/*.part",
			},
			Watch: true,
		},
	}
}

// SubdirFor resolves the models-root subdirectory for a kind. Unknown kinds
// land in checkpoints, the broadest bucket.
func (c *Config) SubdirFor(kind types.Kind) string {
	if dir, ok := c.Subdirs[kind]; ok {
		return dir
	}
	return c.Subdirs[types.KindCheckpoint]
}

// TargetPath is models_root/subdirs[kind]/filename.
func (c *Config) TargetPath(kind types.Kind, filename string) string {
	return filepath.Join(c.Paths.ModelsRoot, c.SubdirFor(kind), filename)
}

// Load reads configuration from dir: .mdr.kdl wins, mdr.toml is the
// alternative, defaults otherwise.
func Load(dir string) (*Config, error) {
	if cfg, err := LoadKDL(dir); err != nil {
		return nil, err
	} else if cfg != nil {
		return cfg, nil
	}
	if cfg, err := LoadTOML(dir); err != nil {
		return nil, err
	} else if cfg != nil {
		return cfg, nil
	}
	return Default(), nil
}
