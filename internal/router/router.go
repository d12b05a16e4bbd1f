// Package router decides which catalogs to query for a given artifact, and
// in what order. Routing is a data-driven rule table evaluated top to
// bottom; the first matching rule wins, and a catch-all guarantees every
// artifact routes somewhere.
package router

import (
	"strings"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/types"
)

// Catalog identifiers. Adapters register under these names.
const (
	CatalogHuggingFace = "huggingface"
	CatalogCivitai     = "civitai"
)

// Rule routes artifacts matched by its predicate to Catalogs in order.
type Rule struct {
	Name     string
	Match    func(ref types.ArtifactRef, cfg *config.Config) bool
	Catalogs []string
}

// DefaultRules implements the routing policy:
//   - loras try the community catalog first, then the hub
//   - GGUF files and infrastructure kinds (unet, vae, clip, text encoders,
//     controlnet, upscalers, embeddings) live on the hub only
//   - checkpoints with an official release prefix go to the hub only
//   - everything else tries the hub first, community second
var DefaultRules = []Rule{
	{
		Name: "lora",
		Match: func(ref types.ArtifactRef, _ *config.Config) bool {
			return ref.Kind == types.KindLora
		},
		Catalogs: []string{CatalogCivitai, CatalogHuggingFace},
	},
	{
		Name: "gguf",
		Match: func(ref types.ArtifactRef, _ *config.Config) bool {
			return strings.HasSuffix(strings.ToLower(ref.Filename), ".gguf")
		},
		Catalogs: []string{CatalogHuggingFace},
	},
	{
		Name: "infrastructure",
		Match: func(ref types.ArtifactRef, _ *config.Config) bool {
			switch ref.Kind {
			case types.KindUNet, types.KindVAE, types.KindCLIP, types.KindTextEncoder,
				types.KindControlNet, types.KindUpscale, types.KindEmbeddings:
				return true
			}
			return false
		},
		Catalogs: []string{CatalogHuggingFace},
	},
	{
		Name: "official-checkpoint",
		Match: func(ref types.ArtifactRef, cfg *config.Config) bool {
			if ref.Kind != types.KindCheckpoint {
				return false
			}
			name := strings.ToLower(keywords.StripExtension(ref.Filename))
			for _, prefix := range cfg.Router.OfficialPrefixes {
				if strings.HasPrefix(name, strings.ToLower(prefix)) {
					return true
				}
			}
			return false
		},
		Catalogs: []string{CatalogHuggingFace},
	},
	{
		Name:     "default",
		Match:    func(types.ArtifactRef, *config.Config) bool { return true },
		Catalogs: []string{CatalogHuggingFace, CatalogCivitai},
	},
}

type Router struct {
	cfg   *config.Config
	rules []Rule
}

func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg, rules: DefaultRules}
}

// NewWithRules builds a router over a custom rule table. The table should end
// with a catch-all; Route falls back to the hub if nothing matches.
func NewWithRules(cfg *config.Config, rules []Rule) *Router {
	return &Router{cfg: cfg, rules: rules}
}

// Route returns the catalogs to query for ref, in priority order. The result
// is never empty.
func (r *Router) Route(ref types.ArtifactRef) []string {
	for _, rule := range r.rules {
		if rule.Match(ref, r.cfg) {
			out := make([]string, len(rule.Catalogs))
			copy(out, rule.Catalogs)
			return out
		}
	}
	return []string{CatalogHuggingFace}
}
