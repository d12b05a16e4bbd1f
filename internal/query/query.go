// Package query turns a model filename into an ordered list of catalog
// search strings. Several decomposers each contribute variants; the union
// keeps first-seen order so the most literal queries run first.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/router"
)

// sizeMarker matches download-size annotations some uploaders put in
// filenames ("flux-dev-11gb.safetensors"). They never help a catalog query.
var sizeMarker = regexp.MustCompile(`(?i)(^|[-_ .])\d+gb([-_ .]|$)`)

// seriesVersion captures a recognized model family occurrence.
type seriesVersion struct {
	family  string
	version string
}

var fluxVersions = []string{"dev", "schnell", "pro"}

// curatedRepoPattern maps a curated author to the naming scheme of their
// quantized GGUF repositories. Authors not in the routing config are skipped.
var curatedRepoPattern = map[string]string{
	"city96": "FLUX.1-%s-gguf",
	"Kijai":  "flux.1-%s-gguf",
}

type Synthesizer struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

// Queries emits the candidate search strings for filename, ordered most
// literal first. catalogID unlocks catalog-specific decomposers: repository
// hints only make sense on the hub.
func (s *Synthesizer) Queries(filename, catalogID string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			return
		}
		seen[q] = true
		out = append(out, q)
	}

	base := keywords.StripExtension(filename)
	isGGUF := strings.HasSuffix(strings.ToLower(filename), ".gguf")

	add(base)
	add(dropSizeMarkers(base))

	series := detectSeries(base)
	for _, sv := range series {
		switch sv.family {
		case "flux":
			canonical := "flux1-" + sv.version
			add(canonical)
			if isGGUF {
				add(canonical + "-gguf")
				add("FLUX.1-" + sv.version + "-gguf")
				add("flux.1-" + sv.version + "-gguf")
			}
		case "wan":
			add("Wan2.1")
		case "hunyuan":
			add("HunyuanDiT")
		}
	}

	if catalogID == router.CatalogHuggingFace && isGGUF {
		for _, sv := range series {
			if sv.family != "flux" {
				continue
			}
			for _, author := range s.cfg.Router.CuratedAuthors {
				pattern, ok := curatedRepoPattern[author]
				if !ok {
					continue
				}
				add(author + "/" + fmt.Sprintf(pattern, sv.version))
			}
		}
	}

	// Separator variants: queries written with dots or underscores also go
	// out dashed and spaced. Repo-scoped queries keep their exact casing
	// and punctuation.
	for _, q := range append([]string(nil), out...) {
		if strings.ContainsAny(q, "/") || !strings.ContainsAny(q, "._") {
			continue
		}
		dashed := strings.NewReplacer(".", "-", "_", "-").Replace(q)
		spaced := strings.NewReplacer(".", " ", "_", " ").Replace(q)
		add(dashed)
		add(spaced)
	}

	return out
}

func dropSizeMarkers(name string) string {
	cleaned := sizeMarker.ReplaceAllString(name, "$1")
	cleaned = strings.Trim(cleaned, "-_ .")
	return cleaned
}

// detectSeries scans name for known model-family prefixes. Variant spellings
// collapse to one canonical entry per family.
func detectSeries(name string) []seriesVersion {
	lower := strings.ToLower(name)
	var out []seriesVersion

	for _, variant := range []string{"flux1", "flux-1", "flux_1", "flux.1", "flux"} {
		if !strings.Contains(lower, variant) {
			continue
		}
		for _, version := range fluxVersions {
			if hasToken(lower, version) {
				out = append(out, seriesVersion{family: "flux", version: version})
				break
			}
		}
		break
	}
	for _, variant := range []string{"wan2.1", "wan2_1", "wan21", "wan2", "wan"} {
		if hasToken(lower, variant) {
			out = append(out, seriesVersion{family: "wan"})
			break
		}
	}
	for _, variant := range []string{"hunyuan", "hy"} {
		if hasToken(lower, variant) {
			out = append(out, seriesVersion{family: "hunyuan"})
			break
		}
	}
	return out
}

// hasToken reports whether tok appears in name bounded by separators. Short
// family aliases like "hy" would otherwise fire inside unrelated words.
func hasToken(name, tok string) bool {
	idx := 0
	for {
		i := strings.Index(name[idx:], tok)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(tok)
		beforeOK := start == 0 || isSep(name[start-1])
		afterOK := end == len(name) || isSep(name[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isSep(b byte) bool {
	return b == '-' || b == '_' || b == '.' || b == ' '
}
