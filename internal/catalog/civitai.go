package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/router"
	"github.com/standardbeagle/mdr/internal/types"
)

const civitaiPageSize = 20

// civitaiTypes maps artifact kinds to the remote's type filter. Kinds not
// listed search unfiltered.
var civitaiTypes = map[types.Kind]string{
	types.KindLora:       "LORA",
	types.KindCheckpoint: "Checkpoint",
	types.KindControlNet: "Controlnet",
	types.KindVAE:        "VAE",
	types.KindUpscale:    "Upscaler",
}

type civitaiResponse struct {
	Items []civitaiModel `json:"items"`
}

type civitaiModel struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Creator struct {
		Username string `json:"username"`
	} `json:"creator"`
	ModelVersions []civitaiVersion `json:"modelVersions"`
}

type civitaiVersion struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Files []struct {
		Name   string  `json:"name"`
		SizeKB float64 `json:"sizeKB"`
	} `json:"files"`
}

// civitai searches a community catalog keyed by free text. Download URLs
// address the model version, not the file, so each version yields at most
// one hit built from its best-matching file variant.
type civitai struct {
	cfg    *config.Config
	client *client
}

func newCivitai(cfg *config.Config, c *client) *civitai {
	return &civitai{cfg: cfg, client: c}
}

func (cv *civitai) ID() string { return router.CatalogCivitai }

func (cv *civitai) Search(ctx context.Context, ref types.ArtifactRef, queries []string) ([]types.SearchHit, error) {
	const op = "catalog.civitai.search"

	var all []types.SearchHit
	for _, q := range queries {
		if strings.Contains(q, "/") {
			// Repository-scoped queries belong to the hub.
			continue
		}
		if err := ctx.Err(); err != nil {
			return all, ctxError(op, err)
		}
		if hits, ok := cv.client.cachedHits(cv.ID(), q); ok {
			all = append(all, hits...)
			continue
		}

		params := url.Values{}
		params.Set("query", q)
		params.Set("limit", fmt.Sprint(civitaiPageSize))
		params.Set("sort", "Most Downloaded")
		if t, ok := civitaiTypes[ref.Kind]; ok {
			params.Set("types", t)
		}
		searchURL := fmt.Sprintf("%s/api/v1/models?%s", cv.cfg.CatalogC.BaseURL, params.Encode())

		var resp civitaiResponse
		if err := cv.client.getJSON(ctx, op, searchURL, cv.headers(), &resp); err != nil {
			return all, err
		}

		hits := cv.collect(ref, resp.Items)
		cv.client.storeHits(cv.ID(), q, hits)
		all = append(all, hits...)
	}
	return all, nil
}

func (cv *civitai) headers() map[string]string {
	if cv.cfg.CatalogC.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + cv.cfg.CatalogC.APIKey}
}

func (cv *civitai) collect(ref types.ArtifactRef, models []civitaiModel) []types.SearchHit {
	targetKws := keywords.Extract(ref.Filename)

	var hits []types.SearchHit
	for _, model := range models {
		for _, version := range model.ModelVersions {
			fileName, sizeBytes, score, ok := bestVariant(ref.Filename, targetKws, version)
			if !ok {
				continue
			}
			hit := types.SearchHit{
				Catalog:     cv.ID(),
				Repository:  model.Creator.Username + "/" + model.Name,
				DisplayName: fileName,
				DirectURL:   fmt.Sprintf("%s/api/download/models/%d", cv.cfg.CatalogC.BaseURL, version.ID),
				SizeBytes:   sizeBytes,
				KindHint:    kindFromCivitaiType(model.Type, ref.Kind),
			}
			switch {
			case strings.EqualFold(fileName, ref.Filename):
				hit.Confidence = types.ConfidenceExact
			case normalizeName(fileName) == normalizeName(ref.Filename):
				hit.Confidence = types.ConfidenceFilenameMatch
			case score >= keywordHitFloor:
				hit.Confidence = types.ConfidenceKeywordMatch
				hit.MatchScore = score
			default:
				continue
			}
			hits = append(hits, hit)
			break // one hit per model, from its best version
		}
	}
	return hits
}

// bestVariant picks the file of a version that best represents the request.
// Versions often carry several quantizations of the same weights; highest
// keyword overlap wins, smaller size breaks ties, string similarity breaks
// what remains.
func bestVariant(target string, targetKws []string, version civitaiVersion) (name string, sizeBytes int64, score float64, ok bool) {
	bestIdx := -1
	bestScore := -1.0
	for i, f := range version.Files {
		if f.Name == "" || !keywords.HasModelExtension(f.Name) {
			continue
		}
		s := keywords.Similarity(targetKws, keywords.Extract(f.Name))
		if strings.EqualFold(f.Name, target) {
			s = 1.0
		}
		switch {
		case s > bestScore:
			bestIdx, bestScore = i, s
		case s == bestScore && bestIdx >= 0:
			if f.SizeKB < version.Files[bestIdx].SizeKB {
				bestIdx = i
			} else if f.SizeKB == version.Files[bestIdx].SizeKB {
				cur, _ := edlib.StringsSimilarity(strings.ToLower(f.Name), strings.ToLower(target), edlib.JaroWinkler)
				prev, _ := edlib.StringsSimilarity(strings.ToLower(version.Files[bestIdx].Name), strings.ToLower(target), edlib.JaroWinkler)
				if cur > prev {
					bestIdx = i
				}
			}
		}
	}
	if bestIdx < 0 {
		return "", 0, 0, false
	}
	f := version.Files[bestIdx]
	return f.Name, int64(f.SizeKB * 1024), bestScore, true
}

func kindFromCivitaiType(remoteType string, fallback types.Kind) types.Kind {
	for kind, t := range civitaiTypes {
		if strings.EqualFold(t, remoteType) {
			return kind
		}
	}
	return fallback
}
