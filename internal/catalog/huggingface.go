package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/router"
	"github.com/standardbeagle/mdr/internal/types"
)

// keywordHitFloor is the weakest keyword intersection worth reporting as a
// hit; anything below it is noise the ranker would only have to bury.
const keywordHitFloor = 0.5

// hfModel is the subset of the models-index response the adapter reads.
type hfModel struct {
	ID       string `json:"modelId"`
	Author   string `json:"author"`
	Siblings []struct {
		Rfilename string `json:"rfilename"`
		Size      int64  `json:"size"`
	} `json:"siblings"`
}

// huggingFace searches a HuggingFace-style models index. A hit needs an
// actual file in a repository; repository names alone are only suggestive.
type huggingFace struct {
	cfg    *config.Config
	client *client
}

func newHuggingFace(cfg *config.Config, c *client) *huggingFace {
	return &huggingFace{cfg: cfg, client: c}
}

func (h *huggingFace) ID() string { return router.CatalogHuggingFace }

func (h *huggingFace) Search(ctx context.Context, ref types.ArtifactRef, queries []string) ([]types.SearchHit, error) {
	const op = "catalog.huggingface.search"

	var all []types.SearchHit
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return all, ctxError(op, err)
		}
		if hits, ok := h.client.cachedHits(h.ID(), q); ok {
			all = append(all, hits...)
			continue
		}

		searchURL := fmt.Sprintf("%s/api/models?search=%s&full=true", h.cfg.CatalogH.BaseURL, url.QueryEscape(q))
		var models []hfModel
		if err := h.client.getJSON(ctx, op, searchURL, h.headers(), &models); err != nil {
			return all, err
		}

		hits := h.collect(ref, q, models)
		h.client.storeHits(h.ID(), q, hits)
		all = append(all, hits...)
	}
	return all, nil
}

func (h *huggingFace) headers() map[string]string {
	if h.cfg.CatalogH.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + h.cfg.CatalogH.Token}
}

// collect walks each repository's file listing. An exact filename wins
// outright; a separator-insensitive match is nearly as strong; otherwise the
// best keyword overlap per repository is kept.
func (h *huggingFace) collect(ref types.ArtifactRef, query string, models []hfModel) []types.SearchHit {
	target := strings.ToLower(ref.Filename)
	targetKws := keywords.Extract(ref.Filename)

	var hits []types.SearchHit
	for _, model := range models {
		var best *types.SearchHit
		bestScore := 0.0

		for _, sib := range model.Siblings {
			name := sib.Rfilename
			if name == "" || !keywords.HasModelExtension(name) {
				continue
			}
			hit := types.SearchHit{
				Catalog:     h.ID(),
				Repository:  model.ID,
				DisplayName: name,
				DirectURL:   fmt.Sprintf("%s/%s/resolve/main/%s", h.cfg.CatalogH.BaseURL, model.ID, name),
				SizeBytes:   sib.Size,
				KindHint:    ref.Kind,
			}
			switch {
			case strings.ToLower(name) == target:
				hit.Confidence = types.ConfidenceExact
				return append(hits, hit)
			case normalizeName(name) == normalizeName(ref.Filename):
				hit.Confidence = types.ConfidenceFilenameMatch
				copied := hit
				best, bestScore = &copied, 1.0
			default:
				score := keywords.Similarity(targetKws, keywords.Extract(name))
				if score >= keywordHitFloor && score > bestScore {
					hit.Confidence = types.ConfidenceKeywordMatch
					hit.MatchScore = score
					copied := hit
					best, bestScore = &copied, score
				}
			}
		}

		if best != nil {
			hits = append(hits, *best)
		} else if repoMatchesQuery(model.ID, query) {
			// The repository itself looks right even though no file lined
			// up; surface its first model file as a lead.
			for _, sib := range model.Siblings {
				if keywords.HasModelExtension(sib.Rfilename) {
					hits = append(hits, types.SearchHit{
						Catalog:     h.ID(),
						Repository:  model.ID,
						DisplayName: sib.Rfilename,
						DirectURL:   fmt.Sprintf("%s/%s/resolve/main/%s", h.cfg.CatalogH.BaseURL, model.ID, sib.Rfilename),
						SizeBytes:   sib.Size,
						KindHint:    ref.Kind,
						Confidence:  types.ConfidenceSuggestive,
					})
					break
				}
			}
		}
	}
	return hits
}

// normalizeName lowercases and collapses separators so that
// "flux1-dev_fp8" and "flux1_dev-fp8" compare equal.
func normalizeName(name string) string {
	base := strings.ToLower(keywords.StripExtension(name))
	return strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(base)
}

func repoMatchesQuery(repoID, query string) bool {
	repo := strings.ToLower(repoID)
	q := strings.ToLower(query)
	if strings.Contains(q, "/") {
		return repo == q
	}
	return strings.Contains(repo, strings.ReplaceAll(q, " ", "-")) ||
		strings.Contains(repo, strings.ReplaceAll(q, " ", "_"))
}

func ctxError(op string, err error) error {
	if err == context.DeadlineExceeded {
		return newTransient(op, err)
	}
	return newCancelled(op, err)
}
