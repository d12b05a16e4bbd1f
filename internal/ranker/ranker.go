// Package ranker merges and scores catalog hits into a single candidate
// list per artifact. Scores are 1..5 stars; the first hit after the stable
// sort is the recommendation.
package ranker

import (
	"sort"
	"strings"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/types"
)

// strongKeywordScore is the keyword overlap above which a keyword match is
// treated as nearly as trustworthy as a filename match.
const strongKeywordScore = 0.8

type Ranker struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank deduplicates hits by direct URL, scores them, and stable-sorts by
// score descending. Hits arrive primary catalog first, and that order is the
// tiebreak. suggestions feed the empty-result case so a caller can hand the
// queries to a human.
func (r *Ranker) Rank(ref types.ArtifactRef, hits []types.SearchHit, suggestions []string) types.RankedCandidate {
	deduped := dedupe(hits)
	if len(deduped) == 0 {
		return types.RankedCandidate{
			Ref:         ref,
			Hits:        []types.SearchHit{},
			Rating:      0,
			Suggestions: topSuggestions(ref, suggestions),
		}
	}

	scores := make([]int, len(deduped))
	for i, hit := range deduped {
		scores[i] = r.score(hit)
	}
	idx := make([]int, len(deduped))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	sorted := make([]types.SearchHit, len(deduped))
	for i, j := range idx {
		sorted[i] = deduped[j]
	}

	candidate := types.RankedCandidate{
		Ref:         ref,
		Hits:        sorted,
		Rating:      scores[idx[0]],
		Recommended: &sorted[0],
	}
	return candidate
}

func dedupe(hits []types.SearchHit) []types.SearchHit {
	seen := make(map[string]bool, len(hits))
	var out []types.SearchHit
	for _, h := range hits {
		if h.DirectURL == "" || seen[h.DirectURL] {
			continue
		}
		seen[h.DirectURL] = true
		out = append(out, h)
	}
	return out
}

func (r *Ranker) score(hit types.SearchHit) int {
	var s int
	switch hit.Confidence {
	case types.ConfidenceExact:
		s = 5
	case types.ConfidenceFilenameMatch:
		s = 4
	case types.ConfidenceKeywordMatch:
		if hit.MatchScore >= strongKeywordScore {
			s = 3
		} else {
			s = 2
		}
	default:
		s = 1
	}
	if s < 5 && r.curated(hit) {
		s++
	}
	return s
}

// curated reports whether the hit comes from a trusted author or repository.
func (r *Ranker) curated(hit types.SearchHit) bool {
	repo := strings.ToLower(hit.Repository)
	for _, author := range r.cfg.Router.CuratedAuthors {
		a := strings.ToLower(author)
		if repo == a || strings.HasPrefix(repo, a+"/") {
			return true
		}
	}
	return false
}

// topSuggestions returns up to the first two queries tried plus a hint for
// the operator.
func topSuggestions(ref types.ArtifactRef, queries []string) []string {
	out := make([]string, 0, 3)
	for _, q := range queries {
		if len(out) == 2 {
			break
		}
		out = append(out, q)
	}
	out = append(out, "try a manual search for "+ref.Filename+" and pass the URL with --url")
	return out
}
