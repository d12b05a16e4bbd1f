// Package matcher compares extracted artifact references against the local
// inventory. An exact filename hit is "present", a fuzzy keyword hit at or
// above the configured threshold is "partial", everything else is "missing".
// Partial matches are reported but never substituted for the requested file.
package matcher

import (
	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/inventory"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/types"
)

type Matcher struct {
	cfg *config.Config
	inv *inventory.Inventory
}

func New(cfg *config.Config, inv *inventory.Inventory) *Matcher {
	return &Matcher{cfg: cfg, inv: inv}
}

// Match resolves one reference against the inventory.
func (m *Matcher) Match(ref types.ArtifactRef) types.MatchResult {
	if local, ok := m.inv.LookupExact(ref.Filename); ok {
		return types.MatchResult{
			Ref:       ref,
			Status:    types.MatchPresent,
			Score:     1.0,
			Candidate: local,
		}
	}

	kws := keywords.Extract(ref.Filename)
	if local, score, ok := m.inv.LookupFuzzy(kws, ref.Kind, m.cfg.Matching.FuzzyThreshold); ok {
		return types.MatchResult{
			Ref:       ref,
			Status:    types.MatchPartial,
			Score:     score,
			Candidate: local,
		}
	}

	return types.MatchResult{Ref: ref, Status: types.MatchMissing}
}

// MatchAll resolves every reference, preserving input order.
func (m *Matcher) MatchAll(refs []types.ArtifactRef) []types.MatchResult {
	results := make([]types.MatchResult, 0, len(refs))
	for _, ref := range refs {
		results = append(results, m.Match(ref))
	}
	return results
}

// Missing filters results down to the references that need a remote search:
// missing outright, or only partially matched.
func Missing(results []types.MatchResult) []types.ArtifactRef {
	var out []types.ArtifactRef
	for _, r := range results {
		if r.Status != types.MatchPresent {
			out = append(out, r.Ref)
		}
	}
	return out
}
