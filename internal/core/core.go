// Package core wires the resolution pipeline: analyze a workflow, match
// against the local inventory, search the catalogs for what is missing, and
// hand a download plan to the transfer queue.
package core

import (
	"context"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/mdr/internal/cache"
	"github.com/standardbeagle/mdr/internal/catalog"
	"github.com/standardbeagle/mdr/internal/classify"
	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/download"
	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/inventory"
	"github.com/standardbeagle/mdr/internal/matcher"
	"github.com/standardbeagle/mdr/internal/query"
	"github.com/standardbeagle/mdr/internal/ranker"
	"github.com/standardbeagle/mdr/internal/router"
	"github.com/standardbeagle/mdr/internal/types"
	"github.com/standardbeagle/mdr/internal/workflow"
)

// Core holds the assembled pipeline. Everything hangs off explicit
// dependencies; there are no package-level singletons.
type Core struct {
	cfg      *config.Config
	store    *cache.Store
	inv      *inventory.Inventory
	watcher  *inventory.Watcher
	match    *matcher.Matcher
	route    *router.Router
	synth    *query.Synthesizer
	catalogs *catalog.Registry
	rank     *ranker.Ranker
	dl       *download.Manager
}

// Resolution is the full outcome for one workflow.
type Resolution struct {
	Matches    []types.MatchResult     `json:"matches"`
	Candidates []types.RankedCandidate `json:"candidates,omitempty"`
	TaskIDs    []int64                 `json:"task_ids,omitempty"`
}

func New(cfg *config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := cache.Open(cfg.Paths.CacheDir)
	if err != nil {
		return nil, err
	}
	inv := inventory.New(cfg, store)
	c := &Core{
		cfg:      cfg,
		store:    store,
		inv:      inv,
		match:    matcher.New(cfg, inv),
		route:    router.New(cfg),
		synth:    query.New(cfg),
		catalogs: catalog.NewRegistry(cfg, store),
		rank:     ranker.New(cfg),
		dl:       download.NewManager(cfg),
	}
	if cfg.Inventory.Watch {
		if w, werr := inventory.NewWatcher(inv); werr == nil {
			if serr := w.Start(); serr == nil {
				c.watcher = w
			} else {
				w.Stop()
				log.Printf("core: inventory watch disabled: %v", serr)
			}
		} else {
			log.Printf("core: inventory watch unavailable: %v", werr)
		}
	}
	return c, nil
}

// Downloads exposes the transfer queue for status, events, and manual
// enqueues.
func (c *Core) Downloads() *download.Manager { return c.dl }

// Inventory exposes the local index for the status surface.
func (c *Core) Inventory() *inventory.Inventory { return c.inv }

// Cache exposes the cache store for stats and clearing.
func (c *Core) Cache() *cache.Store { return c.store }

func (c *Core) Close() {
	if c.watcher != nil {
		c.watcher.Stop()
	}
	c.dl.Close()
}

// Analyze extracts artifact references from a workflow document and refines
// their kinds. Classification runs exactly once, here.
func (c *Core) Analyze(data []byte) ([]types.ArtifactRef, error) {
	refs, err := workflow.Analyze(data)
	if err != nil {
		return nil, err
	}
	classify.Apply(classify.DefaultRules, refs)
	return refs, nil
}

// Match indexes the local inventory and resolves every reference against it.
func (c *Core) Match(refs []types.ArtifactRef) ([]types.MatchResult, error) {
	if err := c.inv.Index(); err != nil {
		return nil, err
	}
	return c.match.MatchAll(refs), nil
}

// Search runs the catalog search for each reference, bounded by the search
// concurrency. Results keep the input order; adapter failures are attached
// to their candidate, never raised.
func (c *Core) Search(ctx context.Context, refs []types.ArtifactRef) []types.RankedCandidate {
	out := make([]types.RankedCandidate, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Search.Concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			out[i] = c.searchOne(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Core) searchOne(ctx context.Context, ref types.ArtifactRef) types.RankedCandidate {
	var (
		hits        []types.SearchHit
		errs        []string
		suggestions []string
	)

	for _, catalogID := range c.route.Route(ref) {
		adapter, ok := c.catalogs.Get(catalogID)
		if !ok {
			continue
		}
		queries := c.synth.Queries(ref.Filename, catalogID)
		if suggestions == nil {
			suggestions = queries
		}
		got, err := adapter.Search(ctx, ref, queries)
		hits = append(hits, got...)
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	candidate := c.rank.Rank(ref, hits, suggestions)
	candidate.Err = strings.Join(errs, "; ")
	return candidate
}

// SkipArtifact marks a candidate that gets no download.
const SkipArtifact = -1

// Plan enqueues one hit per candidate. choices[i] indexes into
// candidates[i].Hits, or SkipArtifact to leave that artifact alone. A nil
// choices slice takes every candidate's recommended hit; candidates without
// one are skipped and the caller surfaces their suggestions instead.
func (c *Core) Plan(candidates []types.RankedCandidate, choices []int) ([]int64, error) {
	const op = "core.plan"
	if choices != nil && len(choices) != len(candidates) {
		return nil, mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "%d choices for %d candidates", len(choices), len(candidates))
	}

	var ids []int64
	for i, cand := range candidates {
		hit := cand.Recommended
		if choices != nil {
			if choices[i] == SkipArtifact {
				continue
			}
			if choices[i] < 0 || choices[i] >= len(cand.Hits) {
				return ids, mdrerrors.Newf(mdrerrors.ErrorTypeInvalidInput, op, "candidate %d has no hit %d", i, choices[i])
			}
			hit = &cand.Hits[choices[i]]
		}
		if hit == nil {
			continue
		}
		target := c.cfg.TargetPath(effectiveKind(cand.Ref, hit), cand.Ref.Filename)
		id, err := c.dl.Enqueue(cand.Ref, hit.DirectURL, target, hit.SizeBytes)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Resolve is the end-to-end operation behind the resolve command.
func (c *Core) Resolve(ctx context.Context, workflowData []byte, enqueue bool) (*Resolution, error) {
	refs, err := c.Analyze(workflowData)
	if err != nil {
		return nil, err
	}

	matches, err := c.Match(refs)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Matches: matches}

	missing := matcher.Missing(matches)
	if len(missing) == 0 {
		return res, nil
	}

	res.Candidates = c.Search(ctx, missing)
	if !enqueue {
		return res, nil
	}

	ids, err := c.Plan(res.Candidates, downloadChoices(matches, res.Candidates))
	res.TaskIDs = ids
	if err != nil {
		return res, err
	}
	return res, nil
}

// downloadChoices picks the recommended hit for every artifact that is
// missing outright. Partial matches are surfaced for the user to decide and
// never downloaded on their behalf.
func downloadChoices(matches []types.MatchResult, candidates []types.RankedCandidate) []int {
	choices := make([]int, len(candidates))
	i := 0
	for _, m := range matches {
		if m.Status == types.MatchPresent {
			continue
		}
		if i == len(candidates) {
			break
		}
		// The recommended hit is always the first after ranking.
		if m.Status == types.MatchMissing && len(candidates[i].Hits) > 0 {
			choices[i] = 0
		} else {
			choices[i] = SkipArtifact
		}
		i++
	}
	return choices
}

// effectiveKind prefers the hit's kind hint over the original reference when
// the reference never got past unknown.
func effectiveKind(ref types.ArtifactRef, hit *types.SearchHit) types.Kind {
	if ref.Kind != types.KindUnknown {
		return ref.Kind
	}
	if hit.KindHint != types.KindUnknown && hit.KindHint != "" {
		return hit.KindHint
	}
	return ref.Kind
}
