// Package inventory indexes model files under the models root and answers
// exact and fuzzy lookups. Scans are cached between runs; a filesystem
// watcher invalidates the cache when model files change.
package inventory

import (
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/mdr/internal/cache"
	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/keywords"
	"github.com/standardbeagle/mdr/internal/types"
)

// Inventory is safe for concurrent lookups. A refresh builds the new index
// aside and swaps it in whole; readers never see a half-built index.
type Inventory struct {
	cfg   *config.Config
	store *cache.Store

	mu     sync.RWMutex
	models []types.LocalModel
	byName map[string]int // lowercase filename -> index into models
}

// Stats summarizes the index for the status surface.
type Stats struct {
	TotalModels int                    `json:"total_models"`
	TotalBytes  int64                  `json:"total_bytes"`
	BySubdir    map[string]SubdirStats `json:"by_subdir"`
}

type SubdirStats struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

func New(cfg *config.Config, store *cache.Store) *Inventory {
	return &Inventory{cfg: cfg, store: store, byName: make(map[string]int)}
}

// Index loads the model index for the configured root, from cache when the
// inventory TTL has not elapsed, scanning the filesystem otherwise.
func (inv *Inventory) Index() error {
	root, err := filepath.Abs(inv.cfg.Paths.ModelsRoot)
	if err != nil {
		root = inv.cfg.Paths.ModelsRoot
	}
	key := "root:" + root

	var models []types.LocalModel
	if inv.store != nil && inv.store.Get(cache.NamespaceInventory, key, &models) {
		inv.swap(models)
		return nil
	}

	models = inv.scan(root)
	inv.swap(models)

	if inv.store != nil {
		if err := inv.store.Set(cache.NamespaceInventory, key, models, inv.cfg.Cache.InventoryTTL); err != nil {
			log.Printf("inventory: cache write failed: %v", err)
		}
	}
	return nil
}

// scan walks root collecting every regular file with a recognized model
// extension. Unreadable subtrees are skipped and logged; scanning never
// fails at the top level.
func (inv *Inventory) scan(root string) []types.LocalModel {
	var models []types.LocalModel
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("inventory: skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if inv.excluded(rel, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !keywords.HasModelExtension(d.Name()) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			log.Printf("inventory: stat %s: %v", path, infoErr)
			return nil
		}
		models = append(models, types.LocalModel{
			AbsolutePath: path,
			Filename:     d.Name(),
			SizeBytes:    info.Size(),
			ModifiedAt:   info.ModTime(),
			Subdirectory: topSegment(rel),
			Keywords:     keywords.Extract(d.Name()),
		})
		return nil
	})
	if err != nil {
		log.Printf("inventory: walk %s: %v", root, err)
	}
	return models
}

func (inv *Inventory) excluded(rel string, isDir bool) bool {
	if rel == "." {
		return false
	}
	probe := rel
	if isDir {
		// Match directory patterns like **/.git/** against the dir itself.
		probe = rel + "/"
	}
	for _, pattern := range inv.cfg.Inventory.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(pattern, probe); ok {
				return true
			}
		}
	}
	return false
}

func topSegment(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

func (inv *Inventory) swap(models []types.LocalModel) {
	byName := make(map[string]int, len(models))
	for i, m := range models {
		key := strings.ToLower(m.Filename)
		if _, dup := byName[key]; !dup {
			byName[key] = i
		}
	}
	inv.mu.Lock()
	inv.models = models
	inv.byName = byName
	inv.mu.Unlock()
}

// LookupExact finds a model by case-insensitive filename.
func (inv *Inventory) LookupExact(filename string) (*types.LocalModel, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	i, ok := inv.byName[strings.ToLower(filename)]
	if !ok {
		return nil, false
	}
	m := inv.models[i]
	return &m, true
}

// LookupFuzzy returns the best keyword match in the canonical directory for
// kind (all directories when kind is unknown) whose Jaccard similarity
// reaches threshold.
func (inv *Inventory) LookupFuzzy(kws []string, kind types.Kind, threshold float64) (*types.LocalModel, float64, bool) {
	subdir := ""
	if kind != types.KindUnknown {
		subdir = inv.cfg.SubdirFor(kind)
	}

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	var best *types.LocalModel
	bestScore := 0.0
	for i := range inv.models {
		m := &inv.models[i]
		if subdir != "" && m.Subdirectory != subdir {
			continue
		}
		score := keywords.Similarity(kws, m.Keywords)
		if score > bestScore {
			bestScore = score
			best = m
		}
	}
	if best == nil || bestScore < threshold {
		return nil, bestScore, false
	}
	found := *best
	return &found, bestScore, true
}

// All returns a snapshot of the indexed models.
func (inv *Inventory) All() []types.LocalModel {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]types.LocalModel, len(inv.models))
	copy(out, inv.models)
	return out
}

// Stats aggregates counts and sizes per subdirectory.
func (inv *Inventory) Stats() Stats {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	stats := Stats{BySubdir: make(map[string]SubdirStats)}
	for _, m := range inv.models {
		sub := m.Subdirectory
		if sub == "" {
			sub = "."
		}
		s := stats.BySubdir[sub]
		s.Count++
		s.Bytes += m.SizeBytes
		stats.BySubdir[sub] = s
		stats.TotalModels++
		stats.TotalBytes += m.SizeBytes
	}
	return stats
}
