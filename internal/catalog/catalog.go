// Package catalog holds the remote search adapters. Each adapter is a
// transport client for one catalog; all implement the same contract and
// register in a Registry keyed by symbolic id so the router's rule table
// stays pure data.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/standardbeagle/mdr/internal/cache"
	"github.com/standardbeagle/mdr/internal/config"
	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
	"github.com/standardbeagle/mdr/internal/types"
)

// Adapter searches one remote catalog. Implementations must honor ctx and
// report failures through the typed error taxonomy; a nil error with zero
// hits means the catalog simply has nothing.
type Adapter interface {
	ID() string
	Search(ctx context.Context, ref types.ArtifactRef, queries []string) ([]types.SearchHit, error)
}

// Registry maps adapter ids to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry wires the built-in adapters over a shared client and cache.
func NewRegistry(cfg *config.Config, store *cache.Store) *Registry {
	c := newClient(cfg, store)
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(newHuggingFace(cfg, c))
	r.Register(newCivitai(cfg, c))
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.ID()] = a
}

func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// client is the transport shared by all adapters: one HTTP client, one
// per-call deadline, one cache namespace.
type client struct {
	http    *http.Client
	store   *cache.Store
	timeout time.Duration
	ttl     time.Duration
}

func newClient(cfg *config.Config, store *cache.Store) *client {
	return &client{
		http:    &http.Client{},
		store:   store,
		timeout: cfg.Search.Timeout,
		ttl:     cfg.Cache.SearchTTL,
	}
}

// getJSON performs one GET with the adapter deadline applied and decodes the
// body. Network failures map to transient; HTTP statuses map through the
// shared taxonomy.
func (c *client) getJSON(ctx context.Context, op, url string, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypeInvalidInput, op, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return mdrerrors.New(mdrerrors.ErrorTypeCancelled, op, err)
		}
		return mdrerrors.New(mdrerrors.ErrorTypeTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mdrerrors.FromStatus(op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypeTransient, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// cachedHits looks up previously stored hits for (adapterID, query).
func (c *client) cachedHits(adapterID, query string) ([]types.SearchHit, bool) {
	if c.store == nil {
		return nil, false
	}
	var hits []types.SearchHit
	ok := c.store.Get(cache.NamespaceSearch, searchKey(adapterID, query), &hits)
	return hits, ok
}

func (c *client) storeHits(adapterID, query string, hits []types.SearchHit) {
	if c.store == nil {
		return
	}
	if hits == nil {
		hits = []types.SearchHit{}
	}
	// Best effort; a failed cache write never fails a search.
	_ = c.store.Set(cache.NamespaceSearch, searchKey(adapterID, query), hits, c.ttl)
}

func searchKey(adapterID, query string) string {
	return adapterID + "|" + strings.ToLower(strings.TrimSpace(query))
}

func newTransient(op string, err error) error {
	return mdrerrors.New(mdrerrors.ErrorTypeTransient, op, err)
}

func newCancelled(op string, err error) error {
	return mdrerrors.New(mdrerrors.ErrorTypeCancelled, op, err)
}
