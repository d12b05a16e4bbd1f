// Package cache is a namespaced key-value store with per-entry TTL,
// persisted as one JSON file per namespace so results survive between runs.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	mdrerrors "github.com/standardbeagle/mdr/internal/errors"
)

// Namespaces used by the resolver.
const (
	NamespaceSearch    = "search"
	NamespaceInventory = "inventory"
)

// maxLiteralKey bounds the stored key length; longer keys are replaced by
// their xxhash so namespace files stay readable and bounded.
const maxLiteralKey = 80

type entry struct {
	Value      json.RawMessage `json:"value"`
	InsertedAt time.Time       `json:"inserted_at"`
	TTLSeconds int64           `json:"ttl_s"`
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) >= time.Duration(e.TTLSeconds)*time.Second
}

// Store is safe for concurrent use. Writes go through to disk before Set
// returns.
type Store struct {
	mu         sync.Mutex
	dir        string
	namespaces map[string]map[string]entry
	now        func() time.Time
}

// NamespaceStats describes one namespace for the stats surface.
type NamespaceStats struct {
	Entries   int   `json:"entries"`
	Expired   int   `json:"expired"`
	FileBytes int64 `json:"file_bytes"`
}

// Open loads any persisted namespaces from dir, creating it when absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mdrerrors.New(mdrerrors.ErrorTypePermanent, "cache.open", err)
	}
	s := &Store{
		dir:        dir,
		namespaces: make(map[string]map[string]entry),
		now:        time.Now,
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, mdrerrors.New(mdrerrors.ErrorTypePermanent, "cache.open", err)
	}
	for _, path := range matches {
		ns := trimJSONExt(filepath.Base(path))
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entries map[string]entry
		if err := json.Unmarshal(data, &entries); err != nil {
			// Corrupt namespace files are discarded, not fatal.
			_ = os.Remove(path)
			continue
		}
		s.namespaces[ns] = entries
	}
	return s, nil
}

func trimJSONExt(name string) string {
	return name[:len(name)-len(".json")]
}

// normalizeKey keeps short keys literal and hashes long ones.
func normalizeKey(key string) string {
	if len(key) <= maxLiteralKey {
		return key
	}
	return fmt.Sprintf("xxh:%016x", xxhash.Sum64String(key))
}

// Get unmarshals the cached value for (namespace, key) into out. It reports
// a miss when the entry is absent or its TTL has elapsed.
func (s *Store) Get(namespace, key string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.namespaces[namespace]
	if !ok {
		return false
	}
	e, ok := entries[normalizeKey(key)]
	if !ok || e.expired(s.now()) {
		return false
	}
	return json.Unmarshal(e.Value, out) == nil
}

// Set stores v under (namespace, key) with the given TTL and persists the
// namespace.
func (s *Store) Set(namespace, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypeInvalidInput, "cache.set", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.namespaces[namespace]
	if !ok {
		entries = make(map[string]entry)
		s.namespaces[namespace] = entries
	}
	entries[normalizeKey(key)] = entry{
		Value:      raw,
		InsertedAt: s.now(),
		TTLSeconds: int64(ttl / time.Second),
	}
	return s.persist(namespace)
}

// Invalidate drops a whole namespace from memory and disk. Used when an
// external event (a filesystem change under the models root) voids it.
func (s *Store) Invalidate(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	err := os.Remove(s.namespacePath(namespace))
	if err != nil && !os.IsNotExist(err) {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, "cache.invalidate", err)
	}
	return nil
}

// Clear removes one namespace, or every namespace when namespace is empty.
func (s *Store) Clear(namespace string) error {
	if namespace != "" {
		return s.Invalidate(namespace)
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		names = append(names, ns)
	}
	s.mu.Unlock()
	for _, ns := range names {
		if err := s.Invalidate(ns); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports entry and expiry counts plus on-disk size per namespace.
func (s *Store) Stats() map[string]NamespaceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]NamespaceStats, len(s.namespaces))
	for ns, entries := range s.namespaces {
		stats := NamespaceStats{Entries: len(entries)}
		for _, e := range entries {
			if e.expired(now) {
				stats.Expired++
			}
		}
		if fi, err := os.Stat(s.namespacePath(ns)); err == nil {
			stats.FileBytes = fi.Size()
		}
		out[ns] = stats
	}
	return out
}

func (s *Store) namespacePath(namespace string) string {
	return filepath.Join(s.dir, namespace+".json")
}

// persist writes a namespace atomically, pruning expired entries as it goes.
// Caller holds the lock.
func (s *Store) persist(namespace string) error {
	entries := s.namespaces[namespace]
	now := s.now()
	live := make(map[string]entry, len(entries))
	for k, e := range entries {
		if !e.expired(now) {
			live[k] = e
		}
	}
	s.namespaces[namespace] = live

	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, "cache.persist", err)
	}
	tmp := s.namespacePath(namespace) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, "cache.persist", err)
	}
	if err := os.Rename(tmp, s.namespacePath(namespace)); err != nil {
		return mdrerrors.New(mdrerrors.ErrorTypePermanent, "cache.persist", err)
	}
	return nil
}
