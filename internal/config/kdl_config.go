package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/mdr/internal/types"
)

// LoadKDL loads configuration from a .mdr.kdl file in dir. A missing file
// is not an error; it returns (nil, nil) so the caller can fall back.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, ".mdr.kdl")
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}
	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .mdr.kdl: %v", err)
	}
	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}
	// Resolve relative paths against the directory holding the file.
	if cfg.Paths.ModelsRoot != "" && !filepath.IsAbs(cfg.Paths.ModelsRoot) {
		cfg.Paths.ModelsRoot = filepath.Clean(filepath.Join(dir, cfg.Paths.ModelsRoot))
	}
	if cfg.Paths.CacheDir != "" && !filepath.IsAbs(cfg.Paths.CacheDir) {
		cfg.Paths.CacheDir = filepath.Clean(filepath.Join(dir, cfg.Paths.CacheDir))
	}
	return cfg, nil
}

func parseKDL(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "paths":
			for _, cn := range n.Children {
				assignSimpleString(cn, "models_root", func(v string) { cfg.Paths.ModelsRoot = v })
				assignSimpleString(cn, "cache_dir", func(v string) { cfg.Paths.CacheDir = v })
			}
		case "subdirs":
			for _, cn := range n.Children {
				kind := types.Kind(nodeName(cn))
				if s, ok := firstStringArg(cn); ok {
					cfg.Subdirs[kind] = s
				}
			}
		case "catalog_h":
			for _, cn := range n.Children {
				assignSimpleString(cn, "base_url", func(v string) { cfg.CatalogH.BaseURL = v })
				assignSimpleString(cn, "token", func(v string) { cfg.CatalogH.Token = v })
			}
		case "catalog_c":
			for _, cn := range n.Children {
				assignSimpleString(cn, "base_url", func(v string) { cfg.CatalogC.BaseURL = v })
				assignSimpleString(cn, "api_key", func(v string) { cfg.CatalogC.APIKey = v })
			}
		case "search":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "concurrency":
					if v, ok := firstIntArg(cn); ok {
						cfg.Search.Concurrency = v
					}
				case "timeout_s":
					if v, ok := firstIntArg(cn); ok {
						cfg.Search.Timeout = time.Duration(v) * time.Second
					}
				}
			}
		case "download":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "concurrency":
					if v, ok := firstIntArg(cn); ok {
						cfg.Download.Concurrency = v
					}
				case "retries":
					if v, ok := firstIntArg(cn); ok {
						cfg.Download.Retries = v
					}
				case "chunk_bytes":
					if v, ok := firstIntArg(cn); ok {
						cfg.Download.ChunkBytes = int64(v)
					}
				case "per_task_timeout_s":
					if v, ok := firstIntArg(cn); ok {
						cfg.Download.PerTaskTimeout = time.Duration(v) * time.Second
					}
				case "history_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Download.HistorySize = v
					}
				}
			}
		case "cache":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "search_ttl_s":
					if v, ok := firstIntArg(cn); ok {
						cfg.Cache.SearchTTL = time.Duration(v) * time.Second
					}
				case "inventory_ttl_s":
					if v, ok := firstIntArg(cn); ok {
						cfg.Cache.InventoryTTL = time.Duration(v) * time.Second
					}
				}
			}
		case "router":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "curated_authors":
					cfg.Router.CuratedAuthors = collectStringArgs(cn)
				case "official_prefixes":
					cfg.Router.OfficialPrefixes = collectStringArgs(cn)
				}
			}
		case "matching":
			for _, cn := range n.Children {
				if nodeName(cn) == "fuzzy_threshold" {
					if v, ok := firstFloatArg(cn); ok {
						cfg.Matching.FuzzyThreshold = v
					}
				}
			}
		case "inventory":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "exclude":
					cfg.Inventory.Exclude = collectStringArgs(cn)
				case "watch":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Inventory.Watch = b
					}
				}
			}
		}
	}
	return cfg, nil
}

// Helpers leveraging the kdl-go document model.
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	// Block format: each child node's name is the string value.
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
