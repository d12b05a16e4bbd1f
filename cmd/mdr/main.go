package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/mdr/internal/config"
	"github.com/standardbeagle/mdr/internal/core"
	"github.com/standardbeagle/mdr/internal/types"
	"github.com/standardbeagle/mdr/internal/version"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	dir := c.String("config-dir")
	if dir == "" {
		dir = "."
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", dir, err)
	}

	if root := c.String("models-root"); root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve models root %q: %w", root, err)
		}
		cfg.Paths.ModelsRoot = abs
	}
	if token := c.String("hf-token"); token != "" {
		cfg.CatalogH.Token = token
	}
	if key := c.String("civitai-key"); key != "" {
		cfg.CatalogC.APIKey = key
	}
	return cfg, nil
}

func newCore(c *cli.Context) (*core.Core, error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, err
	}
	return core.New(cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readWorkflow(c *cli.Context) ([]byte, error) {
	path := c.Args().First()
	if path == "" {
		return nil, cli.Exit("usage: expects a workflow file argument", 2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	return data, nil
}

func main() {
	app := &cli.App{
		Name:                   "mdr",
		Usage:                  "Resolve and fetch the model files a workflow depends on",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Aliases: []string{"c"},
				Usage:   "directory holding .mdr.kdl or mdr.toml",
			},
			&cli.StringFlag{
				Name:    "models-root",
				Aliases: []string{"r"},
				Usage:   "override the models root directory",
			},
			&cli.StringFlag{
				Name:  "hf-token",
				Usage: "bearer token for the model hub",
			},
			&cli.StringFlag{
				Name:  "civitai-key",
				Usage: "API key for the community catalog",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "machine-readable output",
			},
		},
		Commands: []*cli.Command{
			analyzeCommand(),
			matchCommand(),
			searchCommand(),
			resolveCommand(),
			downloadCommand(),
			statusCommand(),
			cacheCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mdr: %v\n", err)
		os.Exit(1)
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "List the model files a workflow references",
		ArgsUsage: "<workflow.json>",
		Action: func(c *cli.Context) error {
			data, err := readWorkflow(c)
			if err != nil {
				return err
			}
			cr, err := newCore(c)
			if err != nil {
				return err
			}
			defer cr.Close()

			refs, err := cr.Analyze(data)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return emitJSON(refs)
			}
			for _, ref := range refs {
				fmt.Printf("%-14s %s  (%s)\n", ref.Kind, ref.Filename, ref.Strategy)
			}
			return nil
		},
	}
}

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:      "match",
		Usage:     "Check which referenced models exist locally",
		ArgsUsage: "<workflow.json>",
		Action: func(c *cli.Context) error {
			data, err := readWorkflow(c)
			if err != nil {
				return err
			}
			cr, err := newCore(c)
			if err != nil {
				return err
			}
			defer cr.Close()

			refs, err := cr.Analyze(data)
			if err != nil {
				return err
			}
			matches, err := cr.Match(refs)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return emitJSON(matches)
			}
			for _, m := range matches {
				printMatch(m)
			}
			return nil
		},
	}
}

func printMatch(m types.MatchResult) {
	switch m.Status {
	case types.MatchPresent:
		fmt.Printf("present  %s\n", m.Ref.Filename)
	case types.MatchPartial:
		fmt.Printf("partial  %s  ~ %s (%.2f)\n", m.Ref.Filename, m.Candidate.Filename, m.Score)
	default:
		fmt.Printf("missing  %s\n", m.Ref.Filename)
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the catalogs for the missing models of a workflow",
		ArgsUsage: "<workflow.json>",
		Action: func(c *cli.Context) error {
			data, err := readWorkflow(c)
			if err != nil {
				return err
			}
			cr, err := newCore(c)
			if err != nil {
				return err
			}
			defer cr.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := cr.Resolve(ctx, data, false)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return emitJSON(res)
			}
			printResolution(res)
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Analyze, match, search, and optionally download in one pass",
		ArgsUsage: "<workflow.json>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "download",
				Aliases: []string{"d"},
				Usage:   "enqueue downloads for the recommended candidates and wait",
			},
		},
		Action: func(c *cli.Context) error {
			data, err := readWorkflow(c)
			if err != nil {
				return err
			}
			cr, err := newCore(c)
			if err != nil {
				return err
			}
			defer cr.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := cr.Resolve(ctx, data, c.Bool("download"))
			if err != nil {
				return err
			}
			if c.Bool("download") {
				waitForTasks(ctx, cr, res.TaskIDs)
			}
			if c.Bool("json") {
				return emitJSON(res)
			}
			printResolution(res)
			return nil
		},
	}
}

func printResolution(res *core.Resolution) {
	for _, m := range res.Matches {
		printMatch(m)
	}
	for _, cand := range res.Candidates {
		if cand.Recommended != nil {
			fmt.Printf("found    %s  %s  %s  rating %d/5\n",
				cand.Ref.Filename, cand.Recommended.Catalog, cand.Recommended.Repository, cand.Rating)
			continue
		}
		fmt.Printf("no hit   %s\n", cand.Ref.Filename)
		for _, s := range cand.Suggestions {
			fmt.Printf("         suggestion: %s\n", s)
		}
		if cand.Err != "" {
			fmt.Printf("         errors: %s\n", cand.Err)
		}
	}
}

// waitForTasks blocks until the given tasks reach a terminal state, printing
// progress as it arrives.
func waitForTasks(ctx context.Context, cr *core.Core, ids []int64) {
	if len(ids) == 0 {
		return
	}
	pending := make(map[int64]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	events := cr.Downloads().Events()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if ok && p.Total > 0 {
				fmt.Printf("\r%s: %d/%d bytes (%.1f MB/s)   ",
					p.Filename, p.Transferred, p.Total, p.BytesPerSec/1e6)
			}
		case <-ticker.C:
		}
		for id := range pending {
			if task, ok := cr.Downloads().Task(id); ok && task.State.Terminal() {
				fmt.Printf("\n%s: %s", task.Ref.Filename, task.State)
				if task.Error != "" {
					fmt.Printf(" (%s)", task.Error)
				}
				fmt.Println()
				delete(pending, id)
			}
		}
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download one model from an explicit URL",
		ArgsUsage: "<filename>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "direct download URL (manual override when search finds nothing)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "artifact kind deciding the target subdirectory",
				Value: string(types.KindCheckpoint),
			},
		},
		Action: func(c *cli.Context) error {
			filename := c.Args().First()
			if filename == "" {
				return cli.Exit("usage: mdr download --url <url> <filename>", 2)
			}
			cfg, err := loadConfigWithOverrides(c)
			if err != nil {
				return err
			}
			cr, err := core.New(cfg)
			if err != nil {
				return err
			}
			defer cr.Close()

			kind := types.Kind(c.String("kind"))
			ref := types.ArtifactRef{Filename: filename, Kind: kind}
			target := cfg.TargetPath(kind, filename)

			id, err := cr.Downloads().Enqueue(ref, c.String("url"), target, 0)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			waitForTasks(ctx, cr, []int64{id})
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the local inventory and the download queue",
		Action: func(c *cli.Context) error {
			cr, err := newCore(c)
			if err != nil {
				return err
			}
			defer cr.Close()

			if err := cr.Inventory().Index(); err != nil {
				return err
			}
			invStats := cr.Inventory().Stats()
			queue := cr.Downloads().Status()

			if c.Bool("json") {
				return emitJSON(map[string]any{
					"inventory": invStats,
					"downloads": queue,
				})
			}

			fmt.Printf("models: %d (%s)\n", invStats.TotalModels, humanBytes(invStats.TotalBytes))
			for sub, s := range invStats.BySubdir {
				fmt.Printf("  %-16s %4d  %s\n", sub, s.Count, humanBytes(s.Bytes))
			}
			fmt.Printf("downloads: %d queued, %d active, %d paused, %d finished\n",
				len(queue.Queued), len(queue.Active), len(queue.Paused), len(queue.History))
			return nil
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the search and inventory caches",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show per-namespace entry counts and sizes",
				Action: func(c *cli.Context) error {
					cr, err := newCore(c)
					if err != nil {
						return err
					}
					defer cr.Close()

					stats := cr.Cache().Stats()
					if c.Bool("json") {
						return emitJSON(stats)
					}
					for ns, s := range stats {
						fmt.Printf("%-12s %4d entries (%d expired), %s on disk\n",
							ns, s.Entries, s.Expired, humanBytes(s.FileBytes))
					}
					return nil
				},
			},
			{
				Name:      "clear",
				Usage:     "Drop cached entries (all namespaces, or one)",
				ArgsUsage: "[namespace]",
				Action: func(c *cli.Context) error {
					cr, err := newCore(c)
					if err != nil {
						return err
					}
					defer cr.Close()
					return cr.Cache().Clear(c.Args().First())
				},
			},
		},
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), strings.ToUpper("kmgtpe")[exp])
}
