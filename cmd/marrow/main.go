// Marrow CLI - drives the collector and the execution stack through
// workloads and reports what each collection did.
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/marrow/config"
	"github.com/chazu/marrow/gcstats"
	"github.com/chazu/marrow/heapdump"
)

func main() {
	configDir := flag.String("config", ".", "Directory to search upward for marrow.toml")
	verbosity := flag.Int("v", 0, "Log verbosity (overrides [log] verbosity)")
	incremental := flag.Bool("incremental", false, "Collect incrementally (overrides [incremental] enabled)")
	statsPath := flag.String("stats", "", "SQLite database recording every collection (overrides [stats] database)")
	dumpPath := flag.String("dump", "", "Write a CBOR heap dump to this file after the workloads")
	dumpText := flag.Bool("dump-text", false, "Print a text heap dump after the workloads")
	census := flag.Bool("census", false, "Print a heap census after the workloads")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: marrow [options] [workloads...]\n")
		fmt.Fprintf(os.Stderr, "       marrow stats [n]\n")
		fmt.Fprintf(os.Stderr, "       marrow init\n\n")
		fmt.Fprintf(os.Stderr, "Runs the named workloads, or all of them, against a fresh heap.\n\n")
		fmt.Fprintf(os.Stderr, "Workloads:\n")
		for _, w := range workloads {
			fmt.Fprintf(os.Stderr, "  %-12s %s\n", w.name, w.help)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  marrow                          # Run every workload\n")
		fmt.Fprintf(os.Stderr, "  marrow -incremental cycle rope  # Run two workloads with incremental collection\n")
		fmt.Fprintf(os.Stderr, "  marrow -stats gc.db && marrow -stats gc.db stats 5\n")
		fmt.Fprintf(os.Stderr, "  marrow -dump heap.cbor shapes   # Dump the heap left by a workload\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Log.Verbosity = *verbosity
		case "incremental":
			cfg.Incremental.Enabled = *incremental
		case "stats":
			abs, err := filepath.Abs(*statsPath)
			if err != nil {
				abs = *statsPath
			}
			cfg.Stats.Database = abs
		}
	})
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "stats":
			handleStatsCommand(args[1:], cfg)
			return
		case "init":
			handleInitCommand(*configDir)
			return
		}
	}

	h, err := newHarness(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer h.close()

	if err := h.run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		h.close()
		os.Exit(1)
	}

	if *census {
		printCensus(heapdump.TakeCensus(h.rt))
	}
	if *dumpPath != "" || *dumpText {
		if err := writeDump(h, *dumpPath, *dumpText); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			h.close()
			os.Exit(1)
		}
	}
}

// handleStatsCommand processes the `marrow stats` subcommand.
func handleStatsCommand(args []string, cfg *config.Config) {
	path := cfg.StatsPath()
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: marrow -stats <database> stats [n]")
		fmt.Fprintln(os.Stderr, "  (or configure [stats] database in marrow.toml)")
		os.Exit(1)
	}
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid count: %s\n", args[0])
			os.Exit(1)
		}
		n = v
	}

	rec, err := gcstats.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rec.Close()

	sum, err := rec.Summarize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Collections: %d (%d incremental, %d aborted)\n", sum.Collections, sum.Incremental, sum.Aborted)
	fmt.Printf("Cells freed: %d\n", sum.CellsFreed)
	fmt.Printf("Pause: mean %s, max %s\n", sum.MeanTotal, sum.MaxTotal)

	recent, err := rec.Recent(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, st := range recent {
		fmt.Println(formatStats(st))
	}
}

// handleInitCommand writes a marrow.toml with the default settings.
func handleInitCommand(dir string) {
	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists\n", path)
		os.Exit(1)
	}
	if err := config.Write(path, config.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func printCensus(c *heapdump.Census) {
	for _, cc := range c.Compartments {
		fmt.Printf("compartment %s: %d arenas, %d cells\n", cc.Name, cc.Arenas, cc.Total())
		for _, kind := range slices.Sorted(maps.Keys(cc.Cells)) {
			fmt.Printf("  %-12s %d\n", kind, cc.Cells[kind])
		}
	}
}

func writeDump(h *harness, path string, text bool) error {
	d, err := heapdump.Capture(h.rt)
	if err != nil {
		return err
	}
	if text {
		if err := heapdump.WriteText(os.Stdout, d); err != nil {
			return err
		}
	}
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := heapdump.Encode(f, d); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
