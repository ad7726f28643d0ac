// Package main provides a CLI that runs the atlas components once for a single owner, against
// PostgreSQL or a local SQLite file, and prints a JSON summary.
//
// Usage:
//
//	atlas -op ingest -owner acme -file items.jsonl
//	atlas -op all -owner acme
//	atlas -op satellites -owner acme -anchors anchors.json
//	atlas -op clusters -owner acme -seed 42 -min-cluster-size 4
//	atlas -op show -owner acme
//
// Store selection and component settings come from the same environment variables as the
// worker (see internal/config); STORE_DRIVER=sqlite with SQLITE_PATH runs without a server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/formbricks/atlas/internal/components"
	"github.com/formbricks/atlas/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return 1
	}

	// Logs go to stderr so stdout carries only the JSON summary.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)

		return 1
	}
	defer closeStore()

	comps, err := components.New(cfg, store, nil, slog.Default())
	if err != nil {
		slog.Error("Failed to create components", "error", err)

		return 1
	}

	result, err := execute(ctx, comps, store, opts)
	if err != nil {
		slog.Error("Operation failed", "op", opts.op, "owner_id", opts.ownerID, "error", err)

		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(result); err != nil {
		slog.Error("Failed to write summary", "error", err)

		return 1
	}

	return 0
}

// options are the parsed command-line flags.
type options struct {
	op             string
	ownerID        string
	itemType       string
	file           string
	anchors        string
	mode           string
	minClusterSize int
	seed           int64
	seedSet        bool
}

func parseOptions(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("atlas", flag.ContinueOnError)
	fs.StringVar(&opts.op, "op", opAll, "operation: ingest, project, satellites, similarity, clusters, all or show")
	fs.StringVar(&opts.ownerID, "owner", "", "owner id (required)")
	fs.StringVar(&opts.itemType, "item-type", "", "item type to process (default: content)")
	fs.StringVar(&opts.file, "file", "", "JSON lines of items to ingest (op=ingest)")
	fs.StringVar(&opts.anchors, "anchors", "", "JSON file of anchor satellites to write before layout")
	fs.StringVar(&opts.mode, "mode", "", "similarity mode: vector or hybrid (default: SIMILARITY_MODE)")
	fs.IntVar(&opts.minClusterSize, "min-cluster-size", 0, "minimum cluster size (default: MIN_CLUSTER_SIZE)")
	fs.Int64Var(&opts.seed, "seed", 0, "fixed clustering seed")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedSet = true
		}
	})

	if opts.ownerID == "" {
		return opts, errMissingOwner
	}

	if _, ok := knownOps[opts.op]; !ok {
		return opts, fmt.Errorf("%w: %q", errUnknownOp, opts.op)
	}

	if opts.op == opIngest && opts.file == "" {
		return opts, errMissingFile
	}

	return opts, nil
}
