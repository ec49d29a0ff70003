// Command bundleextract extracts files from a content-addressed bundle
// archive into an output directory tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/lmittmann/tint"

	"github.com/themixednuts/poe2/pkg/bundle"
	"github.com/themixednuts/poe2/pkg/extract"
	"github.com/themixednuts/poe2/pkg/index"
)

const indexBundleName = "_.index.bin"

func main() {
	var (
		input   = flag.String("input", "", "root directory containing Bundles2/ (required)")
		output  = flag.String("output", "", "output directory for extracted files (required)")
		filter  = flag.String("filter", "", "comma-separated glob filter, e.g. \"*.dds,metadata/**/*.ot\"")
		shaders = flag.Bool("shaders", false, "include shadercache bundles and files")
		workers = flag.Int("workers", runtime.NumCPU(), "worker pool size for parallel decompression and extraction")
		verbose = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -input <dir> -output <dir> [-filter <pattern>] [-shaders] [-workers N]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))

	if *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -input and -output are required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*input, *output, *filter, *shaders, *workers, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output, filter string, shaders bool, workers int, logger *slog.Logger) error {
	start := time.Now()
	indexPath := filepath.Join(input, "Bundles2", indexBundleName)
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("reading index bundle %s: %w", indexPath, err)
	}

	indexBundle, err := bundle.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing index bundle: %w", err)
	}

	ctx := context.Background()
	payload, err := indexBundle.Decompress(ctx, workers)
	if err != nil {
		return fmt.Errorf("decompressing index bundle: %w", err)
	}

	idx, err := index.Parse(payload, index.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("parsing index payload: %w", err)
	}

	result, err := extract.Run(ctx, idx, extract.Options{
		Input:   input,
		Output:  output,
		Shaders: shaders,
		Filter:  filter,
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	logger.Info("extraction complete",
		"duration", time.Since(start),
		"bundles_read", result.BundlesRead,
		"bundles_failed", result.BundlesFailed,
		"files_written", result.FilesWritten,
		"bytes_written", result.BytesWritten,
	)
	return nil
}
