// Package extract drives the extraction pipeline: filtered iteration over
// an index's bundles, parallel bundle reads and decompression, and
// per-file slicing to an output directory tree.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/themixednuts/poe2/pkg/bundle"
	"github.com/themixednuts/poe2/pkg/index"
)

// IOError reports a filesystem failure while reading a bundle or writing
// an extracted file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("extract: io error on %q: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Options configures a Run invocation.
type Options struct {
	// Input is the root directory containing a Bundles2/ subdirectory.
	Input string
	// Output is the root directory extracted files are written under.
	Output string
	// Shaders, when false, excludes bundles and files whose path contains
	// "shadercache".
	Shaders bool
	// Filter is an optional comma-separated glob pattern; empty matches
	// everything.
	Filter string
	// Workers bounds the outer (per-bundle) and inner (per-chunk/per-file)
	// worker pools. <= 0 means unbounded.
	Workers int
	// Logger receives warnings for missing bundle files and errors for
	// failed bundles. Unresolved path hashes are reported by the index's own
	// logger (index.WithLogger), not this one. Defaults to slog.Default().
	Logger *slog.Logger
}

// Result summarizes a completed extraction run (spec.md §6A, supplemented
// convenience type).
type Result struct {
	BytesWritten int64
	FilesWritten int64
	BundlesRead  int64
	// BundlesFailed counts bundles that failed to parse, decompress, or
	// have a file written (spec.md §7): a genuine per-bundle failure,
	// distinct from a missing bundle file, which is a non-fatal skip and
	// is not counted here.
	BundlesFailed int64
}

const shaderCacheMarker = "shadercache"

// Run drives the full extraction pipeline described in spec.md §4.4: it
// resolves the filtered file set from idx's cached path dictionary, then
// for each bundle in parallel reads it from disk, decompresses it, and
// writes every matching file's slice into opts.Output.
func Run(ctx context.Context, idx *index.Index, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bundlesDir := filepath.Join(opts.Input, "Bundles2")
	info, err := os.Stat(bundlesDir)
	if err != nil {
		return Result{}, &IOError{Path: bundlesDir, Err: err}
	}
	if !info.IsDir() {
		return Result{}, &IOError{Path: bundlesDir, Err: fmt.Errorf("not a directory")}
	}

	match, err := compileFilter(opts.Filter)
	if err != nil {
		return Result{}, err
	}

	dict, err := idx.Dictionary(opts.Workers)
	if err != nil {
		return Result{}, err
	}

	type job struct {
		bundleRec *index.BundleRecord
		files     []index.Entry
	}

	jobs := make([]job, 0, len(dict))
	for bundleIdx, entries := range dict {
		if int(bundleIdx) >= len(idx.Bundles) {
			continue
		}
		br := &idx.Bundles[bundleIdx]
		if !opts.Shaders && strings.Contains(br.Path, shaderCacheMarker) {
			continue
		}

		kept := entries[:0:0]
		for _, e := range entries {
			if match(e.Path) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			continue
		}
		jobs = append(jobs, job{bundleRec: br, files: kept})
	}

	var bytesWritten, filesWritten, bundlesRead, bundlesFailed int64

	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			n, files, skipped, err := extractBundle(ctx, bundlesDir, opts.Output, j.bundleRec, j.files, opts.Shaders, opts.Workers, logger)
			if err != nil {
				// A failure in one bundle's extraction does not abort
				// sibling bundles (spec.md §5), but it is a real failure,
				// not a missing-file skip: log at Error and count it
				// (spec.md §7) so callers can't mistake it for a clean run.
				logger.Error("extract: bundle extraction failed", "bundle", j.bundleRec.Path, "error", err)
				atomic.AddInt64(&bundlesFailed, 1)
				return nil
			}
			if skipped {
				return nil
			}
			atomic.AddInt64(&bytesWritten, n)
			atomic.AddInt64(&filesWritten, files)
			atomic.AddInt64(&bundlesRead, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		BytesWritten:  atomic.LoadInt64(&bytesWritten),
		FilesWritten:  atomic.LoadInt64(&filesWritten),
		BundlesRead:   atomic.LoadInt64(&bundlesRead),
		BundlesFailed: atomic.LoadInt64(&bundlesFailed),
	}, nil
}

// extractBundle reads, decompresses, and writes out one bundle's matched
// files. A missing bundle file is logged and reported via skipped=true
// (spec.md §4.4 step 4a) rather than as an error, distinguishing it from a
// genuine parse/decompress/write failure in the returned error.
func extractBundle(ctx context.Context, bundlesDir, outputRoot string, br *index.BundleRecord, entries []index.Entry, shaders bool, workers int, logger *slog.Logger) (int64, int64, bool, error) {
	bundlePath := filepath.Join(bundlesDir, br.Path+".bundle.bin")
	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("extract: bundle file not found", "path", bundlePath)
			return 0, 0, true, nil
		}
		return 0, 0, false, &IOError{Path: bundlePath, Err: err}
	}

	b, err := bundle.Parse(raw)
	if err != nil {
		return 0, 0, false, err
	}
	data, err := b.Decompress(ctx, workers)
	if err != nil {
		return 0, 0, false, err
	}

	var bytesWritten, filesWritten int64

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, e := range entries {
		e := e
		if !shaders && strings.Contains(e.Path, shaderCacheMarker) {
			continue
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			n, err := writeFile(outputRoot, e, data)
			if err != nil {
				return err
			}
			atomic.AddInt64(&bytesWritten, n)
			atomic.AddInt64(&filesWritten, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, 0, false, err
	}
	return atomic.LoadInt64(&bytesWritten), atomic.LoadInt64(&filesWritten), false, nil
}

func writeFile(outputRoot string, e index.Entry, data []byte) (int64, error) {
	start, end := int64(e.File.Offset), int64(e.File.Offset)+int64(e.File.Size)
	if start < 0 || end > int64(len(data)) {
		return 0, &IOError{Path: e.Path, Err: fmt.Errorf("file slice out of bounds of decompressed bundle")}
	}
	slice := data[start:end]

	outPath := filepath.Join(outputRoot, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, &IOError{Path: outPath, Err: err}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return 0, &IOError{Path: outPath, Err: err}
	}
	defer f.Close()

	n, err := f.Write(slice)
	if err != nil {
		return 0, &IOError{Path: outPath, Err: err}
	}
	if int64(n) != int64(e.File.Size) {
		return 0, &IOError{Path: outPath, Err: fmt.Errorf("wrote %d bytes, expected %d", n, e.File.Size)}
	}
	return int64(n), nil
}
