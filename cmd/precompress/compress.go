package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

// Options configures CompressTargets (spec.md §6's maxRanges-style
// caller-facing surface, scoped to the precompress tool).
type Options struct {
	MinSaving     int64
	MinFraction   float64
	Concurrency   int
	DisableGzip   bool
	DisableBrotli bool
}

// CompressTargets compresses every target concurrently, bounded by
// opts.Concurrency, using golang.org/x/sync/errgroup the way the rest of
// the retrieval pack bounds worker pools. It returns one report line per
// variant written or skipped (up to two per target), in no particular order, and fails fast on the first hard error
// (an I/O failure unrelated to the savings heuristic).
func CompressTargets(ctx context.Context, targets Targets, opts Options) ([]string, error) {
	g, ctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	var mu sync.Mutex
	var report []string

	for _, target := range targets {
		target := target
		g.Go(func() error {
			lines, err := compressOne(ctx, target, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", target.Path, err)
			}
			mu.Lock()
			report = append(report, lines...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func compressOne(ctx context.Context, target Target, opts Options) ([]string, error) {
	fi, err := os.Stat(target.Path)
	if err != nil {
		return nil, err
	}
	original := fi.Size()

	var lines []string

	if !opts.DisableGzip && !target.DisableGzip {
		written, skipped, err := compressVariant(target.Path, ".gz", original, opts, func(dst io.Writer, src io.Reader) error {
			zw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
			if err != nil {
				return err
			}
			if _, err := io.Copy(zw, src); err != nil {
				return err
			}
			return zw.Close()
		})
		if err != nil {
			return nil, err
		}
		lines = append(lines, reportLine(target.Path, ".gz", original, written, skipped))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !opts.DisableBrotli && !target.DisableBrotli {
		written, skipped, err := compressVariant(target.Path, ".br", original, opts, func(dst io.Writer, src io.Reader) error {
			bw := brotli.NewWriterLevel(dst, brotli.BestCompression)
			if _, err := io.Copy(bw, src); err != nil {
				return err
			}
			return bw.Close()
		})
		if err != nil {
			return nil, err
		}
		lines = append(lines, reportLine(target.Path, ".br", original, written, skipped))
	}

	return lines, nil
}

// compressVariant writes path+suffix atomically (temp file + rename, the
// same durability pattern as htpack's writefile.New/Commit, reimplemented
// directly against os.CreateTemp/os.Rename since lwithers/pkg isn't present
// in the retrieval pack — see DESIGN.md), applying the minSaving/
// minFraction heuristic before committing.
func compressVariant(path, suffix string, original int64, opts Options, encode func(dst io.Writer, src io.Reader) error) (written int64, skipped bool, err error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer src.Close()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".precompress-*")
	if err != nil {
		return 0, false, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if err = encode(tmp, src); err != nil {
		tmp.Close()
		return 0, false, err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return 0, false, err
	}

	fi, statErr := tmp.Stat()
	if statErr != nil {
		tmp.Close()
		return 0, false, statErr
	}
	written = fi.Size()

	if err = tmp.Close(); err != nil {
		return 0, false, err
	}

	saving := original - written
	fraction := float64(written) / float64(original)
	if saving < opts.MinSaving || fraction > opts.MinFraction {
		os.Remove(tmpName)
		return written, true, nil
	}

	if err = os.Rename(tmpName, path+suffix); err != nil {
		return 0, false, err
	}
	return written, false, nil
}

func reportLine(path, suffix string, original, written int64, skipped bool) string {
	if skipped {
		return fmt.Sprintf("%s%s: skipped (insufficient saving, %d -> %d)", path, suffix, original, written)
	}
	return fmt.Sprintf("%s%s: %d -> %d bytes", path, suffix, original, written)
}
