// Precompress walks a directory tree (or a YAML job spec) and writes .gz/
// .br sibling files next to qualifying originals, for fsstore's Accept-
// Encoding variant negotiation to serve later.
//
// Grounded on lwithers/htpack's cmd/htpacker: same cobra "pack"-style
// subcommand (YAML spec XOR file/dir arguments, --out replaced by in-place
// sibling generation since there is no longer a single output archive), and
// the same "skip if compression doesn't save enough" heuristic that
// packer.go's "TODO: abandon packed version if no size saving" comment
// gestures at but never implements — SPEC_FULL.md's minCompressionSaving/
// minCompressionFraction is that implementation.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "precompress",
	Short: "precompress generates .gz/.br sibling files for static assets",
	Long: `Creates .gz and .br sibling files next to static assets so they can be
served via Accept-Encoding negotiation without compressing on the fly.

A YAML specification of files to compress may be provided with --spec, or
files and directories may be listed as arguments.`,
	RunE: run,
}

func main() {
	rootCmd.Flags().StringP("spec", "y", "",
		"YAML specification of files to compress (if not present, walk the given files/dirs)")
	rootCmd.Flags().Int64("min-saving", 128,
		"Skip writing a variant that saves fewer than this many bytes")
	rootCmd.Flags().Float64("min-fraction", 0.95,
		"Skip writing a variant unless compressed size is at or below this fraction of the original")
	rootCmd.Flags().Int("concurrency", runtime.NumCPU(),
		"Maximum number of files compressed concurrently")
	rootCmd.Flags().Bool("disable-gzip", false, "Skip gzip variant generation")
	rootCmd.Flags().Bool("disable-brotli", false, "Skip brotli variant generation")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cobra.Command, args []string) error {
	spec, err := c.Flags().GetString("spec")
	if err != nil {
		return err
	}
	minSaving, err := c.Flags().GetInt64("min-saving")
	if err != nil {
		return err
	}
	minFraction, err := c.Flags().GetFloat64("min-fraction")
	if err != nil {
		return err
	}
	concurrency, err := c.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	disableGzip, err := c.Flags().GetBool("disable-gzip")
	if err != nil {
		return err
	}
	disableBrotli, err := c.Flags().GetBool("disable-brotli")
	if err != nil {
		return err
	}

	var targets Targets
	switch {
	case spec != "" && len(args) != 0:
		return fmt.Errorf("cannot specify files when using --spec")
	case spec != "":
		targets, err = loadSpec(spec)
	case len(args) != 0:
		targets, err = targetsFromList(args)
	default:
		return fmt.Errorf("must specify --spec or one or more files/directories")
	}
	if err != nil {
		return err
	}

	opts := Options{
		MinSaving:     minSaving,
		MinFraction:   minFraction,
		Concurrency:   concurrency,
		DisableGzip:   disableGzip,
		DisableBrotli: disableBrotli,
	}

	report, err := CompressTargets(c.Context(), targets, opts)
	if err != nil {
		return err
	}
	for _, r := range report {
		fmt.Fprintln(os.Stdout, r)
	}
	return nil
}
