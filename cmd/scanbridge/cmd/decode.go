package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scanbridge/internal/batch"
	"github.com/MeKo-Tech/scanbridge/internal/config"
)

// decodeCmd decodes many images in parallel without a scan session.
var decodeCmd = &cobra.Command{
	Use:   "decode [files|dirs...]",
	Short: "Decode barcodes in many images in parallel",
	Long: `Decode every image named on the command line, walking directories, on a
pool of workers. Images without a barcode are reported, not treated as errors.

Supported formats: JPEG, PNG, BMP, GIF

Examples:
  scanbridge decode *.png
  scanbridge decode scans/ --recursive --workers 8
  scanbridge decode scans/ --format csv --output results.csv --stats`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().IntP("workers", "w", 0, "number of parallel workers (default from batch.workers)")
	decodeCmd.Flags().BoolP("recursive", "r", false, "walk directories recursively")
	decodeCmd.Flags().StringSlice("include", nil, "only decode files matching these glob patterns")
	decodeCmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	decodeCmd.Flags().StringP("format", "f", "", "output format: text, json or csv (default from batch.format)")
	decodeCmd.Flags().StringP("output", "o", "", "write results to this file")
	decodeCmd.Flags().BoolP("quiet", "q", false, "suppress informational output")
	decodeCmd.Flags().Bool("stats", false, "print processing statistics")
	decodeCmd.Flags().StringSlice("formats", nil, "restrict decoding to these barcode formats")
	decodeCmd.Flags().Bool("try-harder", false, "spend more time per image, including rotated frames")
	decodeCmd.Flags().Bool("continue-on-error", false, "keep going when an image cannot be read")
}

// configToBatchConfig maps the configuration to batch.Config with CLI flag overrides.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) batch.Config {
	fl := cmd.Flags()
	bc := batch.DefaultConfig()
	bc.Frame = cfg.FrameOptions()
	bc.Request = cfg.ScanRequest()

	bc.Workers = cfg.Batch.Workers
	if fl.Changed("workers") {
		bc.Workers, _ = fl.GetInt("workers")
	}
	if bc.Workers <= 0 {
		bc.Workers = runtime.NumCPU()
	}
	bc.Recursive = cfg.Batch.Recursive
	if fl.Changed("recursive") {
		bc.Recursive, _ = fl.GetBool("recursive")
	}
	bc.IncludePatterns = cfg.Batch.Include
	if fl.Changed("include") {
		bc.IncludePatterns, _ = fl.GetStringSlice("include")
	}
	bc.ExcludePatterns = cfg.Batch.Exclude
	if fl.Changed("exclude") {
		bc.ExcludePatterns, _ = fl.GetStringSlice("exclude")
	}
	bc.ContinueOnError = cfg.Batch.ContinueOnError
	if fl.Changed("continue-on-error") {
		bc.ContinueOnError, _ = fl.GetBool("continue-on-error")
	}
	if fl.Changed("formats") {
		bc.Request.Formats, _ = fl.GetStringSlice("formats")
	}
	if fl.Changed("try-harder") {
		bc.Request.TryHarder, _ = fl.GetBool("try-harder")
	}
	return bc
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	bc := configToBatchConfig(cfg, cmd)

	format := cfg.Batch.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	if format == "" {
		format = batch.FormatText
	}
	output, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")
	stats, _ := cmd.Flags().GetBool("stats")

	f, cleanup, err := newFacade(cfg, adapterSettings{}, slog.Default())
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Debug("Starting batch decode", "inputs", len(args), "workers", bc.Workers, "recursive", bc.Recursive)
	res, err := batch.ProcessBatch(cmd.Context(), f, args, bc)
	if err != nil {
		if errors.Is(err, batch.ErrNoImages) {
			return fmt.Errorf("no supported image files found in %v", args)
		}
		return err
	}

	if err := res.SaveResults(cmd.OutOrStdout(), format, output, quiet); err != nil {
		return err
	}
	if stats && !quiet {
		res.PrintStats(cmd.OutOrStdout())
	}
	return nil
}
