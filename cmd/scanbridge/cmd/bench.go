package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/benchmark"
)

// benchCmd times the decoder backends against the same frames.
var benchCmd = &cobra.Command{
	Use:   "bench [images...]",
	Short: "Compare decoder backends on sample images",
	Long: `Decode each image repeatedly with every selected backend and report the
average time per decode, heap allocation and what each backend found.

Frames are prepared with the scanner settings from the configuration, so the
numbers match what scan and decode see.

Examples:
  scanbridge bench label.png
  scanbridge bench frames/*.png --iterations 20 --backends gozxing
  scanbridge bench label.png --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 5, "decodes per image and backend")
	benchCmd.Flags().StringSlice("backends", []string{barcode.BackendGozxing, barcode.BackendGoqr},
		"decoder backends to compare")
	benchCmd.Flags().StringP("format", "f", "text", "output format: text or json")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	bc := benchmark.DefaultConfig()
	bc.Frame = cfg.FrameOptions()
	bc.Options = barcode.Options{
		Formats:   barcode.ParseFormats(cfg.Scanner.Formats),
		TryHarder: cfg.Scanner.TryHarder,
	}
	bc.Iterations, _ = cmd.Flags().GetInt("iterations")
	bc.Backends, _ = cmd.Flags().GetStringSlice("backends")
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported output format: %s", format)
	}

	slog.Debug("Starting backend benchmark", "images", len(args), "backends", bc.Backends, "iterations", bc.Iterations)
	cmps, err := benchmark.CompareBackends(cmd.Context(), args, bc)
	if err != nil {
		return err
	}
	return benchmark.WriteComparisons(cmd.OutOrStdout(), cmps, format)
}
