package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/config"
)

// scanCmd runs one scan session on a capture adapter.
var scanCmd = &cobra.Command{
	Use:   "scan [files...]",
	Short: "Scan one barcode from a capture adapter",
	Long: `Open a scan session on the configured capture adapter and print the first
barcode it reads. Ctrl-C cancels the session, which is reported as a cancelled
result rather than an error.

Examples:
  scanbridge scan label.png other.jpg
  scanbridge scan --adapter pdf --pages 1-3 invoice.pdf
  scanbridge scan --adapter dir --frame-dir /var/spool/frames --timeout 30s
  scanbridge scan --adapter prompt --prompt "Scan the parcel label"`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("adapter", "", "capture adapter: files, dir, pdf or prompt (default from scanner.adapter)")
	scanCmd.Flags().StringSlice("formats", nil, "restrict decoding to these formats (e.g. QR_CODE,EAN_13)")
	scanCmd.Flags().Bool("try-harder", false, "spend more time per frame, including rotated frames")
	scanCmd.Flags().String("prompt", "", "prompt shown by the prompt adapter")
	scanCmd.Flags().String("frame-dir", "", "directory watched by the dir adapter")
	scanCmd.Flags().Bool("include-existing", false, "dir adapter: also decode frames already in the directory")
	scanCmd.Flags().String("pages", "", "pdf adapter: page range, e.g. 1-3,5")
	scanCmd.Flags().String("password", "", "pdf adapter: document password")
	scanCmd.Flags().Duration("timeout", 0, "cancel the scan after this long (0 waits forever)")
	scanCmd.Flags().StringP("format", "f", "text", "output format: text or json")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	applyScanFlags(cmd, cfg)

	name := cfg.Scanner.Adapter
	if cmd.Flags().Changed("adapter") {
		name, _ = cmd.Flags().GetString("adapter")
	}
	if name == adapter.NameRemote {
		return errors.New("the remote adapter needs a device connection; use `scanbridge serve`")
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported output format: %s (must be text or json)", format)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	logger := slog.Default()
	f, cleanup, err := newFacade(cfg, adapterSettings{
		name:  name,
		files: args,
		in:    cmd.InOrStdin(),
		out:   cmd.ErrOrStderr(),
	}, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := f.ScanContext(ctx, cfg.ScanRequest())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	logger.Debug("Scan finished", "adapter", name, "cancelled", res.Cancelled, "duration", time.Since(start))
	return writeScanResult(cmd, res, format)
}

// applyScanFlags folds explicitly set scan flags into cfg.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("formats") {
		cfg.Scanner.Formats, _ = fl.GetStringSlice("formats")
	}
	if fl.Changed("try-harder") {
		cfg.Scanner.TryHarder, _ = fl.GetBool("try-harder")
	}
	if fl.Changed("prompt") {
		cfg.Scanner.Prompt, _ = fl.GetString("prompt")
	}
	if fl.Changed("frame-dir") {
		cfg.Scanner.FrameDir, _ = fl.GetString("frame-dir")
	}
	if fl.Changed("include-existing") {
		cfg.Scanner.IncludeExisting, _ = fl.GetBool("include-existing")
	}
	if fl.Changed("pages") {
		cfg.Scanner.PDFPages, _ = fl.GetString("pages")
	}
	if fl.Changed("password") {
		cfg.Scanner.PDFPassword, _ = fl.GetString("password")
	}
}

func writeScanResult(cmd *cobra.Command, res bridge.ScanResult, format string) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Cancelled {
		_, _ = fmt.Fprintln(out, "Scan cancelled")
		return nil
	}
	label := res.FormatValue()
	if label == "" {
		label = "UNKNOWN"
	}
	_, _ = fmt.Fprintf(out, "%s: %s\n", label, strings.TrimRight(res.TextValue(), "\r\n"))
	return nil
}
