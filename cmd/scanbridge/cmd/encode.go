package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
)

// encodeCmd renders data as a barcode image.
var encodeCmd = &cobra.Command{
	Use:   "encode [data]",
	Short: "Render data as a barcode PNG",
	Long: `Render data as a barcode. The PNG is printed as a data URI, or written to
--output. EMAIL_TYPE, PHONE_TYPE and SMS_TYPE prefix the data with mailto:,
tel:+1 and smsto: unless it already carries the scheme.

Examples:
  scanbridge encode "hello world"
  scanbridge encode --type SMS_TYPE 5551234 --output sms.png
  scanbridge encode --barcode-format CODE_128 --size 400 ABC-123`,
	Args: cobra.ExactArgs(1),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	encodeCmd.Flags().StringP("type", "t", string(bridge.TextType), "data type: TEXT_TYPE, EMAIL_TYPE, PHONE_TYPE or SMS_TYPE")
	encodeCmd.Flags().StringP("output", "o", "", "write the PNG to this file instead of printing a data URI")
	encodeCmd.Flags().Int("size", 0, "image size in pixels (default from encoder.size)")
	encodeCmd.Flags().String("barcode-format", "", "symbology, e.g. QR_CODE, CODE_128, DATA_MATRIX (default from encoder.format)")
	encodeCmd.Flags().String("foreground", "", "foreground color as hex")
	encodeCmd.Flags().String("background", "", "background color as hex")
	encodeCmd.Flags().String("recovery", "", "QR error correction level: L, M, Q or H")
}

func runEncode(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	typ, _ := cmd.Flags().GetString("type")
	output, _ := cmd.Flags().GetString("output")

	opts := map[string]any{}
	if cmd.Flags().Changed("size") {
		opts["size"], _ = cmd.Flags().GetInt("size")
	}
	for flag, key := range map[string]string{
		"barcode-format": "format",
		"foreground":     "foreground",
		"background":     "background",
		"recovery":       "recovery",
	} {
		if cmd.Flags().Changed(flag) {
			opts[key], _ = cmd.Flags().GetString(flag)
		}
	}

	f, cleanup, err := newFacade(cfg, adapterSettings{}, slog.Default())
	if err != nil {
		return err
	}
	defer cleanup()

	uri, err := f.EncodeImage(bridge.EncodeRequest{
		Type:    bridge.ParseEncodeType(typ),
		Data:    args[0],
		Options: opts,
	})
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}

	if output == "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), uri)
		return nil
	}
	png, err := encoder.DecodeDataURI(uri)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(strings.ToLower(output), ".png") {
		slog.Warn("Output file does not end in .png", "output", output)
	}
	if err := os.WriteFile(output, png, 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", output, len(png))
	return nil
}
