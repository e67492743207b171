package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
)

// formatsCmd lists the known symbologies.
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List barcode formats and their integer codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		all := barcode.AllFormats()

		if asJSON {
			type entry struct {
				Code int    `json:"code"`
				Name string `json:"name"`
			}
			out := make([]entry, len(all))
			for i, f := range all {
				out[i] = entry{Code: int(f), Name: f.String()}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "CODE\tFORMAT")
		for _, f := range all {
			_, _ = fmt.Fprintf(tw, "%d\t%s\n", int(f), f)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
	formatsCmd.Flags().Bool("json", false, "print as JSON")
}
