package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// formatBatchResults formats the batch results in the specified format.
func formatBatchResults(r *Result, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return formatJSON(r)
	case FormatCSV:
		return formatCSV(r)
	case FormatText, "":
		return formatText(r), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatJSON(r *Result) (string, error) {
	out := struct {
		Images  []Item  `json:"images"`
		Summary Summary `json:"summary"`
	}{Images: r.Items, Summary: r.Summary()}
	if out.Images == nil {
		out.Images = []Item{}
	}
	bts, err := json.MarshalIndent(out, "", "  ")
	return string(bts), err
}

func formatCSV(r *Result) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.Write([]string{"file", "format", "text", "error"}); err != nil {
		return "", err
	}
	for _, it := range r.Items {
		row := []string{it.File, "", "", it.Error}
		if it.Result != nil {
			row[1] = it.Result.FormatValue()
			row[2] = it.Result.TextValue()
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

// formatText writes one line per image: "file: FORMAT text" or "file: error: reason".
func formatText(r *Result) string {
	var output strings.Builder
	for _, it := range r.Items {
		switch {
		case it.Result != nil:
			fmt.Fprintf(&output, "%s: %s %s\n", it.File, it.Result.FormatValue(), it.Result.TextValue())
		case it.Error != "":
			fmt.Fprintf(&output, "%s: error: %s\n", it.File, it.Error)
		default:
			fmt.Fprintf(&output, "%s:\n", it.File)
		}
	}
	return output.String()
}
