package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Columns appended to the lead columns in CSV exports.
var exportColumns = []string{"status", "personalized_message", "error"}

var exportCmd = &cobra.Command{
	Use:   "export <upload-id>",
	Short: "Write an upload's leads with their personalized messages as CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		upload, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		items, err := st.ListItems(ctx, upload.ID)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		out := io.Writer(os.Stdout)
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrap(err, "export: create output")
			}
			defer func() {
				if cerr := f.Close(); cerr != nil && err == nil {
					err = eris.Wrap(cerr, "export: close output")
				}
			}()
			out = f
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "csv":
			return writeItemsCSV(out, items)
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		default:
			return eris.Errorf("export: unknown format %q (csv or json)", format)
		}
	},
}

// writeItemsCSV writes one row per lead: the sorted union of lead columns,
// then the outcome columns.
func writeItemsCSV(out io.Writer, items []model.LeadItem) error {
	seen := make(map[string]bool)
	for _, it := range items {
		for _, k := range it.Data.Keys() {
			seen[k] = true
		}
	}
	header := make([]string, 0, len(seen))
	for k := range seen {
		header = append(header, k)
	}
	sort.Strings(header)

	w := csv.NewWriter(out)
	if err := w.Write(append(append([]string{}, header...), exportColumns...)); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, it := range items {
		row := make([]string, 0, len(header)+len(exportColumns))
		for _, k := range header {
			row = append(row, it.Data.Get(k))
		}
		status := it.Status
		if status == "" {
			status = model.StatusPending
		}
		row = append(row, string(status), it.PersonalizedMessage, it.Error)
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush")
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	exportCmd.Flags().String("format", "csv", "output format: csv or json")
	rootCmd.AddCommand(exportCmd)
}
