package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/tracker"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Inspect stored lead uploads",
}

// -- uploads list --

var uploadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")

		uploads, err := st.ListBatches(ctx, store.BatchFilter{
			Owner:  owner,
			Status: model.UploadStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "uploads list")
		}

		if len(uploads) == 0 {
			fmt.Fprintln(os.Stderr, "No uploads found.")
			return nil
		}
		formatUploadsList(os.Stdout, uploads)
		return nil
	},
}

// -- uploads show --

var uploadsShowCmd = &cobra.Command{
	Use:   "show <upload-id>",
	Short: "Show an upload with its config and per-lead outcome counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		upload, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "uploads show")
		}
		items, err := st.ListItems(ctx, upload.ID)
		if err != nil {
			return eris.Wrap(err, "uploads show")
		}
		pcfg, err := st.GetConfig(ctx, upload.ID)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			return eris.Wrap(err, "uploads show")
		}

		withItems, _ := cmd.Flags().GetBool("items")
		out := uploadDetail{CsvUpload: upload, Config: pcfg, Stats: itemStats(items)}
		if withItems {
			out.Items = items
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

type uploadDetail struct {
	*model.CsvUpload
	Config *model.PersonalizationConfig `json:"config,omitempty"`
	Stats  tracker.Stats                `json:"stats"`
	Items  []model.LeadItem             `json:"items,omitempty"`
}

// itemStats counts persisted outcomes. Rows never touched by a run count as
// pending.
func itemStats(items []model.LeadItem) tracker.Stats {
	results := make([]model.ProcessingResult, len(items))
	for i, it := range items {
		status := it.Status
		if status == "" {
			status = model.StatusPending
		}
		results[i] = model.ProcessingResult{Index: it.RowIndex, Status: status}
	}
	return tracker.ComputeStats(results)
}

func init() {
	uploadsListCmd.Flags().String("status", "", "filter by upload status (uploaded, processing, completed)")
	uploadsListCmd.Flags().String("owner", "", "filter by owner")
	uploadsListCmd.Flags().Int("limit", 50, "max number of uploads to display")

	uploadsShowCmd.Flags().Bool("items", false, "include every lead row")

	uploadsCmd.AddCommand(uploadsListCmd)
	uploadsCmd.AddCommand(uploadsShowCmd)
	rootCmd.AddCommand(uploadsCmd)
}

// formatUploadsList writes a tabular list of uploads to out.
func formatUploadsList(out io.Writer, uploads []model.CsvUpload) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tOWNER\tROWS\tSTATUS\tUPLOADED")
	for _, u := range uploads {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			u.ID, u.Filename, u.Owner, u.RowCount, u.Status,
			u.UploadDate.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
