package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/diagnostics"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [endpoint]",
	Short: "Probe the webhook endpoint for reachability, CORS, POST support and URL shape",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("diagnose"); err != nil {
			return err
		}

		set, closeSettings, err := initSettings(ctx)
		if err != nil {
			return err
		}
		defer closeSettings()

		var explicit string
		if len(args) == 1 {
			explicit = args[0]
		}
		endpoint := set.ResolveEndpoint(ctx, explicit, cfg.Webhook.URL)
		if endpoint == "" {
			return eris.New("diagnose: no webhook endpoint given or configured")
		}

		report := newDiagnostics().Run(ctx, endpoint)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

// formatReport writes a human-readable diagnostics report to out.
func formatReport(out io.Writer, r diagnostics.Report) {
	_, _ = fmt.Fprintf(out, "Endpoint: %s\nOverall:  %s\n\n", r.Endpoint, r.Overall)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tHTTP\tTIME\tDETAIL")
	for _, tr := range r.Results {
		httpStatus := "-"
		if tr.HTTPStatus > 0 {
			httpStatus = fmt.Sprint(tr.HTTPStatus)
		}
		detail := tr.Message
		if tr.ErrorMessage != "" {
			detail += ": " + tr.ErrorMessage
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			tr.Name, tr.Status, httpStatus, tr.ResponseTime.Round(time.Millisecond), oneLine(detail, 100))
	}
	_ = w.Flush()

	if len(r.Recommendations) > 0 {
		_, _ = fmt.Fprintln(out, "\nRecommendations:")
		for _, rec := range r.Recommendations {
			_, _ = fmt.Fprintf(out, "  - %s\n", rec)
		}
	}
}

func init() {
	diagnoseCmd.Flags().Bool("json", false, "print the full report as JSON")
	rootCmd.AddCommand(diagnoseCmd)
}
