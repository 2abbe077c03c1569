package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/diagnostics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/tracker"
)

var processCmd = &cobra.Command{
	Use:   "process <upload-id>",
	Short: "Personalize every lead of an upload through the webhook",
	Long: "Sends each lead of the upload to the webhook in row order, pausing between calls, " +
		"and records a success or error outcome per lead. Ctrl-C stops the run; unprocessed leads are marked as errors.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("process"); err != nil {
			return err
		}

		pcfg, err := personalizationFromFlags(cmd)
		if err != nil {
			return err
		}
		modeFlag, _ := cmd.Flags().GetString("mode")
		if modeFlag == "" {
			modeFlag = cfg.Batch.Mode
		}
		mode, err := orchestrator.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		upload, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "process")
		}
		items, err := st.ListItems(ctx, upload.ID)
		if err != nil {
			return eris.Wrap(err, "process")
		}

		set, closeSettings, err := initSettings(ctx)
		if err != nil {
			return err
		}
		defer closeSettings()
		if enabled, err := set.Enabled(ctx); err != nil {
			return eris.Wrap(err, "process")
		} else if !enabled {
			return eris.New("process: outreach is disabled (settings enabled=false)")
		}
		endpointFlag, _ := cmd.Flags().GetString("endpoint")
		endpoint := set.ResolveEndpoint(ctx, endpointFlag, cfg.Webhook.URL)

		if preflight, _ := cmd.Flags().GetBool("preflight"); preflight && endpoint != "" {
			report := newDiagnostics().Run(ctx, endpoint)
			if report.Overall != diagnostics.Healthy {
				zap.L().Warn("preflight diagnostics",
					zap.String("overall", string(report.Overall)),
					zap.Strings("recommendations", report.Recommendations),
				)
			}
		}

		pacing, _ := cmd.Flags().GetDuration("pacing")
		orch := newOrchestrator(st, pacing)

		req := orchestrator.RunRequest{
			UploadID: upload.ID,
			Leads:    store.Leads(items),
			Config:   pcfg,
			Endpoint: endpoint,
			Mode:     mode,
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			req.OnUpdate = progressPrinter(os.Stderr)
		}

		run, err := orch.Start(ctx, req)
		if err != nil {
			return err
		}

		summary := run.Wait()
		formatSummary(os.Stdout, summary)
		if ctx.Err() != nil {
			return eris.New("process: run cancelled")
		}
		return nil
	},
}

func personalizationFromFlags(cmd *cobra.Command) (model.PersonalizationConfig, error) {
	product, _ := cmd.Flags().GetString("product")
	tone, _ := cmd.Flags().GetString("tonality")
	lang, _ := cmd.Flags().GetString("language")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	noLookup, _ := cmd.Flags().GetBool("no-external-lookup")
	upsell, _ := cmd.Flags().GetStringSlice("upsell")
	upsellMsg, _ := cmd.Flags().GetString("upsell-message")

	tonality, err := model.ParseTonality(tone)
	if err != nil {
		return model.PersonalizationConfig{}, err
	}
	pcfg := model.PersonalizationConfig{
		ProductService: strings.TrimSpace(product),
		Tonality:       tonality,
		Language:       strings.TrimSpace(lang),
	}
	if len(upsell) > 0 || upsellMsg != "" {
		pcfg.Upsell = &model.UpsellOptions{Enabled: true, Products: upsell, Message: upsellMsg}
	}
	if len(exclude) > 0 || noLookup {
		pcfg.Restrictions = &model.DataRestrictions{ExcludeFields: exclude, NoExternalLookup: noLookup}
	}
	return pcfg, nil
}

// progressPrinter reports every finished lead on one line.
func progressPrinter(out io.Writer) func(tracker.Snapshot) {
	return func(s tracker.Snapshot) {
		done := s.Stats.Success + s.Stats.Error
		if s.Phase == tracker.PhaseCompleted {
			_, _ = fmt.Fprintf(out, "done: %d succeeded, %d failed\n", s.Stats.Success, s.Stats.Error)
			return
		}
		if s.Current < 0 || s.Current >= len(s.Results) || !s.Results[s.Current].Status.Terminal() {
			return
		}
		r := s.Results[s.Current]
		_, _ = fmt.Fprintf(out, "[%d/%d] lead %d %s\n", done, s.Stats.Total, r.Index, r.Status)
	}
}

// formatSummary writes per-lead outcomes and totals to out.
func formatSummary(out io.Writer, s *orchestrator.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tSTATUS\tMESSAGE")
	for _, r := range s.Results {
		text := r.PersonalizedMessage
		if r.Status == model.StatusError {
			text = r.Error
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", r.Index, r.Status, oneLine(text, 80))
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nrun %s (%s): %d succeeded, %d failed of %d in %s\n",
		s.RunID, s.Mode, s.Stats.Success, s.Stats.Error, s.Stats.Total, s.Duration.Round(time.Millisecond))
}

func oneLine(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}

// addPersonalizationFlags registers the flags read by personalizationFromFlags.
func addPersonalizationFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("product", "", "product or service the outreach promotes (required)")
	f.String("tonality", "Professional", "message tone: Professional, Friendly, Casual, Direct, Humorous")
	f.String("language", "", "language of the generated messages")
	f.StringSlice("exclude", nil, "lead columns never sent to the webhook")
	f.Bool("no-external-lookup", false, "ask the webhook not to research leads externally")
	f.StringSlice("upsell", nil, "additional products to mention")
	f.String("upsell-message", "", "upsell hint passed to the webhook")
}

func init() {
	addPersonalizationFlags(processCmd)
	f := processCmd.Flags()
	f.String("mode", "", "sequential (one call per lead) or batch (one call for all leads); default from config")
	f.String("endpoint", "", "webhook URL (default from settings, then config)")
	f.Bool("preflight", false, "run endpoint diagnostics before processing and log problems")
	f.Duration("pacing", -1, "pause between sequential calls (default from config)")
	f.Bool("quiet", false, "suppress per-lead progress")
	rootCmd.AddCommand(processCmd)
}
