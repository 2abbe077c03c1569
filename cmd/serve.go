package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		set, closeSettings, err := initSettings(ctx)
		if err != nil {
			return err
		}
		defer closeSettings()

		mode, err := orchestrator.ParseMode(cfg.Batch.Mode)
		if err != nil {
			return err
		}
		diag := newDiagnostics()

		srv := server.New(cfg.Server, server.Deps{
			Store:        st,
			Orchestrator: newOrchestrator(st, -1),
			Diagnostics:  diag,
			Settings:     set,
			Endpoint:     cfg.Webhook.URL,
			Mode:         mode,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Serve(gctx, port) })

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(st, diag, func(ctx context.Context) string {
				return set.ResolveEndpoint(ctx, "", cfg.Webhook.URL)
			})
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
