package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/diagnostics"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initSettings opens the configured settings backend. The returned func
// releases it.
func initSettings(ctx context.Context) (*settings.Store, func(), error) {
	switch cfg.Settings.Backend {
	case "memory":
		return settings.New(settings.NewMemoryBackend()), func() {}, nil
	case "", "file":
		path := cfg.Settings.Path
		if path == "" {
			path = "settings.yaml"
		}
		return settings.New(settings.NewFileBackend(path)), func() {}, nil
	case "redis":
		rb, err := settings.DialRedis(ctx, cfg.Settings.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return settings.New(rb), func() { _ = rb.Close() }, nil
	default:
		return nil, nil, eris.Errorf("unsupported settings backend: %s", cfg.Settings.Backend)
	}
}

func newWebhookClient() *webhook.Client {
	return webhook.NewClient(
		webhook.WithTimeout(time.Duration(cfg.Webhook.TimeoutSecs)*time.Second),
		webhook.WithRetry(resilience.NewPolicy(cfg.Webhook.MaxAttempts, 0)),
		webhook.WithUserAgent("outreach-cli"),
	)
}

func newOrchestrator(st store.Store, pacing time.Duration) *orchestrator.Orchestrator {
	if pacing < 0 {
		pacing = time.Duration(cfg.Batch.PacingMS) * time.Millisecond
	}
	return orchestrator.New(newWebhookClient(), st,
		orchestrator.WithPacing(pacing),
		orchestrator.WithRetention(cfg.Batch.Retention),
	)
}

func newDiagnostics() *diagnostics.Suite {
	return diagnostics.New(
		diagnostics.WithTimeout(time.Duration(cfg.Diagnostics.TimeoutSecs)*time.Second),
		diagnostics.WithOrigin(cfg.Diagnostics.Origin),
	)
}
