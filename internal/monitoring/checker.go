package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// DefaultCooldown is how long an alert type stays quiet after it was sent.
const DefaultCooldown = time.Hour

// Checker collects metrics on an interval and delivers alerts, sending each
// alert type at most once per cooldown.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	if ctx.Err() != nil {
		return
	}
	log.Info("health checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)
	c.Check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check runs one collection and returns every triggered alert. Alerts whose
// type is still cooling down are not re-sent.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("no alerts",
			zap.Int("uploads", snap.Uploads),
			zap.Int("leads", snap.LeadsTotal),
		)
		return nil
	}

	fresh := c.due(alerts)
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("health check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_suppressed", len(alerts)-len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

// due filters out alerts sent within the cooldown and marks the rest as sent.
func (c *Checker) due(alerts []Alert) []Alert {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	return out
}
