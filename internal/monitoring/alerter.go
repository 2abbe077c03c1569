package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/diagnostics"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLeadFailureRate AlertType = "lead_failure_rate"
	AlertEndpointHealth  AlertType = "endpoint_health"
	AlertStalledUploads  AlertType = "stalled_uploads"
)

// minFinishedLeads is the sample size below which the failure rate is not
// judged.
const minFinishedLeads = 5

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and delivers them to the alert
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	sender webhook.Sender
	log    *zap.Logger
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		sender: webhook.NewClient(webhook.WithTimeout(10 * time.Second)),
		log:    zap.L().With(zap.String("component", "monitoring.alerter")),
	}
}

// Evaluate checks snap against the configured thresholds.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, rule := range []func(*MetricsSnapshot) (Alert, bool){
		a.failureRate,
		a.endpointHealth,
		a.stalledUploads,
	} {
		if alert, fire := rule(snap); fire {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (a *Alerter) failureRate(snap *MetricsSnapshot) (Alert, bool) {
	finished := snap.LeadsSucceeded + snap.LeadsFailed
	if finished < minFinishedLeads || snap.LeadFailRate <= a.cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertLeadFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("%.1f%% of leads failed in the last %dh (%d of %d, threshold %.1f%%)",
			snap.LeadFailRate*100, snap.LookbackHours, snap.LeadsFailed, finished,
			a.cfg.FailureRateThreshold*100),
		Details: map[string]any{
			"failure_rate": snap.LeadFailRate,
			"threshold":    a.cfg.FailureRateThreshold,
			"failed":       snap.LeadsFailed,
			"finished":     finished,
		},
	}, true
}

func (a *Alerter) endpointHealth(snap *MetricsSnapshot) (Alert, bool) {
	ep := snap.Endpoint
	if ep == nil || ep.Overall == diagnostics.Healthy {
		return Alert{}, false
	}
	severity := "medium"
	if ep.Overall == diagnostics.Critical {
		severity = "high"
	}
	return Alert{
		Type:     AlertEndpointHealth,
		Severity: severity,
		Message:  fmt.Sprintf("webhook endpoint %s is %s", ep.Endpoint, ep.Overall),
		Details: map[string]any{
			"endpoint":        ep.Endpoint,
			"overall":         ep.Overall,
			"recommendations": ep.Recommendations,
		},
	}, true
}

func (a *Alerter) stalledUploads(snap *MetricsSnapshot) (Alert, bool) {
	limit := a.cfg.MaxProcessingUploads
	if limit <= 0 || snap.UploadsProcessing <= limit {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertStalledUploads,
		Severity: "medium",
		Message: fmt.Sprintf("%d uploads still processing in the last %dh (limit %d)",
			snap.UploadsProcessing, snap.LookbackHours, limit),
		Details: map[string]any{
			"processing": snap.UploadsProcessing,
			"limit":      limit,
		},
	}, true
}

// SendAlerts posts each alert to the alert webhook and returns how many were
// accepted. Delivery failures are logged.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.AlertWebhookURL == "" {
		return 0
	}
	sent := 0
	for _, alert := range alerts {
		resp := a.sender.Send(ctx, a.cfg.AlertWebhookURL, alert)
		if !resp.Success {
			a.log.Error("alert not delivered",
				zap.String("type", string(alert.Type)),
				zap.Int("status", resp.StatusCode),
				zap.String("error", resp.Error),
			)
			continue
		}
		a.log.Info("alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}
