package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/diagnostics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of outreach health.
type MetricsSnapshot struct {
	// Upload metrics (within lookback window).
	Uploads           int `json:"uploads"`
	UploadsProcessing int `json:"uploads_processing"`
	UploadsCompleted  int `json:"uploads_completed"`

	// Lead metrics for uploads in the window.
	LeadsTotal     int     `json:"leads_total"`
	LeadsSucceeded int     `json:"leads_succeeded"`
	LeadsFailed    int     `json:"leads_failed"`
	LeadFailRate   float64 `json:"lead_fail_rate"`

	// Endpoint probe, nil when no endpoint is configured.
	Endpoint *diagnostics.Report `json:"endpoint,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BatchReader is the read side of the store the collector needs.
type BatchReader interface {
	ListBatches(ctx context.Context, filter store.BatchFilter) ([]model.CsvUpload, error)
	ListItems(ctx context.Context, batchID string) ([]model.LeadItem, error)
}

// Prober runs endpoint diagnostics.
type Prober interface {
	Run(ctx context.Context, endpoint string) diagnostics.Report
}

// EndpointFunc resolves the webhook endpoint to probe. An empty result skips
// the probe.
type EndpointFunc func(ctx context.Context) string

// Collector gathers metrics from the store and the webhook endpoint.
type Collector struct {
	store    BatchReader
	prober   Prober
	endpoint EndpointFunc
}

// NewCollector creates a new metrics collector. prober and endpoint may be nil.
func NewCollector(st BatchReader, prober Prober, endpoint EndpointFunc) *Collector {
	return &Collector{store: st, prober: prober, endpoint: endpoint}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	batches, err := c.store.ListBatches(ctx, store.BatchFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list batches")
	}

	for _, b := range batches {
		if b.UploadDate.Before(cutoff) {
			continue
		}
		snap.Uploads++
		switch b.Status {
		case model.UploadStatusProcessing:
			snap.UploadsProcessing++
		case model.UploadStatusCompleted:
			snap.UploadsCompleted++
		}

		items, err := c.store.ListItems(ctx, b.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list items for %s", b.ID)
		}
		snap.LeadsTotal += len(items)
		for _, it := range items {
			switch it.Status {
			case model.StatusSuccess:
				snap.LeadsSucceeded++
			case model.StatusError:
				snap.LeadsFailed++
			}
		}
	}

	if finished := snap.LeadsSucceeded + snap.LeadsFailed; finished > 0 {
		snap.LeadFailRate = float64(snap.LeadsFailed) / float64(finished)
	}

	if c.prober != nil && c.endpoint != nil {
		if ep := c.endpoint(ctx); ep != "" {
			report := c.prober.Run(ctx, ep)
			snap.Endpoint = &report
		}
	}

	return snap, nil
}
