// Package store persists lead batches, their rows, personalization configs
// and per-row outcomes.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrUnauthenticated is returned by CreateBatch when no owner is supplied.
var ErrUnauthenticated = eris.New("store: unauthenticated")

// ErrNotFound is returned when a batch or config does not exist.
var ErrNotFound = eris.New("store: not found")

// BatchFilter specifies criteria for listing batches.
type BatchFilter struct {
	Owner  string             `json:"owner,omitempty"`
	Status model.UploadStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// ResultWriter records per-row outcomes. UpdateItemResult is an idempotent
// upsert keyed by (batchID, rowIndex).
type ResultWriter interface {
	UpdateItemResult(ctx context.Context, batchID string, rowIndex int, update model.ItemUpdate) error
}

// Store defines the persistence interface for lead batches.
type Store interface {
	ResultWriter

	// Batches
	CreateBatch(ctx context.Context, owner, filename string, rowCount int) (string, error)
	GetBatch(ctx context.Context, batchID string) (*model.CsvUpload, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.CsvUpload, error)
	UpdateBatchStatus(ctx context.Context, batchID string, status model.UploadStatus) error

	// Rows
	SaveItems(ctx context.Context, batchID string, leads []model.Lead) error
	ListItems(ctx context.Context, batchID string) ([]model.LeadItem, error)

	// Personalization config
	SaveConfig(ctx context.Context, batchID string, cfg model.PersonalizationConfig) error
	GetConfig(ctx context.Context, batchID string) (*model.PersonalizationConfig, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Leads extracts the lead data of items, in row order.
func Leads(items []model.LeadItem) []model.Lead {
	out := make([]model.Lead, len(items))
	for i, it := range items {
		out[i] = it.Data
	}
	return out
}
