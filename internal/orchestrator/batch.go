package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/processor"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// MissingResultReason is recorded for a lead absent from batchResults.
const MissingResultReason = "No result returned for lead"

// FailedResultReason is recorded for a batchResults entry that reports
// failure without an error message.
const FailedResultReason = "webhook reported failure for lead"

// noBatchResultsReason is used when a successful call carries no
// batchResults array.
const noBatchResultsReason = "webhook response contained no batchResults"

// BatchProcessor sends a whole lead list in one webhook call and fans the
// per-index answers back out.
type BatchProcessor struct {
	sender webhook.Sender
	proc   *processor.Processor
	now    func() time.Time
	log    *zap.Logger
}

// NewBatchProcessor creates a BatchProcessor. results may be nil.
func NewBatchProcessor(sender webhook.Sender, results store.ResultWriter) *BatchProcessor {
	return &BatchProcessor{
		sender: sender,
		proc:   processor.New(sender, results),
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "batch_processor")),
	}
}

// ProcessBatch returns one result per lead, in index order. When the call
// fails or the response has no batchResults, every lead gets the same error;
// partial answers are never inferred from a malformed response.
func (b *BatchProcessor) ProcessBatch(ctx context.Context, uploadID string, leads []model.Lead, cfg model.PersonalizationConfig, endpoint string) (results []model.ProcessingResult) {
	log := b.log.With(zap.String("upload_id", uploadID), zap.Int("leads", len(leads)))

	for i := range leads {
		b.proc.Persist(ctx, uploadID, i, model.ItemUpdate{Status: model.StatusProcessing, Language: cfg.Language})
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic", zap.Any("panic", r))
			results = b.failAll(ctx, uploadID, leads, cfg, fmt.Sprintf("batch processing panicked: %v", r))
		}
	}()

	resp := b.sender.Send(ctx, endpoint, b.payload(uploadID, leads, cfg))

	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = resp.Message
		}
		log.Warn("batch call failed", zap.String("error", reason))
		return b.failAll(ctx, uploadID, leads, cfg, reason)
	}
	if resp.BatchResults == nil {
		log.Warn("batch call returned no results")
		return b.failAll(ctx, uploadID, leads, cfg, noBatchResultsReason)
	}

	byIndex := make(map[int]webhook.BatchResult, len(resp.BatchResults))
	for _, br := range resp.BatchResults {
		if _, dup := byIndex[br.Index]; !dup {
			byIndex[br.Index] = br
		}
	}

	results = make([]model.ProcessingResult, len(leads))
	for i, lead := range leads {
		br, ok := byIndex[i]
		res := model.ProcessingResult{Index: i, LeadData: lead}
		switch {
		case ok && br.Success:
			res.Status = model.StatusSuccess
			res.PersonalizedMessage = br.PersonalizedMessage
			b.proc.Persist(ctx, uploadID, i, model.ItemUpdate{Status: model.StatusSuccess, Message: br.PersonalizedMessage, Language: cfg.Language})
		case ok && br.Error != "":
			res.Status = model.StatusError
			res.Error = br.Error
		case ok:
			res.Status = model.StatusError
			res.Error = FailedResultReason
		default:
			res.Status = model.StatusError
			res.Error = MissingResultReason
		}
		if res.Status == model.StatusError {
			b.proc.Persist(ctx, uploadID, i, model.ItemUpdate{Status: model.StatusError, Error: res.Error, Language: cfg.Language})
		}
		results[i] = res
	}
	return results
}

func (b *BatchProcessor) payload(uploadID string, leads []model.Lead, cfg model.PersonalizationConfig) webhook.BatchPayload {
	data := make([]webhook.BatchLead, len(leads))
	for i, lead := range leads {
		data[i] = webhook.BatchLead{Index: i, LeadData: lead.Without(cfg.ExcludedFields())}
	}
	return webhook.BatchPayload{
		Message:                   processor.BuildBatchInstruction(cfg, len(leads)),
		TargetAudience:            processor.Audience(cfg),
		Timestamp:                 b.now().UTC(),
		UploadID:                  uploadID,
		BatchData:                 data,
		UpsellOptions:             cfg.Upsell,
		DataStreamingRestrictions: cfg.Restrictions,
	}
}

func (b *BatchProcessor) failAll(ctx context.Context, uploadID string, leads []model.Lead, cfg model.PersonalizationConfig, reason string) []model.ProcessingResult {
	out := make([]model.ProcessingResult, len(leads))
	for i, lead := range leads {
		out[i] = model.ProcessingResult{Index: i, LeadData: lead, Status: model.StatusError, Error: reason}
		b.proc.Persist(ctx, uploadID, i, model.ItemUpdate{Status: model.StatusError, Error: reason, Language: cfg.Language})
	}
	return out
}
