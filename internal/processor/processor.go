// Package processor personalizes a single lead: it calls the webhook,
// records the outcome and reports it as a ProcessingResult.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// Processor handles one lead at a time. It never returns an error: every
// failure ends up in the returned result.
type Processor struct {
	sender  webhook.Sender
	results store.ResultWriter
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the payload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor. results may be nil, in which case outcomes are
// not persisted.
func New(sender webhook.Sender, results store.ResultWriter, opts ...Option) *Processor {
	p := &Processor{
		sender:  sender,
		results: results,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "processor")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process personalizes the lead at index of uploadID.
func (p *Processor) Process(ctx context.Context, uploadID string, index int, lead model.Lead, cfg model.PersonalizationConfig, endpoint string) (res model.ProcessingResult) {
	log := p.log.With(zap.String("upload_id", uploadID), zap.Int("index", index))

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("processing panicked: %v", r)
			log.Error("recovered panic", zap.Any("panic", r))
			p.Persist(ctx, uploadID, index, model.ItemUpdate{Status: model.StatusError, Error: msg, Language: cfg.Language})
			res = model.ProcessingResult{Index: index, LeadData: lead, Status: model.StatusError, Error: msg}
		}
	}()

	p.Persist(ctx, uploadID, index, model.ItemUpdate{Status: model.StatusProcessing, Language: cfg.Language})

	payload := BuildPayload(uploadID, index, lead, cfg, p.now())
	resp := p.sender.Send(ctx, endpoint, payload)

	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = resp.Message
		}
		log.Warn("lead failed", zap.String("error", reason), zap.Int("status_code", resp.StatusCode))
		p.Persist(ctx, uploadID, index, model.ItemUpdate{Status: model.StatusError, Error: reason, Language: cfg.Language})
		return model.ProcessingResult{
			Index:    index,
			LeadData: lead,
			Status:   model.StatusError,
			Result:   resp.Raw,
			Error:    reason,
		}
	}

	msg := resp.PersonalizedMessage
	if msg == "" {
		msg = resp.Message
	}
	log.Debug("lead personalized", zap.Int("message_len", len(msg)))
	p.Persist(ctx, uploadID, index, model.ItemUpdate{Status: model.StatusSuccess, Message: msg, Language: cfg.Language})
	return model.ProcessingResult{
		Index:               index,
		LeadData:            lead,
		Status:              model.StatusSuccess,
		Result:              resp.Raw,
		PersonalizedMessage: msg,
	}
}

// Persist writes update for one row. Failures, including panics in the
// writer, are logged and swallowed. The write ignores ctx cancellation so a
// cancelled run still leaves every row in the status its tracker reports.
func (p *Processor) Persist(ctx context.Context, uploadID string, index int, update model.ItemUpdate) {
	if p.results == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("persist panicked",
				zap.String("upload_id", uploadID), zap.Int("index", index), zap.Any("panic", r))
		}
	}()
	if err := p.results.UpdateItemResult(ctx, uploadID, index, update); err != nil {
		p.log.Warn("persist result failed",
			zap.String("upload_id", uploadID),
			zap.Int("index", index),
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
	}
}
