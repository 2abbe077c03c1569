package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// scriptedSender answers item payloads with respond(rowIndex) and batch
// payloads with batch.
type scriptedSender struct {
	mu       sync.Mutex
	calls    []any
	respond  func(index int) webhook.Response
	batch    webhook.Response
	callTime []time.Time
	onSend   func(ctx context.Context, index int)
	onBatch  func(ctx context.Context)
}

func (s *scriptedSender) Send(ctx context.Context, _ string, payload any) webhook.Response {
	s.mu.Lock()
	s.calls = append(s.calls, payload)
	s.callTime = append(s.callTime, time.Now())
	s.mu.Unlock()

	switch p := payload.(type) {
	case webhook.ItemPayload:
		if s.onSend != nil {
			s.onSend(ctx, p.RowIndex)
		}
		if s.respond != nil {
			return s.respond(p.RowIndex)
		}
		return webhook.Response{Success: true, PersonalizedMessage: "ok"}
	case webhook.BatchPayload:
		if s.onBatch != nil {
			s.onBatch(ctx)
		}
		return s.batch
	default:
		return webhook.Response{Success: false, Error: "unexpected payload"}
	}
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type persistCall struct {
	index  int
	status model.Status
	errMsg string
}

// recordingStore implements Persistence and records every call. Like a real
// database it rejects writes on a done ctx without recording them.
type recordingStore struct {
	mu         sync.Mutex
	items      []persistCall
	configs    []model.PersonalizationConfig
	statuses   []model.UploadStatus
	failWrites bool
}

func (r *recordingStore) UpdateItemResult(ctx context.Context, _ string, index int, u model.ItemUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, persistCall{index: index, status: u.Status, errMsg: u.Error})
	if r.failWrites {
		return errors.New("write failed")
	}
	return nil
}

func (r *recordingStore) SaveConfig(ctx context.Context, _ string, cfg model.PersonalizationConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	if r.failWrites {
		return errors.New("write failed")
	}
	return nil
}

func (r *recordingStore) UpdateBatchStatus(ctx context.Context, _ string, status model.UploadStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *recordingStore) itemCalls() []persistCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persistCall(nil), r.items...)
}

// lastStatus returns the most recent persisted status per row index.
func (r *recordingStore) lastStatus() map[int]model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]model.Status)
	for _, c := range r.items {
		out[c.index] = c.status
	}
	return out
}
