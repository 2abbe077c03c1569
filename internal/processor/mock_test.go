package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// mockSender implements webhook.Sender using testify/mock.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, endpoint string, payload any) webhook.Response {
	args := m.Called(ctx, endpoint, payload)
	return args.Get(0).(webhook.Response)
}

type writeCall struct {
	uploadID string
	index    int
	update   model.ItemUpdate
}

// recordingWriter implements store.ResultWriter and records every call. Writes
// on a done ctx are rejected unrecorded.
type recordingWriter struct {
	mu    sync.Mutex
	calls []writeCall
	fail  bool
	panic bool
}

func (w *recordingWriter) UpdateItemResult(ctx context.Context, uploadID string, index int, update model.ItemUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, writeCall{uploadID: uploadID, index: index, update: update})
	if w.panic {
		panic("writer exploded")
	}
	if w.fail {
		return errors.New("database unavailable")
	}
	return nil
}

func (w *recordingWriter) statuses() []model.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Status, len(w.calls))
	for i, c := range w.calls {
		out[i] = c.update.Status
	}
	return out
}
