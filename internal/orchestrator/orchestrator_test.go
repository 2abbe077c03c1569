package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/tracker"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

const endpoint = "https://x.elestio.app/webhook/abc"

func leads(names ...string) []model.Lead {
	out := make([]model.Lead, len(names))
	for i, n := range names {
		out[i] = model.Lead{"firstName": model.String(n)}
	}
	return out
}

func request(l []model.Lead) RunRequest {
	return RunRequest{
		UploadID: "upload-1",
		Leads:    l,
		Config:   model.PersonalizationConfig{ProductService: "CRM", Tonality: model.TonalityCasual},
		Endpoint: endpoint,
	}
}

func statuses(results []model.ProcessingResult) []model.Status {
	out := make([]model.Status, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestRun_AllSucceed(t *testing.T) {
	sender := &scriptedSender{}
	st := &recordingStore{}
	o := New(sender, st, WithPacing(0))

	sum, err := o.Run(context.Background(), request(leads("A", "B", "C")))
	require.NoError(t, err)

	assert.Equal(t, []model.Status{model.StatusSuccess, model.StatusSuccess, model.StatusSuccess}, statuses(sum.Results))
	assert.Equal(t, 3, sum.Stats.Success)
	assert.Equal(t, 0, sum.Stats.Error)
	assert.Equal(t, ModeSequential, sum.Mode)

	want := []persistCall{
		{0, model.StatusProcessing, ""}, {0, model.StatusSuccess, ""},
		{1, model.StatusProcessing, ""}, {1, model.StatusSuccess, ""},
		{2, model.StatusProcessing, ""}, {2, model.StatusSuccess, ""},
	}
	assert.Equal(t, want, st.itemCalls())
	assert.Len(t, st.configs, 1)
	assert.Equal(t, []model.UploadStatus{model.UploadStatusProcessing, model.UploadStatusCompleted}, st.statuses)
}

func TestRun_FailureIsIsolated(t *testing.T) {
	sender := &scriptedSender{respond: func(i int) webhook.Response {
		if i == 1 {
			return webhook.Response{Success: false, Error: "webhook: http status 500"}
		}
		return webhook.Response{Success: true, PersonalizedMessage: "hi"}
	}}
	o := New(sender, &recordingStore{}, WithPacing(0))

	sum, err := o.Run(context.Background(), request(leads("A", "B", "C")))
	require.NoError(t, err)

	assert.Equal(t, []model.Status{model.StatusSuccess, model.StatusError, model.StatusSuccess}, statuses(sum.Results))
	assert.Equal(t, tracker.Stats{Success: 2, Error: 1, Total: 3}, sum.Stats)
	assert.Equal(t, "webhook: http status 500", sum.Results[1].Error)
	assert.Equal(t, 3, sender.callCount())
}

func TestRun_AllFailStillReportsStats(t *testing.T) {
	sender := &scriptedSender{respond: func(int) webhook.Response {
		return webhook.Response{Success: false, Error: "down"}
	}}
	sum, err := New(sender, nil, WithPacing(0)).Run(context.Background(), request(leads("A", "B")))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Stats.Error)
	assert.Equal(t, 0, sum.Stats.Success)
}

func TestRun_PersistenceFailuresDoNotAbort(t *testing.T) {
	sender := &scriptedSender{}
	st := &recordingStore{failWrites: true}

	sum, err := New(sender, st, WithPacing(0)).Run(context.Background(), request(leads("A", "B")))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Stats.Success)
}

func TestRun_MissingEndpoint(t *testing.T) {
	sender := &scriptedSender{}
	st := &recordingStore{}
	o := New(sender, st, WithPacing(0))

	req := request(leads("A"))
	req.Endpoint = "  "
	_, err := o.Run(context.Background(), req)

	var mre *MissingRequirementsError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, []string{"webhook endpoint"}, mre.Missing)
	assert.Zero(t, sender.callCount())
	assert.Empty(t, st.itemCalls())
	assert.Empty(t, st.configs)
	assert.Empty(t, st.statuses)
}

func TestRun_AllRequirementsMissing(t *testing.T) {
	o := New(&scriptedSender{}, nil)

	_, err := o.Run(context.Background(), RunRequest{})
	var mre *MissingRequirementsError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, []string{"leads", "webhook endpoint", "product/service description", "upload id"}, mre.Missing)
	assert.Equal(t, "missing requirements: leads, webhook endpoint, product/service description, upload id", err.Error())
}

func TestRun_PacingBetweenCalls(t *testing.T) {
	sender := &scriptedSender{}
	pacing := 30 * time.Millisecond
	o := New(sender, nil, WithPacing(pacing))

	start := time.Now()
	_, err := o.Run(context.Background(), request(leads("A", "B", "C")))
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.Len(t, sender.callTime, 3)
	for i := 1; i < 3; i++ {
		assert.GreaterOrEqual(t, sender.callTime[i].Sub(sender.callTime[i-1]), pacing)
	}
	// No pause after the final lead.
	assert.Less(t, elapsed, 3*pacing+200*time.Millisecond)
}

func TestRun_PublishesEveryTransition(t *testing.T) {
	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sender := &scriptedSender{onSend: func(context.Context, int) {
		once.Do(func() {
			close(reached)
			<-release
		})
	}}
	o := New(sender, nil, WithPacing(0))

	run, err := o.Start(context.Background(), request(leads("A", "B")))
	require.NoError(t, err)
	<-reached

	var mu sync.Mutex
	var snaps []tracker.Snapshot
	run.Tracker().Subscribe(func(s tracker.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})
	close(release)
	sum := run.Wait()
	assert.Equal(t, 2, sum.Stats.Success)

	mu.Lock()
	defer mu.Unlock()
	// record 0, processing 1, record 1, complete
	require.Len(t, snaps, 4)
	assert.Equal(t, model.StatusSuccess, snaps[0].Results[0].Status)
	assert.Equal(t, 1, snaps[1].Current)
	assert.Equal(t, model.StatusProcessing, snaps[1].Results[1].Status)
	assert.Equal(t, 2, snaps[2].Stats.Success)
	assert.Equal(t, tracker.PhaseRunning, snaps[2].Phase)
	assert.Equal(t, tracker.PhaseCompleted, snaps[3].Phase)
	assert.Equal(t, -1, snaps[3].Current)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &scriptedSender{onSend: func(_ context.Context, i int) {
		if i == 0 {
			cancel()
		}
	}}
	st := &recordingStore{}
	o := New(sender, st, WithPacing(time.Hour))

	sum, err := o.Run(ctx, request(leads("A", "B", "C")))
	require.NoError(t, err)

	assert.Equal(t, 1, sender.callCount())
	assert.Equal(t, model.StatusSuccess, sum.Results[0].Status)
	for _, r := range sum.Results[1:] {
		assert.Equal(t, model.StatusError, r.Status)
		assert.Equal(t, CancelledReason, r.Error)
	}
	assert.Equal(t, 3, sum.Stats.Total)
	assert.Equal(t, 0, sum.Stats.Pending+sum.Stats.Processing)
	assert.Equal(t, model.UploadStatusCompleted, st.statuses[len(st.statuses)-1])

	assert.Equal(t, map[int]model.Status{
		0: model.StatusSuccess,
		1: model.StatusError,
		2: model.StatusError,
	}, st.lastStatus())
}

func TestRun_CancelledLeadIsPersistedAsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cancel.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	l := leads("A", "B", "C")
	id, err := st.CreateBatch(context.Background(), "local", "leads.csv", len(l))
	require.NoError(t, err)
	require.NoError(t, st.SaveItems(context.Background(), id, l))

	// Cancel while lead 1 is in flight; its call then fails like a real
	// transport would.
	sender := &scriptedSender{
		onSend: func(_ context.Context, i int) {
			if i == 1 {
				cancel()
			}
		},
		respond: func(i int) webhook.Response {
			if i == 1 {
				return webhook.Response{Success: false, Error: "webhook: context canceled"}
			}
			return webhook.Response{Success: true, PersonalizedMessage: "hi"}
		},
	}
	req := request(l)
	req.UploadID = id

	sum, err := New(sender, st, WithPacing(0)).Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []model.Status{model.StatusSuccess, model.StatusError, model.StatusError}, statuses(sum.Results))

	items, err := st.ListItems(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, sum.Results[i].Status, it.Status, "row %d", i)
	}
	assert.Equal(t, "webhook: context canceled", items[1].Error)
	assert.Equal(t, CancelledReason, items[2].Error)

	upload, err := st.GetBatch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusCompleted, upload.Status)
}

func TestRun_BatchModeCancellationPersistsEveryRow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &scriptedSender{
		batch:   webhook.Response{Success: false, Error: "webhook: context canceled"},
		onBatch: func(context.Context) { cancel() },
	}
	st := &recordingStore{}
	req := request(leads("A", "B"))
	req.Mode = ModeBatch

	sum, err := New(sender, st, WithPacing(0)).Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Stats.Error)
	assert.Equal(t, map[int]model.Status{0: model.StatusError, 1: model.StatusError}, st.lastStatus())
	assert.Equal(t, model.UploadStatusCompleted, st.statuses[len(st.statuses)-1])
}

func TestStart_OnUpdateSeesEveryTransition(t *testing.T) {
	var (
		mu    sync.Mutex
		snaps []tracker.Snapshot
	)
	req := request(leads("A"))
	req.OnUpdate = func(s tracker.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	}

	run, err := New(&scriptedSender{}, nil, WithPacing(0)).Start(context.Background(), req)
	require.NoError(t, err)
	run.Wait()

	mu.Lock()
	defer mu.Unlock()
	// start, processing 0, record 0, complete
	require.Len(t, snaps, 4)
	assert.Equal(t, tracker.PhaseRunning, snaps[0].Phase)
	assert.Equal(t, model.StatusPending, snaps[0].Results[0].Status)
	assert.Equal(t, model.StatusProcessing, snaps[1].Results[0].Status)
	assert.Equal(t, model.StatusSuccess, snaps[2].Results[0].Status)
	assert.Equal(t, tracker.PhaseCompleted, snaps[3].Phase)
}

func TestStart_RejectsConcurrentRunForUpload(t *testing.T) {
	release := make(chan struct{})
	sender := &scriptedSender{onSend: func(context.Context, int) { <-release }}
	o := New(sender, nil, WithPacing(0))

	run, err := o.Start(context.Background(), request(leads("A")))
	require.NoError(t, err)

	id, busy := o.Active("upload-1")
	assert.True(t, busy)
	assert.Equal(t, run.ID, id)

	_, err = o.Start(context.Background(), request(leads("A")))
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	run.Wait()

	_, busy = o.Active("upload-1")
	assert.False(t, busy)

	tr, ok := o.Tracker(run.ID)
	require.True(t, ok)
	assert.Equal(t, tracker.PhaseCompleted, tr.Snapshot().Phase)
}

func TestTracker_Retention(t *testing.T) {
	o := New(&scriptedSender{}, nil, WithPacing(0), WithRetention(1))

	first, err := o.Start(context.Background(), request(leads("A")))
	require.NoError(t, err)
	first.Wait()

	req := request(leads("B"))
	req.UploadID = "upload-2"
	second, err := o.Start(context.Background(), req)
	require.NoError(t, err)
	second.Wait()

	_, ok := o.Tracker(first.ID)
	assert.False(t, ok)
	_, ok = o.Tracker(second.ID)
	assert.True(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, m)

	m, err = ParseMode(" Batch ")
	require.NoError(t, err)
	assert.Equal(t, ModeBatch, m)

	_, err = ParseMode("parallel")
	assert.Error(t, err)
}
