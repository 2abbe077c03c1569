// Package orchestrator drives a personalization run over an uploaded lead
// list: one webhook call per lead, strictly in row order, with a fixed pause
// between calls.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/processor"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/tracker"
	"github.com/sells-group/outreach-cli/pkg/webhook"
)

// DefaultPacing is the pause between two webhook calls of a sequential run.
const DefaultPacing = time.Second

// CancelledReason is recorded for leads that never ran because the run's
// context was cancelled.
const CancelledReason = "run cancelled"

// ErrRunInProgress is returned when an upload already has an active run.
var ErrRunInProgress = eris.New("orchestrator: run already in progress for upload")

// Mode selects how leads are sent to the webhook.
type Mode string

const (
	// ModeSequential sends one call per lead.
	ModeSequential Mode = "sequential"
	// ModeBatch sends every lead in a single call.
	ModeBatch Mode = "batch"
)

// ParseMode validates a mode name. Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeBatch:
		return ModeBatch, nil
	default:
		return "", eris.Errorf("orchestrator: unknown mode %q (valid: sequential, batch)", s)
	}
}

// Persistence is the subset of store.Store a run writes to.
type Persistence interface {
	store.ResultWriter
	SaveConfig(ctx context.Context, batchID string, cfg model.PersonalizationConfig) error
	UpdateBatchStatus(ctx context.Context, batchID string, status model.UploadStatus) error
}

// RunRequest describes one run.
type RunRequest struct {
	UploadID string
	Leads    []model.Lead
	Config   model.PersonalizationConfig
	Endpoint string
	Mode     Mode
	// OnUpdate, when set, receives every tracker snapshot of the run,
	// starting with the first transition.
	OnUpdate func(tracker.Snapshot)
}

// MissingRequirementsError lists every unmet precondition of a run.
type MissingRequirementsError struct {
	Missing []string
}

func (e *MissingRequirementsError) Error() string {
	return "missing requirements: " + strings.Join(e.Missing, ", ")
}

// Validate checks the preconditions of req and reports all violations at
// once.
func Validate(req RunRequest) error {
	var missing []string
	if len(req.Leads) == 0 {
		missing = append(missing, "leads")
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		missing = append(missing, "webhook endpoint")
	}
	if strings.TrimSpace(req.Config.ProductService) == "" {
		missing = append(missing, "product/service description")
	}
	if strings.TrimSpace(req.UploadID) == "" {
		missing = append(missing, "upload id")
	}
	if len(missing) > 0 {
		return &MissingRequirementsError{Missing: missing}
	}
	return nil
}

// Summary is the outcome of a finished run.
type Summary struct {
	RunID    string                   `json:"runId"`
	UploadID string                   `json:"uploadId"`
	Mode     Mode                     `json:"mode"`
	Results  []model.ProcessingResult `json:"results"`
	Stats    tracker.Stats            `json:"stats"`
	Duration time.Duration            `json:"duration"`
}

// Run is a handle on a started run.
type Run struct {
	ID       string
	UploadID string

	tracker *tracker.Tracker
	done    chan struct{}
	summary *Summary
}

// Tracker exposes the live state of the run.
func (r *Run) Tracker() *tracker.Tracker { return r.tracker }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its summary.
func (r *Run) Wait() *Summary {
	<-r.done
	return r.summary
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPacing sets the pause between sequential calls. Zero disables it.
func WithPacing(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.pacing = d
		}
	}
}

// WithRetention sets how many finished runs stay available via Tracker.
func WithRetention(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.retain = n
		}
	}
}

// Orchestrator starts and tracks runs.
type Orchestrator struct {
	persist Persistence
	proc    *processor.Processor
	batch   *BatchProcessor
	pacing  time.Duration
	retain  int
	log     *zap.Logger

	mu       sync.Mutex
	active   map[string]string // upload id -> run id
	runs     map[string]*Run
	finished []string
}

// New creates an Orchestrator. persist may be nil.
func New(sender webhook.Sender, persist Persistence, opts ...Option) *Orchestrator {
	var results store.ResultWriter
	if persist != nil {
		results = persist
	}
	o := &Orchestrator{
		persist: persist,
		proc:    processor.New(sender, results),
		batch:   NewBatchProcessor(sender, results),
		pacing:  DefaultPacing,
		retain:  100,
		log:     zap.L().With(zap.String("component", "orchestrator")),
		active:  make(map[string]string),
		runs:    make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes req and blocks until it completes. Precondition failures
// return a *MissingRequirementsError before anything is sent or stored.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return run.Wait(), nil
}

// Start validates req and launches the run in the background.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (*Run, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = ModeSequential
	}

	o.mu.Lock()
	if runID, busy := o.active[req.UploadID]; busy {
		o.mu.Unlock()
		return nil, eris.Wrapf(ErrRunInProgress, "upload %s (run %s)", req.UploadID, runID)
	}
	run := &Run{
		ID:       uuid.New().String(),
		UploadID: req.UploadID,
		done:     make(chan struct{}),
	}
	run.tracker = tracker.New(run.ID, req.UploadID)
	if req.OnUpdate != nil {
		run.tracker.Subscribe(req.OnUpdate)
	}
	o.active[req.UploadID] = run.ID
	o.runs[run.ID] = run
	o.mu.Unlock()

	go func() {
		defer o.finish(run)
		run.summary = o.execute(ctx, run, req)
	}()
	return run, nil
}

// Tracker returns the tracker of a current or recently finished run.
func (o *Orchestrator) Tracker(runID string) (*tracker.Tracker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[runID]
	if !ok {
		return nil, false
	}
	return run.tracker, true
}

// Active returns the id of the run currently processing uploadID.
func (o *Orchestrator) Active(uploadID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.active[uploadID]
	return id, ok
}

func (o *Orchestrator) finish(run *Run) {
	o.mu.Lock()
	delete(o.active, run.UploadID)
	o.finished = append(o.finished, run.ID)
	for len(o.finished) > o.retain {
		delete(o.runs, o.finished[0])
		o.finished = o.finished[1:]
	}
	o.mu.Unlock()
	close(run.done)
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req RunRequest) *Summary {
	start := time.Now()
	log := o.log.With(
		zap.String("run_id", run.ID),
		zap.String("upload_id", req.UploadID),
		zap.String("mode", string(req.Mode)),
	)
	log.Info("processing batch", zap.Int("leads", len(req.Leads)))

	// Final writes must land even when ctx is cancelled.
	bg := context.WithoutCancel(ctx)

	if o.persist != nil {
		if err := o.persist.SaveConfig(ctx, req.UploadID, req.Config); err != nil {
			log.Warn("save personalization config failed", zap.Error(err))
		}
		if err := o.persist.UpdateBatchStatus(ctx, req.UploadID, model.UploadStatusProcessing); err != nil {
			log.Warn("mark upload processing failed", zap.Error(err))
		}
	}

	t := run.tracker
	t.Start(req.Leads)

	switch req.Mode {
	case ModeBatch:
		o.runBatch(ctx, t, req)
	default:
		o.runSequential(ctx, t, req, log)
	}

	if ctx.Err() != nil {
		o.cancelRemaining(bg, t, req, log)
	}

	final := t.Complete()

	if o.persist != nil {
		if err := o.persist.UpdateBatchStatus(bg, req.UploadID, model.UploadStatusCompleted); err != nil {
			log.Warn("mark upload completed failed", zap.Error(err))
		}
	}

	summary := &Summary{
		RunID:    run.ID,
		UploadID: req.UploadID,
		Mode:     req.Mode,
		Results:  final.Results,
		Stats:    final.Stats,
		Duration: time.Since(start),
	}
	log.Info("batch complete",
		zap.Int("succeeded", summary.Stats.Success),
		zap.Int("failed", summary.Stats.Error),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

func (o *Orchestrator) runSequential(ctx context.Context, t *tracker.Tracker, req RunRequest, log *zap.Logger) {
	last := len(req.Leads) - 1
	for i, lead := range req.Leads {
		if ctx.Err() != nil {
			return
		}

		t.MarkProcessing(i)
		res := o.proc.Process(ctx, req.UploadID, i, lead, req.Config, req.Endpoint)
		t.Record(res)

		if res.Status == model.StatusError {
			log.Debug("lead failed, continuing", zap.Int("index", i), zap.String("error", res.Error))
		}

		if i < last && !o.pause(ctx) {
			return
		}
	}
}

func (o *Orchestrator) runBatch(ctx context.Context, t *tracker.Tracker, req RunRequest) {
	for i := range req.Leads {
		t.MarkProcessing(i)
	}
	for _, res := range o.batch.ProcessBatch(ctx, req.UploadID, req.Leads, req.Config, req.Endpoint) {
		t.Record(res)
	}
}

// pause waits for the pacing interval. It reports false when ctx ends first.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.pacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(o.pacing)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// cancelRemaining records an error for every lead that has not finished.
func (o *Orchestrator) cancelRemaining(ctx context.Context, t *tracker.Tracker, req RunRequest, log *zap.Logger) {
	var cancelled int
	for _, r := range t.Snapshot().Results {
		if r.Status.Terminal() {
			continue
		}
		cancelled++
		t.Record(model.ProcessingResult{
			Index:    r.Index,
			LeadData: r.LeadData,
			Status:   model.StatusError,
			Error:    CancelledReason,
		})
		o.proc.Persist(ctx, req.UploadID, r.Index, model.ItemUpdate{
			Status:   model.StatusError,
			Error:    CancelledReason,
			Language: req.Config.Language,
		})
	}
	log.Warn("run cancelled", zap.Int("unprocessed", cancelled))
}
