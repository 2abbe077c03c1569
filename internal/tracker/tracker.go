// Package tracker holds the per-run record of lead processing results.
//
// The package-level functions are pure: they never mutate the slice they are
// given and always return a fresh copy. Tracker wraps them with a mutex and
// publishes a snapshot to subscribers after every transition.
package tracker

import (
	"sync"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Stats aggregates result statuses.
type Stats struct {
	Success    int `json:"successCount"`
	Error      int `json:"errorCount"`
	Pending    int `json:"pendingCount"`
	Processing int `json:"processingCount"`
	Total      int `json:"total"`
}

// Initialize returns one pending result per lead, in index order.
func Initialize(leads []model.Lead) []model.ProcessingResult {
	results := make([]model.ProcessingResult, len(leads))
	for i, lead := range leads {
		results[i] = model.ProcessingResult{
			Index:    i,
			LeadData: lead.Clone(),
			Status:   model.StatusPending,
		}
	}
	return results
}

// SetStatus returns a copy of results with the status of the entry at index
// replaced. Unknown indices and terminal entries are left unchanged.
func SetStatus(results []model.ProcessingResult, index int, status model.Status) []model.ProcessingResult {
	out := clone(results)
	for i := range out {
		if out[i].Index != index {
			continue
		}
		if out[i].Status.Terminal() {
			break
		}
		out[i].Status = status
		break
	}
	return out
}

// Replace returns a copy of results where the entry matching r.Index is
// replaced by r.
func Replace(results []model.ProcessingResult, r model.ProcessingResult) []model.ProcessingResult {
	out := clone(results)
	for i := range out {
		if out[i].Index == r.Index {
			out[i] = r
			break
		}
	}
	return out
}

// ComputeStats counts results by status.
func ComputeStats(results []model.ProcessingResult) Stats {
	s := Stats{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.StatusSuccess:
			s.Success++
		case model.StatusError:
			s.Error++
		case model.StatusProcessing:
			s.Processing++
		default:
			s.Pending++
		}
	}
	return s
}

func clone(results []model.ProcessingResult) []model.ProcessingResult {
	if results == nil {
		return nil
	}
	out := make([]model.ProcessingResult, len(results))
	copy(out, results)
	return out
}

// Phase is the run-level state of a Tracker.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
)

// Snapshot is an immutable view of a run at one point in time.
type Snapshot struct {
	RunID    string                   `json:"runId"`
	UploadID string                   `json:"uploadId"`
	Phase    Phase                    `json:"phase"`
	Current  int                      `json:"current"`
	Results  []model.ProcessingResult `json:"results"`
	Stats    Stats                    `json:"stats"`
}

// Tracker owns the results of a single run.
type Tracker struct {
	mu          sync.Mutex
	snap        Snapshot
	subscribers []func(Snapshot)
}

// New creates an idle Tracker.
func New(runID, uploadID string) *Tracker {
	return &Tracker{snap: Snapshot{
		RunID:    runID,
		UploadID: uploadID,
		Phase:    PhaseIdle,
		Current:  -1,
	}}
}

// Subscribe registers fn to receive a snapshot after every transition.
// fn is called with the tracker lock released.
func (t *Tracker) Subscribe(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copySnap()
}

// Start moves the tracker to running with every lead pending.
func (t *Tracker) Start(leads []model.Lead) {
	t.update(func(s *Snapshot) {
		s.Phase = PhaseRunning
		s.Current = -1
		s.Results = Initialize(leads)
	})
}

// MarkProcessing sets the entry at index to processing.
func (t *Tracker) MarkProcessing(index int) {
	t.update(func(s *Snapshot) {
		s.Current = index
		s.Results = SetStatus(s.Results, index, model.StatusProcessing)
	})
}

// Record merges a finished result.
func (t *Tracker) Record(r model.ProcessingResult) {
	t.update(func(s *Snapshot) {
		s.Results = Replace(s.Results, r)
	})
}

// Complete moves the tracker to completed and returns the final snapshot.
func (t *Tracker) Complete() Snapshot {
	return t.update(func(s *Snapshot) {
		s.Phase = PhaseCompleted
		s.Current = -1
	})
}

func (t *Tracker) update(fn func(*Snapshot)) Snapshot {
	t.mu.Lock()
	fn(&t.snap)
	t.snap.Stats = ComputeStats(t.snap.Results)
	snap := t.copySnap()
	subs := make([]func(Snapshot), len(t.subscribers))
	copy(subs, t.subscribers)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap
}

func (t *Tracker) copySnap() Snapshot {
	s := t.snap
	s.Results = clone(t.snap.Results)
	return s
}
