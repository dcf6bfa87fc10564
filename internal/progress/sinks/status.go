package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// Crawl states reported by StatusSink.
const (
	StateIdle          = "idle"
	StateRunning       = "running"
	StateCompleted     = "completed"
	StateAbortedAtSeed = "aborted_at_seed"
)

// Status is a point-in-time summary of the current (or last) crawl run.
type Status struct {
	RunID          string     `json:"run_id,omitempty"`
	State          string     `json:"state"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	FetchAttempts  int        `json:"fetch_attempts"`
	PagesParsed    int        `json:"pages_parsed"`
	PagesFailed    int        `json:"pages_failed"`
	RecordsParsed  int        `json:"records_parsed"`
	RecordsSkipped int        `json:"records_skipped"`
	RecordsStored  int        `json:"records_stored"`
	LastError      string     `json:"last_error,omitempty"`
}

// StatusSink folds progress events into a live Status for the HTTP surface.
type StatusSink struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusSink returns a sink reporting StateIdle until a crawl starts.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: Status{State: StateIdle}}
}

// Consume implements progress.Sink.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	st := &s.status
	switch evt.Stage {
	case progress.StageCrawlStart:
		ts := evt.TS
		*st = Status{RunID: evt.RunUUID().String(), State: StateRunning, StartedAt: &ts}
	case progress.StageFetchAttempt:
		st.FetchAttempts++
	case progress.StageRecordSkipped:
		st.RecordsSkipped++
	case progress.StagePageParsed:
		st.PagesParsed++
		st.RecordsParsed += evt.Records
	case progress.StagePageStored:
		st.RecordsStored += evt.Records
	case progress.StageStoreFailed:
		st.RecordsStored += evt.Records
		st.LastError = evt.Note
	case progress.StagePageFailed:
		st.PagesFailed++
		st.LastError = evt.Note
	case progress.StageCrawlDone:
		ts := evt.TS
		st.State = StateCompleted
		st.FinishedAt = &ts
	case progress.StageCrawlAborted:
		ts := evt.TS
		st.State = StateAbortedAtSeed
		st.FinishedAt = &ts
		st.LastError = evt.Note
	}
}

// Status returns a copy of the current summary.
func (s *StatusSink) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close implements progress.Sink.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
