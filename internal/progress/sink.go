package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so crawl
// components stay agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// RunEmitter stamps the run ID and a timestamp onto every event before
// forwarding it.
type RunEmitter struct {
	next  Emitter
	runID [16]byte
	now   func() time.Time
}

// WithRun scopes an emitter to one crawl run. A nil now defaults to time.Now in UTC.
func WithRun(next Emitter, runID uuid.UUID, now func() time.Time) *RunEmitter {
	if next == nil {
		next = Nop{}
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RunEmitter{next: next, runID: UUIDToBytes(runID), now: now}
}

// Emit implements Emitter.
func (r *RunEmitter) Emit(evt Event) {
	if evt.RunID == [16]byte{} {
		evt.RunID = r.runID
	}
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.next.Emit(evt)
}

// Recorder keeps every emitted event in memory. It is intended for tests and
// local debugging.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByStage returns the recorded events of one stage.
func (r *Recorder) ByStage(stage Stage) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, evt := range r.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}
