// Package tracing records per-message pipeline traces and exports them to
// structured logs or an OTLP collector.
package tracing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the terminal state of a trace.
type TraceStatus string

const (
	StatusOK       TraceStatus = "ok"
	StatusError    TraceStatus = "error"
	StatusCanceled TraceStatus = "canceled"
)

// Phase is one timed step of a handled message: routing, context assembly,
// memory lookup, generation, delivery.
type Phase struct {
	Name      string
	StartTime time.Time
	Duration  time.Duration
	Error     string
}

// Trace covers one handled chat event end to end.
type Trace struct {
	TraceID   string
	Operation string
	StartTime time.Time
	Status    TraceStatus
	Tags      map[string]string

	mu      sync.Mutex
	endTime time.Time
	phases  []Phase
}

// NewTrace opens a trace for one operation.
func NewTrace(operation string) *Trace {
	return &Trace{
		TraceID:   uuid.NewString(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    StatusOK,
		Tags:      map[string]string{},
	}
}

// StartPhase begins a timed step; the returned func closes it. A non-nil
// error marks the phase and flips the trace to error status.
func (t *Trace) StartPhase(name string) func(err error) {
	start := time.Now()
	return func(err error) {
		p := Phase{Name: name, StartTime: start, Duration: time.Since(start)}
		if err != nil {
			p.Error = err.Error()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		t.phases = append(t.phases, p)
		if err != nil {
			t.Status = StatusError
		}
	}
}

// SetTag attaches a key-value annotation.
func (t *Trace) SetTag(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Tags[key] = value
}

// End closes the trace.
func (t *Trace) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endTime = time.Now()
}

// Duration returns elapsed time, up to now while the trace is open.
func (t *Trace) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.endTime.Sub(t.StartTime)
}

// Phases returns a copy of the recorded phases.
func (t *Trace) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, len(t.phases))
	copy(out, t.phases)
	return out
}
