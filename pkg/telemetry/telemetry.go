// Package telemetry is the metrics port the driver reports operation outcomes through.
// The driver only knows the Sink interface; hosts choose between the JSON-lines emitter,
// the null sink or their own implementation.
package telemetry

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one recorded operation outcome
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Outcome   string         `json:"outcome"`
	Duration  time.Duration  `json:"durationNs"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use
type Sink interface {
	Record(event Event)
}

// NullSink drops every event
type NullSink struct{}

func (NullSink) Record(Event) {}

// Emitter writes events as JSON lines to a writer
type Emitter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewEmitter(writer io.Writer) *Emitter {
	return &Emitter{encoder: json.NewEncoder(writer)}
}

func (e *Emitter) Record(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// An unwritable sink must never fail the operation it observes
	_ = e.encoder.Encode(event)
}

// Recorder collects events in memory, for tests and diagnostics
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event{}, r.events...)
}

// Measure times an operation and records its outcome in one call
func Measure(sink Sink, operation string, metadata map[string]any, run func() error) error {
	started := time.Now()
	err := run()

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	sink.Record(Event{
		Timestamp: started,
		Operation: operation,
		Outcome:   outcome,
		Duration:  time.Since(started),
		Metadata:  metadata,
	})

	return err
}
