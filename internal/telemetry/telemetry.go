// Package telemetry provides a JSONL event stream for recording state
// transitions in the sync engine. Every job claim, sync attempt, webhook
// delivery, and dead-letter transition is recorded as a structured JSON
// event, making runs auditable and replayable.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event kinds identify the type of telemetry event.
const (
	KindJobEnqueued     = "job_enqueued"
	KindJobClaimed      = "job_claimed"
	KindJobSucceeded    = "job_succeeded"
	KindJobRescheduled  = "job_rescheduled"
	KindJobDeadLettered = "job_dead_lettered"
	KindJobRequeued     = "job_requeued"
	KindSyncStart       = "sync_start"
	KindSyncDone        = "sync_done"
	KindWebhookReceived = "webhook_received"
	KindWebhookRejected = "webhook_rejected"
	KindVersionBumped   = "version_bumped"
)

// Event represents a single telemetry record. Each event carries a
// timestamp, a kind tag, and optional context identifiers along with
// arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	ModuleID  string    `json:"module,omitempty"`
	JobID     string    `json:"job,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for
// concurrent use by multiple goroutines. A nil *Emitter is a valid no-op
// emitter.
type Emitter struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewEmitter creates a new Emitter that writes JSONL events to the file at
// path. The file is created if it does not exist, or appended to if it does.
func NewEmitter(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes a single event. The timestamp is stamped here if unset.
// Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}
