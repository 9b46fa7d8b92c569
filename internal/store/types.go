package store

import "time"

// ModuleStatus tracks where a module is in its sync lifecycle.
type ModuleStatus string

const (
	ModulePending ModuleStatus = "pending"
	ModuleSyncing ModuleStatus = "syncing"
	ModuleSynced  ModuleStatus = "synced"
	ModuleError   ModuleStatus = "error"
)

// JobStatus is the closed set of sync job states. Success and DeadLetter are
// terminal; Failed is recorded on audit records for unsuccessful attempts and
// never rests on a job row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobSuccess    JobStatus = "success"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dlq"
)

// Direction selects which way a sync moves commits.
type Direction string

const (
	ToRemote      Direction = "to_remote"
	FromRemote    Direction = "from_remote"
	Bidirectional Direction = "bidirectional"
)

// Actor identifies who triggered a sync attempt.
type Actor string

const (
	ActorAutomated Actor = "automated"
	ActorManual    Actor = "manual"
)

// Outcome classifies a completed sync attempt on its audit record.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeConflict Outcome = "conflict"
	OutcomeNoChange Outcome = "no_change"
)

// Module is one independently versioned unit of code inside the monorepo,
// optionally mirrored to an external repository.
type Module struct {
	ID            string
	Name          string
	Path          string // path prefix inside the monorepo
	RepoURL       string
	Branch        string
	Version       string
	AutoSync      bool
	Status        ModuleStatus
	LastSynced    *time.Time
	LastSyncError string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Configured reports whether the module has a remote it can sync against.
func (m *Module) Configured() bool {
	return m.RepoURL != "" && m.Branch != ""
}

// SyncJob is one unit of queued sync work. Mutated only by the queue worker.
type SyncJob struct {
	ID          string
	ModuleID    string
	Direction   Direction
	Priority    int
	Attempts    int
	MaxAttempts int
	Status      JobStatus
	RunAt       time.Time
	LastError   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SyncRecord is an immutable audit entry for one completed sync attempt.
type SyncRecord struct {
	ID         int64
	ModuleID   string
	Direction  Direction
	Outcome    Outcome
	Files      []string
	Commits    []string
	Additions  int
	Deletions  int
	Actor      Actor
	DurationMS int64
	CreatedAt  time.Time
}

// Release records a published version of a module.
type Release struct {
	ID        string
	ModuleID  string
	Version   string
	Tag       string
	Changelog string
	Published bool
	CreatedAt time.Time
}

// Webhook holds the inbound delivery configuration for one module.
type Webhook struct {
	ID        string
	ModuleID  string
	URL       string
	Secret    string
	Events    []string
	Active    bool
	CreatedAt time.Time
}

// Subscribed reports whether the webhook accepts the given event type.
// An empty subscription list accepts everything.
func (w *Webhook) Subscribed(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookEvent is one inbound delivery, append-only.
type WebhookEvent struct {
	ID          int64
	WebhookID   string
	EventType   string
	Payload     []byte
	Processed   bool
	ProcessedAt *time.Time
	Error       string
	CreatedAt   time.Time
}
