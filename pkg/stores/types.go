package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of an engine run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one persisted engine run.
type Run struct {
	ID        string     `json:"id"`
	Workspace string     `json:"workspace"`
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	// StopReason is the engine's reason string, empty while running.
	StopReason string `json:"stop_reason,omitempty"`

	// Error holds the fatal error message for failed runs.
	Error *string `json:"error,omitempty"`

	// Timing summary of the finished run, microseconds.
	Ticks        uint64  `json:"ticks"`
	TargetUS     float64 `json:"target_us"`
	MeanPeriodUS float64 `json:"mean_period_us"`
	MaxPeriodUS  float64 `json:"max_period_us"`
	JitterUS     float64 `json:"jitter_us"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fault is one persisted plugin process fault.
type Fault struct {
	ID       int64     `json:"id"`
	RunID    string    `json:"run_id"`
	Instance uint64    `json:"instance"`
	Kind     string    `json:"kind"`
	Tick     uint64    `json:"tick"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
}

// RunSummary aggregates the timing of a finished run for FinishRun.
type RunSummary struct {
	Status       RunStatus
	StopReason   string
	Error        *string
	StoppedAt    time.Time
	Ticks        uint64
	MeanPeriodUS float64
	MaxPeriodUS  float64
	JitterUS     float64
}

// Store persists run history.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Close closes the store.
	Close() error

	// CreateRun records a run at start time, in status running.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records the outcome of a run.
	FinishRun(ctx context.Context, id string, summary RunSummary) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns lists runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// RecordFaults appends fault records for a run.
	RecordFaults(ctx context.Context, faults []*Fault) error

	// ListFaults lists the faults of a run in tick order.
	ListFaults(ctx context.Context, runID string) ([]*Fault, error)

	// PruneRuns deletes all but the newest keep runs, with their faults.
	PruneRuns(ctx context.Context, keep int) (int64, error)
}
