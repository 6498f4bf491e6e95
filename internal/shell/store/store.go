package store

import (
	"context"
	"time"
)

// =============================================================================
// Journal Types
// =============================================================================

// RunStatus is the outcome of one command invocation.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "error"
)

// Run is one invocation of a stackctl command against a project.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Project    string     `json:"project" yaml:"project"`
	Command    string     `json:"command" yaml:"command"`
	Services   []string   `json:"services" yaml:"services"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Duration is zero while the run is still in progress.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Event is one finished instance operation within a run.
type Event struct {
	ID       int64         `json:"id" yaml:"id"`
	RunID    string        `json:"runId" yaml:"runId"`
	Verb     string        `json:"verb" yaml:"verb"`
	Service  string        `json:"service" yaml:"service"`
	Instance string        `json:"instance" yaml:"instance"`
	Status   string        `json:"status" yaml:"status"`
	Message  string        `json:"message,omitempty" yaml:"message,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	At       time.Time     `json:"at" yaml:"at"`
}

// RunFilter selects runs for listing.
type RunFilter struct {
	Project string
	Limit   int
	Offset  int
}

// Normalize applies default pagination.
func (f RunFilter) Normalize() RunFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// =============================================================================
// Journal Interface
// =============================================================================

// Journal records command invocations and the instance operations they ran.
type Journal interface {
	BeginRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, status RunStatus, message string, at time.Time) error
	RecordEvents(ctx context.Context, events []Event) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListEvents(ctx context.Context, runID string) ([]Event, error)

	// PruneRuns keeps the newest keep runs of project and deletes the rest.
	PruneRuns(ctx context.Context, project string, keep int) (int, error)

	Close() error
}
