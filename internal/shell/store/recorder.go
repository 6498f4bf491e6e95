package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stackctl/internal/core/lifecycle"
)

// =============================================================================
// Recorder
// =============================================================================

// Recorder is a lifecycle.Reporter that journals one command invocation.
// Events are buffered in memory and written when the run finishes, so
// reporting never waits on the database.
type Recorder struct {
	journal Journal
	logger  *slog.Logger
	run     Run

	mu     sync.Mutex
	events []Event
}

// StartRun begins a run for command against project and returns its Recorder.
func StartRun(ctx context.Context, journal Journal, logger *slog.Logger, project, command string, services []string) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		journal: journal,
		logger:  logger,
		run: Run{
			ID:        uuid.NewString(),
			Project:   project,
			Command:   command,
			Services:  services,
			Status:    RunRunning,
			StartedAt: time.Now(),
		},
	}
	if err := journal.BeginRun(ctx, &r.run); err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	return r, nil
}

// RunID returns the journal ID of the run.
func (r *Recorder) RunID() string {
	return r.run.ID
}

// Started implements lifecycle.Reporter.
func (r *Recorder) Started(lifecycle.Event) {}

// Finished implements lifecycle.Reporter.
func (r *Recorder) Finished(ev lifecycle.Event) {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	message := ev.Message
	if ev.Err != nil {
		message = ev.Err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		RunID:    r.run.ID,
		Verb:     string(ev.Verb),
		Service:  ev.Service,
		Instance: ev.Instance,
		Status:   string(ev.Status),
		Message:  message,
		Duration: ev.Duration,
		At:       at,
	})
}

// Finish writes the buffered events and closes the run with the outcome of
// runErr.
func (r *Recorder) Finish(ctx context.Context, runErr error) error {
	r.mu.Lock()
	events := r.events
	r.events = nil
	r.mu.Unlock()

	if err := r.journal.RecordEvents(ctx, events); err != nil {
		return fmt.Errorf("failed to record events: %w", err)
	}

	status, message := RunOK, ""
	if runErr != nil {
		status, message = RunFailed, runErr.Error()
	}
	if err := r.journal.FinishRun(ctx, r.run.ID, status, message, time.Now()); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	r.logger.Debug("run journaled",
		"project", r.run.Project,
		"command", r.run.Command,
		"run", r.run.ID,
		"events", len(events),
	)
	return nil
}
