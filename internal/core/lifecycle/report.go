package lifecycle

import (
	"time"
)

// Status is the result of one instance operation.
type Status string

const (
	StatusStarted Status = "started"
	StatusOK      Status = "ok"
	StatusNoop    Status = "no-op"
	StatusError   Status = "error"
)

// Event is a progress notification keyed by instance name.
type Event struct {
	Verb     Verb
	Service  string
	Instance string
	Status   Status
	Message  string
	Err      error
	Time     time.Time
	Duration time.Duration // set on finish
}

// Reporter observes instance operations. Implementations must be safe for
// concurrent use and must not block.
type Reporter interface {
	Started(ev Event)
	Finished(ev Event)
}

// NopReporter discards events.
type NopReporter struct{}

func (NopReporter) Started(Event)  {}
func (NopReporter) Finished(Event) {}

// MultiReporter fans events out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Started(ev Event) {
	for _, r := range m {
		r.Started(ev)
	}
}

func (m MultiReporter) Finished(ev Event) {
	for _, r := range m {
		r.Finished(ev)
	}
}
