package lifecycle

import (
	"context"
	"fmt"

	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/graph"
)

// Verb names a lifecycle operation.
type Verb string

const (
	VerbCreate  Verb = "create"
	VerbStart   Verb = "start"
	VerbStop    Verb = "stop"
	VerbPause   Verb = "pause"
	VerbUnpause Verb = "unpause"
	VerbRemove  Verb = "remove"
	VerbKill    Verb = "kill"
	VerbDown    Verb = "down"
)

// CheckFunc reports whether an instance is already in the verb's target state.
type CheckFunc func(ctx context.Context, inst deployment.Instance) (bool, error)

// ApplyFunc performs the verb on one instance. requires holds the aggregated
// payloads of the instance's prerequisites when the policy consumes them.
type ApplyFunc func(ctx context.Context, inst deployment.Instance, requires []string) error

// Policy describes one verb for the Executor.
type Policy struct {
	Verb      Verb
	Ordered   bool            // follow the dependency graph
	Direction graph.Direction // edge direction when Ordered
	Links     bool            // links count as dependencies
	Barrier   bool            // rendezvous before waiting on signals
	Consumes  bool            // publish instance names and pass them to Apply

	Satisfied CheckFunc // optional idempotency check
	Apply     ApplyFunc

	Progress string // reported when an instance starts
	Done     string // reported on success
	Noop     string // reported when Satisfied short-circuits
}

// EdgeSource returns the graph edge source for this policy.
func (p Policy) EdgeSource() graph.EdgeSource {
	return graph.EdgeSource{Direction: p.Direction, Links: p.Links}
}

func (p Policy) validate() error {
	if p.Verb == "" {
		return fmt.Errorf("%w: missing verb", ErrInvalidPolicy)
	}
	if p.Apply == nil {
		return fmt.Errorf("%w: %s has no action", ErrInvalidPolicy, p.Verb)
	}
	return nil
}

// =============================================================================
// Verb Table
// =============================================================================

var policies = map[Verb]Policy{
	VerbCreate: {
		Verb: VerbCreate, Ordered: true, Direction: graph.DependencyFirst, Links: true,
		Barrier: true, Consumes: true,
		Progress: "Creating", Done: "Created", Noop: "Exists",
	},
	VerbStart: {
		Verb: VerbStart, Ordered: true, Direction: graph.DependencyFirst, Links: true,
		Barrier: true,
		Progress: "Starting", Done: "Started", Noop: "Running",
	},
	VerbStop: {
		Verb: VerbStop, Ordered: true, Direction: graph.DependentFirst, Links: true,
		Barrier: true,
		Progress: "Stopping", Done: "Stopped", Noop: "Not running",
	},
	VerbPause: {
		Verb: VerbPause, Ordered: true, Direction: graph.DependentFirst, Links: true,
		Barrier: true,
		Progress: "Pausing", Done: "Paused", Noop: "Not running",
	},
	VerbRemove: {
		Verb: VerbRemove, Ordered: true, Direction: graph.DependentFirst, Links: true,
		Barrier: true,
		Progress: "Removing", Done: "Removed", Noop: "Not found",
	},
	VerbUnpause: {
		Verb:     VerbUnpause,
		Progress: "Unpausing", Done: "Unpaused", Noop: "Not paused",
	},
	VerbKill: {
		Verb:     VerbKill,
		Progress: "Killing", Done: "Killed", Noop: "Not running",
	},
	VerbDown: {
		Verb:     VerbDown,
		Progress: "Removing", Done: "Removed", Noop: "Not found",
	},
}

// PolicyFor returns the ordering and reporting settings of a verb. The
// caller supplies Satisfied and Apply.
func PolicyFor(verb Verb) Policy {
	if p, ok := policies[verb]; ok {
		return p
	}
	return Policy{Verb: verb, Progress: string(verb), Done: string(verb), Noop: "Unchanged"}
}
