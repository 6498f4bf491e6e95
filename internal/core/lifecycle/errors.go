// Package lifecycle runs one lifecycle verb over a topology's instances.
//
// A verb is described by a Policy (edge direction, barrier use, payload use,
// idempotency check and action). The Executor builds a signal fabric over the
// dependency graph and runs one task per instance: dependents start only once
// every instance of each prerequisite service has finished, unrelated services
// run fully in parallel, and the first failure cancels the whole invocation.
package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Signal fabric errors
	ErrNoReceiver     = errors.New("signal has no live receiver")
	ErrSignalOverflow = errors.New("signal receiver is full")
	ErrUnknownNode    = errors.New("unknown signal node")

	// Policy errors
	ErrInvalidPolicy = errors.New("invalid lifecycle policy")
	ErrMissingGraph  = errors.New("ordered verb requires a dependency graph")
)

// InstanceError reports the instance an operation failed on.
type InstanceError struct {
	Verb     Verb
	Service  string
	Instance string
	Err      error
}

func (e *InstanceError) Error() string {
	if e.Instance != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Verb, e.Service, e.Instance, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Verb, e.Service, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}
