package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/graph"
	"github.com/artpar/stackctl/internal/shell/docker"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// UsageError marks bad invocations: flags, arguments or an invalid project.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCodeError carries the exit status of a foreground one-off container.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("container exited with code %d", e.Code)
}

// exitCode maps a command error to a process exit status.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return ExitSuccess
	}

	var codeErr *ExitCodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}

	var usageErr *UsageError
	var parseErr *compose.ParseError
	var cycleErr *graph.CycleError
	switch {
	case errors.As(err, &usageErr),
		errors.As(err, &parseErr),
		errors.As(err, &cycleErr),
		errors.Is(err, deployment.ErrInvalidReplicas),
		errors.Is(err, deployment.ErrUnknownService),
		errors.Is(err, docker.ErrConflictingFlags),
		errors.Is(err, docker.ErrInvalidCopy):
		return ExitUsage
	}

	// cobra reports unknown subcommands as plain errors
	if strings.HasPrefix(err.Error(), "unknown command") {
		return ExitUsage
	}
	return ExitError
}
