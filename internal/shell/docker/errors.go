package docker

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerAlreadyExists = errors.New("container already exists")
	ErrServiceNotRunning      = errors.New("service container is not running")
	ErrPathNotFound           = errors.New("no such path in container")

	// Network errors
	ErrNetworkNotFound = errors.New("network not found")
	ErrNetworkInUse    = errors.New("network has active endpoints")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageInUse       = errors.New("image is in use")
	ErrBuildUnsupported = errors.New("service has no image and building is not supported")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")

	// Orchestration errors
	ErrExternalNotFound  = errors.New("external resource not found")
	ErrConflictingFlags  = errors.New("conflicting options")
	ErrUnsupportedSecret = errors.New("unsupported secret source")
	ErrInvalidCopy       = errors.New("invalid copy")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// ExternalNotFoundError reports a missing resource declared as external.
func ExternalNotFoundError(kind, name string) error {
	return fmt.Errorf("%w: external %s %q not found", ErrExternalNotFound, kind, name)
}

// wrapEngineError classifies an SDK error with errdefs. notFound and
// conflict are the sentinels to wrap for those classes; nil keeps the
// original error.
func wrapEngineError(op, entity, id string, err error, notFound, conflict error) error {
	switch {
	case errdefs.IsNotFound(err) && notFound != nil:
		return NewDockerError(op, entity, id, notFound.Error(), notFound)
	case errdefs.IsConflict(err) && conflict != nil:
		return NewDockerError(op, entity, id, err.Error(), conflict)
	default:
		return NewDockerError(op, entity, id, err.Error(), err)
	}
}

// isNotFound reports whether err is one of the not-found sentinels.
func isNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound) ||
		errors.Is(err, ErrNetworkNotFound) ||
		errors.Is(err, ErrVolumeNotFound) ||
		errors.Is(err, ErrImageNotFound)
}
