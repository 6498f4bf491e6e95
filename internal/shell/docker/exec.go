package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
)

// =============================================================================
// Service Containers
// =============================================================================

// serviceContainer returns the replica index of service. running requires
// the container to be up.
func (o *Orchestrator) serviceContainer(ctx context.Context, topo *compose.Topology, service string, index int, running bool) (*ContainerInfo, error) {
	svc, ok := topo.Service(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", deployment.ErrUnknownService, service)
	}
	if index <= 0 {
		index = 1
	}

	name := deployment.InstanceName(topo.Name, svc.Name, svc.ContainerName, index)
	info, err := o.docker.InspectContainer(ctx, name)
	if errors.Is(err, ErrContainerNotFound) || (err == nil && running && info.Status != ContainerStatusRunning) {
		return nil, fmt.Errorf("%w: service %q is not running container #%d", ErrServiceNotRunning, service, index)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// =============================================================================
// Exec
// =============================================================================

// ExecOptions configures Exec.
type ExecOptions struct {
	Service    string
	Index      int // replica index, default 1
	Command    []string
	Env        map[string]string
	User       string
	WorkingDir string
	Privileged bool
	Tty        bool
	Detach     bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// Exec runs a command in one running replica of a service and returns the
// command's exit code.
func (o *Orchestrator) Exec(ctx context.Context, topo *compose.Topology, opts ExecOptions) (int, error) {
	if len(opts.Command) == 0 {
		return -1, fmt.Errorf("%w: exec needs a command", ErrConflictingFlags)
	}
	info, err := o.serviceContainer(ctx, topo, opts.Service, opts.Index, true)
	if err != nil {
		return -1, err
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	o.logger.Debug("exec in container",
		"container", info.Name,
		"command", strings.Join(opts.Command, " "),
		"detach", opts.Detach,
	)
	return o.docker.ExecContainer(ctx, info.Name, ExecConfig{
		Command:    opts.Command,
		Env:        env,
		User:       opts.User,
		WorkingDir: opts.WorkingDir,
		Privileged: opts.Privileged,
		Tty:        opts.Tty,
		Detach:     opts.Detach,
		Stdin:      opts.Stdin,
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
	})
}

// =============================================================================
// Copy
// =============================================================================

// CopyPath is one side of a copy: a host path, or a path inside a service's
// container when Service is set.
type CopyPath struct {
	Service string
	Path    string
}

// ParseCopyPath splits "SERVICE:PATH". Arguments without a colon, or whose
// part before the colon looks like a host path, are host paths.
func ParseCopyPath(arg string) CopyPath {
	service, p, found := strings.Cut(arg, ":")
	if !found || service == "" || strings.ContainsAny(service, `/\.`) {
		return CopyPath{Path: arg}
	}
	return CopyPath{Service: service, Path: p}
}

// CopyOptions configures Copy.
type CopyOptions struct {
	Source      CopyPath
	Destination CopyPath
	Index       int  // replica index, default 1
	Archive     bool // keep uid/gid when copying into a container
}

// Copy copies files or directories between a service container and the
// host. Exactly one side must name a service.
func (o *Orchestrator) Copy(ctx context.Context, topo *compose.Topology, opts CopyOptions) error {
	src, dst := opts.Source, opts.Destination
	switch {
	case src.Service != "" && dst.Service != "":
		return fmt.Errorf("%w: copying between services is not supported", ErrInvalidCopy)
	case src.Service == "" && dst.Service == "":
		return fmt.Errorf("%w: one of source or destination must be SERVICE:PATH", ErrInvalidCopy)
	case src.Path == "" || dst.Path == "":
		return fmt.Errorf("%w: source and destination paths must not be empty", ErrInvalidCopy)
	}

	if src.Service != "" {
		info, err := o.serviceContainer(ctx, topo, src.Service, opts.Index, false)
		if err != nil {
			return err
		}
		return o.copyFrom(ctx, info.Name, src.Path, dst.Path)
	}

	info, err := o.serviceContainer(ctx, topo, dst.Service, opts.Index, false)
	if err != nil {
		return err
	}
	return o.copyTo(ctx, info.Name, src.Path, dst.Path, opts.Archive)
}

// copyTo copies the host path src to dst in a container. An existing
// directory receives src under its own name; anything else is replaced.
func (o *Orchestrator) copyTo(ctx context.Context, container, src, dst string, archive bool) error {
	dir, name := dst, filepath.Base(src)
	stat, err := o.docker.StatContainerPath(ctx, container, dst)
	switch {
	case err == nil && stat.IsDir:
	case err == nil || errors.Is(err, ErrPathNotFound):
		dir, name = path.Dir(dst), path.Base(dst)
	default:
		return err
	}

	content, err := tarPath(src, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	defer content.Close()

	o.logger.Debug("copying to container", "container", container, "source", src, "destination", path.Join(dir, name))
	return o.docker.CopyToContainer(ctx, container, dir, content, archive)
}

// copyFrom copies src in a container to the host path dst. An existing
// directory receives src under its own name; anything else is replaced.
func (o *Orchestrator) copyFrom(ctx context.Context, container, src, dst string) error {
	dir, rename := dst, ""
	if fi, err := os.Stat(dst); err != nil || !fi.IsDir() {
		dir, rename = filepath.Dir(dst), filepath.Base(dst)
	}

	content, err := o.docker.CopyFromContainer(ctx, container, src)
	if err != nil {
		return err
	}
	defer content.Close()

	o.logger.Debug("copying from container", "container", container, "source", src, "destination", dst)
	return untarTo(content, dir, rename)
}
