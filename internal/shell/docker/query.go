package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/monitoring"
)

// =============================================================================
// Ps
// =============================================================================

// PsOptions configures Ps.
type PsOptions struct {
	Services []string
	All      bool // include stopped containers
}

// Ps lists the project's containers, sorted by name.
func (o *Orchestrator) Ps(ctx context.Context, topo *compose.Topology, opts PsOptions) ([]ContainerInfo, error) {
	if err := deployment.ValidateServices(topo, opts.Services); err != nil {
		return nil, err
	}

	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All:    opts.All,
		Labels: []string{o.labels.ProjectFilter(topo.Name)},
	})
	if err != nil {
		return nil, err
	}
	return o.filterServices(containers, opts.Services), nil
}

func (o *Orchestrator) filterServices(containers []ContainerInfo, services []string) []ContainerInfo {
	if len(services) == 0 {
		return containers
	}
	want := make(map[string]bool, len(services))
	for _, s := range services {
		want[s] = true
	}
	var out []ContainerInfo
	for _, c := range containers {
		if want[c.Labels[o.labels.Service()]] {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// Logs
// =============================================================================

// LogsOptions configures Logs.
type LogsOptions struct {
	Services   []string
	Follow     bool
	Tail       string
	Timestamps bool
	NoPrefix   bool // omit the "{container} | " prefix
}

// Logs writes the output of the project's containers to w, one line at a
// time, each prefixed with the container name.
func (o *Orchestrator) Logs(ctx context.Context, topo *compose.Topology, opts LogsOptions, w io.Writer) error {
	containers, err := o.Ps(ctx, topo, PsOptions{Services: opts.Services, All: true})
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range containers {
		g.Go(func() error {
			logs, err := o.docker.ContainerLogs(gctx, c.Name, LogOptions{
				Follow:     opts.Follow,
				Tail:       opts.Tail,
				Timestamps: opts.Timestamps,
			})
			if err != nil {
				return err
			}
			defer logs.Close()

			prefix := ""
			if !opts.NoPrefix {
				prefix = c.Name + " | "
			}
			lw := &lineWriter{mu: &mu, w: w, prefix: prefix}

			_, copyErr := stdcopy.StdCopy(lw, lw, logs)
			flushErr := lw.Flush()
			if copyErr != nil && gctx.Err() == nil {
				return fmt.Errorf("failed to read logs of %s: %w", c.Name, copyErr)
			}
			if flushErr != nil {
				return fmt.Errorf("failed to write logs of %s: %w", c.Name, flushErr)
			}
			return nil
		})
	}
	return g.Wait()
}

// lineWriter writes complete, prefixed lines to a shared writer.
type lineWriter struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix string
	buf    bytes.Buffer
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := l.buf.Next(i + 1)
		if err := l.emit(line); err != nil {
			return 0, err
		}
	}
}

// Flush writes any buffered partial line.
func (l *lineWriter) Flush() error {
	if l.buf.Len() == 0 {
		return nil
	}
	rest := append(l.buf.Bytes(), '\n')
	l.buf.Reset()
	return l.emit(rest)
}

func (l *lineWriter) emit(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, l.prefix); err != nil {
		return err
	}
	_, err := l.w.Write(line)
	return err
}

// =============================================================================
// Top
// =============================================================================

// Top returns the process lists of the project's running containers keyed by
// container name.
func (o *Orchestrator) Top(ctx context.Context, topo *compose.Topology, services []string) (map[string]*ProcessList, error) {
	containers, err := o.Ps(ctx, topo, PsOptions{Services: services})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]*ProcessList, len(containers))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range containers {
		if c.Status != ContainerStatusRunning {
			continue
		}
		g.Go(func() error {
			procs, err := o.docker.ContainerTop(gctx, c.Name)
			if err != nil {
				return err
			}
			mu.Lock()
			result[c.Name] = procs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// Events
// =============================================================================

// Events streams the engine events of the project's objects to fn until ctx
// is done or fn returns an error.
func (o *Orchestrator) Events(ctx context.Context, topo *compose.Topology, fn func(EngineEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, errs := o.docker.Events(ctx, ListOptions{Labels: []string{o.labels.ProjectFilter(topo.Name)}})
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := fn(ev); err != nil {
				return err
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			errs = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// =============================================================================
// Images
// =============================================================================

// ImageRow describes the image used by one container.
type ImageRow struct {
	Container  string `json:"container" yaml:"container"`
	Repository string `json:"repository" yaml:"repository"`
	Tag        string `json:"tag" yaml:"tag"`
	ID         string `json:"id" yaml:"id"`
	Size       int64  `json:"size" yaml:"size"`
}

// Images lists the images used by the project's containers.
func (o *Orchestrator) Images(ctx context.Context, topo *compose.Topology, services []string) ([]ImageRow, error) {
	containers, err := o.Ps(ctx, topo, PsOptions{Services: services, All: true})
	if err != nil {
		return nil, err
	}

	cache := make(map[string]*ImageInfo)
	rows := make([]ImageRow, 0, len(containers))
	for _, c := range containers {
		info, ok := cache[c.Image]
		if !ok {
			info, err = o.docker.InspectImage(ctx, c.Image)
			if err != nil && !isNotFound(err) {
				return nil, err
			}
			cache[c.Image] = info
		}

		repo, tag := splitImageRef(c.Image)
		row := ImageRow{Container: c.Name, Repository: repo, Tag: tag}
		if info != nil {
			row.ID = shortHash(strings.TrimPrefix(info.ID, "sha256:"))
			row.Size = info.Size
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// splitImageRef splits "repo:tag" keeping registry ports in the repository.
func splitImageRef(ref string) (string, string) {
	if i := strings.Index(ref, "@"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	slash := strings.LastIndex(ref, "/")
	if colon := strings.LastIndex(ref, ":"); colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, "latest"
}

// =============================================================================
// Port
// =============================================================================

// PortOptions configures Port.
type PortOptions struct {
	Service  string
	Index    int    // replica index, default 1
	Port     int    // container port
	Protocol string // default tcp
}

// Port returns the host address a container port is published on.
func (o *Orchestrator) Port(ctx context.Context, topo *compose.Topology, opts PortOptions) (string, error) {
	svc, ok := topo.Service(opts.Service)
	if !ok {
		return "", fmt.Errorf("%w: %s", deployment.ErrUnknownService, opts.Service)
	}
	index := opts.Index
	if index == 0 {
		index = 1
	}
	proto := opts.Protocol
	if proto == "" {
		proto = "tcp"
	}

	name := deployment.InstanceName(topo.Name, svc.Name, svc.ContainerName, index)
	info, err := o.docker.InspectContainer(ctx, name)
	if err != nil {
		return "", err
	}
	for _, p := range info.Ports {
		if p.ContainerPort == opts.Port && p.Protocol == proto && p.HostPort != 0 {
			host := p.HostIP
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, p.HostPort), nil
		}
	}
	return "", fmt.Errorf("no port %d/%s published for %s", opts.Port, proto, name)
}

// =============================================================================
// Projects
// =============================================================================

// ProjectSummary describes one project found on the engine.
type ProjectSummary struct {
	Name       string `json:"name" yaml:"name"`
	Status     string `json:"status" yaml:"status"` // e.g. "running(2), exited(1)"
	Containers int    `json:"containers" yaml:"containers"`
	Health     string `json:"health" yaml:"health"`
}

// Projects lists every project with at least one labelled container.
func (o *Orchestrator) Projects(ctx context.Context) ([]ProjectSummary, error) {
	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All:    true,
		Labels: []string{o.labels.Project()},
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]map[ContainerStatus]int)
	health := make(map[string][]monitoring.HealthStatus)
	for _, c := range containers {
		project := c.Labels[o.labels.Project()]
		if counts[project] == nil {
			counts[project] = make(map[ContainerStatus]int)
		}
		counts[project][c.Status]++
		health[project] = append(health[project], monitoring.ContainerHealth(string(c.Status), c.Health))
	}

	summaries := make([]ProjectSummary, 0, len(counts))
	for project, byStatus := range counts {
		statuses := make([]string, 0, len(byStatus))
		total := 0
		for status, n := range byStatus {
			statuses = append(statuses, fmt.Sprintf("%s(%d)", status, n))
			total += n
		}
		sort.Strings(statuses)
		summaries = append(summaries, ProjectSummary{
			Name:       project,
			Status:     strings.Join(statuses, ", "),
			Containers: total,
			Health:     string(monitoring.AggregateHealth(health[project])),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}
