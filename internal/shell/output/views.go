package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/artpar/stackctl/internal/shell/docker"
	"github.com/artpar/stackctl/internal/shell/store"
)

// =============================================================================
// Containers (ps)
// =============================================================================

// ContainerRow is one line of `ps`.
type ContainerRow struct {
	Name     string    `json:"name" yaml:"name"`
	Service  string    `json:"service" yaml:"service"`
	Image    string    `json:"image" yaml:"image"`
	Command  string    `json:"command" yaml:"command"`
	Created  time.Time `json:"created" yaml:"created"`
	Status   string    `json:"status" yaml:"status"`
	State    string    `json:"state" yaml:"state"`
	Health   string    `json:"health,omitempty" yaml:"health,omitempty"`
	ExitCode int       `json:"exitCode" yaml:"exitCode"`
	Ports    []string  `json:"ports" yaml:"ports"`

	now time.Time
}

// ContainerTable renders `ps` output.
type ContainerTable []ContainerRow

// NewContainerTable builds rows from engine containers. serviceLabel is the
// label key holding the service name.
func NewContainerTable(containers []docker.ContainerInfo, serviceLabel string, now time.Time) ContainerTable {
	rows := make(ContainerTable, 0, len(containers))
	for _, c := range containers {
		rows = append(rows, ContainerRow{
			Name:     c.Name,
			Service:  c.Labels[serviceLabel],
			Image:    c.Image,
			Command:  c.Command,
			Created:  c.CreatedAt,
			Status:   c.State,
			State:    string(c.Status),
			Health:   c.Health,
			ExitCode: c.ExitCode,
			Ports:    FormatPorts(c.Ports),
			now:      now,
		})
	}
	return rows
}

func (t ContainerTable) Headers() []string {
	return []string{"Name", "Image", "Command", "Service", "Created", "Status", "Ports"}
}

func (t ContainerTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		status := r.Status
		if status == "" {
			status = r.State
		}
		if r.Health != "" {
			status += " (" + r.Health + ")"
		}
		rows = append(rows, []string{
			r.Name,
			r.Image,
			quoteCommand(r.Command),
			r.Service,
			ago(r.now, r.Created),
			status,
			strings.Join(r.Ports, ", "),
		})
	}
	return rows
}

// Names returns only the container names, for `ps -q` style output.
func (t ContainerTable) Names() []string {
	names := make([]string, 0, len(t))
	for _, r := range t {
		names = append(names, r.Name)
	}
	return names
}

// FormatPorts renders bindings the way the engine CLI does:
// "0.0.0.0:8080->80/tcp" for published ports and "80/tcp" otherwise.
func FormatPorts(ports []docker.PortBinding) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		target := fmt.Sprintf("%d/%s", p.ContainerPort, proto)
		if p.HostPort == 0 {
			out = append(out, target)
			continue
		}
		host := p.HostIP
		if host == "" {
			host = "0.0.0.0"
		}
		out = append(out, fmt.Sprintf("%s:%d->%s", host, p.HostPort, target))
	}
	return out
}

func quoteCommand(cmd string) string {
	if cmd == "" {
		return ""
	}
	const width = 20
	if len(cmd) > width {
		cmd = cmd[:width-1] + "…"
	}
	return strconv.Quote(cmd)
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.IsZero() {
		now = time.Now()
	}
	return units.HumanDuration(now.Sub(t)) + " ago"
}

// =============================================================================
// Projects (ls)
// =============================================================================

// ProjectTable renders `ls` output.
type ProjectTable []docker.ProjectSummary

func (t ProjectTable) Headers() []string {
	return []string{"Name", "Status", "Containers", "Health"}
}

func (t ProjectTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, p := range t {
		rows = append(rows, []string{p.Name, p.Status, strconv.Itoa(p.Containers), p.Health})
	}
	return rows
}

// =============================================================================
// Images
// =============================================================================

// ImageTable renders `images` output.
type ImageTable []docker.ImageRow

func (t ImageTable) Headers() []string {
	return []string{"Container", "Repository", "Tag", "Image ID", "Size"}
}

func (t ImageTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, img := range t {
		rows = append(rows, []string{
			img.Container,
			img.Repository,
			img.Tag,
			shortID(img.ID),
			units.HumanSize(float64(img.Size)),
		})
	}
	return rows
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// =============================================================================
// Processes (top)
// =============================================================================

// PrintTop writes one process table per container, sorted by container name.
func PrintTop(w io.Writer, procs map[string]*docker.ProcessList) error {
	names := make([]string, 0, len(procs))
	for name := range procs {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, name)
		table := NewTableData(procs[name].Titles...)
		for _, p := range procs[name].Processes {
			table.AddRow(p...)
		}
		if err := PrintTable(w, table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Journal (history)
// =============================================================================

// RunTable renders `history` output.
type RunTable []store.Run

func (t RunTable) Headers() []string {
	return []string{"Run", "Project", "Command", "Services", "Started", "Duration", "Status", "Error"}
}

func (t RunTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		duration := ""
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			r.ID,
			r.Project,
			r.Command,
			strings.Join(r.Services, ","),
			r.StartedAt.Local().Format(time.DateTime),
			duration,
			string(r.Status),
			r.Error,
		})
	}
	return rows
}

// EventTable renders the instance operations of one run.
type EventTable []store.Event

func (t EventTable) Headers() []string {
	return []string{"Time", "Verb", "Instance", "Status", "Duration", "Message"}
}

func (t EventTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, ev := range t {
		rows = append(rows, []string{
			ev.At.Local().Format(time.TimeOnly),
			ev.Verb,
			ev.Instance,
			ev.Status,
			ev.Duration.String(),
			ev.Message,
		})
	}
	return rows
}
