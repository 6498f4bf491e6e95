package deployment

import (
	"strconv"
	"strings"
)

// DefaultLabelPrefix is the label namespace used when none is configured.
const DefaultLabelPrefix = "io.stackctl.compose"

// =============================================================================
// Labels
// =============================================================================

// Labels produces label keys under a configurable prefix.
type Labels struct {
	Prefix string
}

// NewLabels returns Labels for prefix, falling back to DefaultLabelPrefix.
func NewLabels(prefix string) Labels {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	return Labels{Prefix: prefix}
}

func (l Labels) key(name string) string { return l.Prefix + "." + name }

// Project is the label holding the project name.
func (l Labels) Project() string { return l.key("project") }

// Service is the label holding the service name.
func (l Labels) Service() string { return l.key("service") }

// ContainerNumber is the label holding the 1-based replica index.
func (l Labels) ContainerNumber() string { return l.key("container-number") }

// ConfigHash is the label holding the topology fingerprint.
func (l Labels) ConfigHash() string { return l.key("config-hash") }

// Version is the label holding the tool version that created the resource.
func (l Labels) Version() string { return l.key("version") }

// OneOff marks containers created by run.
func (l Labels) OneOff() string { return l.key("oneoff") }

// DependsOn holds the instance names a container was created after.
func (l Labels) DependsOn() string { return l.key("depends-on") }

// ProjectFilter returns a "key=value" label filter selecting a project.
func (l Labels) ProjectFilter(project string) string {
	return l.Project() + "=" + project
}

// ServiceFilter returns a "key=value" label filter selecting a service.
func (l Labels) ServiceFilter(service string) string {
	return l.Service() + "=" + service
}

// ForResource returns the labels attached to project networks and volumes.
func (l Labels) ForResource(project, version string) map[string]string {
	return map[string]string{
		l.Project(): project,
		l.Version(): version,
	}
}

// InstanceLabels describes one container for ForInstance.
type InstanceLabels struct {
	Project    string
	Instance   Instance
	ConfigHash string
	Version    string
	OneOff     bool
	Requires   []string
}

// ForInstance returns the labels attached to an instance container.
func (l Labels) ForInstance(p InstanceLabels) map[string]string {
	labels := map[string]string{
		l.Project():         p.Project,
		l.Service():         p.Instance.Service,
		l.ContainerNumber(): strconv.Itoa(p.Instance.Index),
		l.ConfigHash():      p.ConfigHash,
		l.Version():         p.Version,
		l.OneOff():          strconv.FormatBool(p.OneOff),
	}
	if len(p.Requires) > 0 {
		labels[l.DependsOn()] = strings.Join(p.Requires, ",")
	}
	return labels
}
