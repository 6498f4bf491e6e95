package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/cli"
	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// DefaultNetwork is the network key services join when they declare none.
const DefaultNetwork = "default"

// =============================================================================
// Loading
// =============================================================================

// LoadOptions selects the compose files and environment for Load.
type LoadOptions struct {
	Files       []string // empty means discover compose.yaml / docker-compose.yml
	WorkingDir  string
	ProjectName string
	Profiles    []string
	EnvFiles    []string
}

// Load reads, merges, interpolates and resolves compose files into a Topology.
func Load(ctx context.Context, opts LoadOptions) (*Topology, error) {
	var fns []cli.ProjectOptionsFn
	if opts.WorkingDir != "" {
		fns = append(fns, cli.WithWorkingDirectory(opts.WorkingDir))
	}
	fns = append(fns,
		cli.WithOsEnv,
		cli.WithEnvFiles(opts.EnvFiles...),
		cli.WithDotEnv,
		cli.WithConfigFileEnv,
		cli.WithDefaultConfigPath,
	)
	if opts.ProjectName != "" {
		fns = append(fns, cli.WithName(opts.ProjectName))
	}
	if len(opts.Profiles) > 0 {
		fns = append(fns, cli.WithProfiles(opts.Profiles))
	}

	projectOpts, err := cli.NewProjectOptions(opts.Files, fns...)
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrNoComposeFile)
	}

	project, err := projectOpts.LoadProject(ctx)
	if err != nil {
		return nil, classifyLoadError(err)
	}

	return convertProject(project)
}

// Parse parses a single in-memory compose document for the given project.
// Used for tests and for content that does not live on disk.
func Parse(yamlContent, projectName string) (*Topology, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}
	if projectName == "" {
		return nil, ErrEmptyProjectName
	}

	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yaml",
				Content:  []byte(yamlContent),
				Config:   dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(projectName, true)
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, classifyLoadError(err)
	}

	return convertProject(project)
}

func classifyLoadError(err error) error {
	errStr := err.Error()
	if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
		return NewParseError("", "service must have image or build", ErrServiceNoImage)
	}
	return NewParseError("", errStr, ErrInvalidYAML)
}

// =============================================================================
// Conversion
// =============================================================================

func convertProject(project *types.Project) (*Topology, error) {
	if project.Name == "" {
		return nil, ErrEmptyProjectName
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	topo := &Topology{Name: project.Name}

	for _, key := range sortedKeys(project.Networks) {
		net := project.Networks[key]
		topo.Networks = append(topo.Networks, Network{
			Key:        key,
			Name:       resourceName(project.Name, key, net.Name, bool(net.External)),
			Driver:     net.Driver,
			External:   bool(net.External),
			Internal:   net.Internal,
			Attachable: net.Attachable,
			Labels:     net.Labels,
		})
	}

	for _, key := range sortedKeys(project.Volumes) {
		vol := project.Volumes[key]
		topo.Volumes = append(topo.Volumes, Volume{
			Key:      key,
			Name:     resourceName(project.Name, key, vol.Name, bool(vol.External)),
			Driver:   vol.Driver,
			External: bool(vol.External),
			Labels:   vol.Labels,
		})
	}

	for _, key := range sortedKeys(project.Secrets) {
		sec := project.Secrets[key]
		topo.Secrets = append(topo.Secrets, Secret{
			Key:         key,
			Name:        resourceName(project.Name, key, sec.Name, bool(sec.External)),
			File:        sec.File,
			Environment: sec.Environment,
			External:    bool(sec.External),
		})
	}

	for _, name := range sortedKeys(project.Services) {
		svc := project.Services[name]
		if svc.Name == "" {
			svc.Name = name
		}
		converted, err := convertService(topo, svc)
		if err != nil {
			return nil, err
		}
		topo.Services = append(topo.Services, converted)
	}

	if err := validateReferences(topo); err != nil {
		return nil, err
	}
	if err := validatePorts(topo.Services); err != nil {
		return nil, err
	}

	return topo, nil
}

// resourceName maps a compose resource key to its engine-side name.
func resourceName(project, key, explicit string, external bool) string {
	if explicit != "" {
		return explicit
	}
	if external {
		return key
	}
	return project + "_" + key
}

// convertService converts a compose-go service to our Service type
func convertService(topo *Topology, svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:          svc.Name,
		Image:         svc.Image,
		ContainerName: svc.ContainerName,
		Command:       svc.Command,
		Entrypoint:    svc.Entrypoint,
		Environment:   make(map[string]string),
		Labels:        make(map[string]string),
		NetworkMode:   svc.NetworkMode,
		Links:         svc.Links,
		Restart:       RestartPolicy(svc.Restart),
		User:          svc.User,
		WorkingDir:    svc.WorkingDir,
		Scale:         svc.Scale,
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			if pub, err := strconv.ParseUint(p.Published, 10, 32); err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for _, v := range svc.Volumes {
		service.Volumes = append(service.Volumes, convertMount(topo, v))
	}

	if len(svc.Networks) == 0 && svc.NetworkMode == "" {
		service.Networks = []string{ensureDefaultNetwork(topo)}
	}
	for _, key := range sortedKeys(svc.Networks) {
		if net, ok := topo.Network(key); ok {
			service.Networks = append(service.Networks, net.Name)
			continue
		}
		if key == DefaultNetwork {
			service.Networks = append(service.Networks, ensureDefaultNetwork(topo))
			continue
		}
		return Service{}, NewParseError("services."+svc.Name+".networks", fmt.Sprintf("undefined network %q", key), ErrInvalidYAML)
	}

	for _, dep := range sortedKeys(svc.DependsOn) {
		service.DependsOn = append(service.DependsOn, dep)
	}

	for _, s := range svc.Secrets {
		target := s.Target
		if target == "" {
			target = s.Source
		}
		service.Secrets = append(service.Secrets, SecretMount{Source: s.Source, Target: target})
	}

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	if svc.StopGracePeriod != nil {
		service.StopGracePeriod = time.Duration(*svc.StopGracePeriod)
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = time.Duration(*svc.HealthCheck.Interval)
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = time.Duration(*svc.HealthCheck.Timeout)
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = time.Duration(*svc.HealthCheck.StartPeriod)
		}
	}

	// Note: compose-go's NanoCPUs is misnamed - it's actually the CPU count as float32
	if svc.Deploy != nil {
		service.Replicas = svc.Deploy.Replicas
		if limits := svc.Deploy.Resources.Limits; limits != nil {
			service.Resources.CPULimit = float64(limits.NanoCPUs)
			service.Resources.MemoryLimit = int64(limits.MemoryBytes)
		}
		if reservations := svc.Deploy.Resources.Reservations; reservations != nil {
			service.Resources.CPUReservation = float64(reservations.NanoCPUs)
			service.Resources.MemoryReservation = int64(reservations.MemoryBytes)
		}
	}

	return service, nil
}

func convertMount(topo *Topology, v types.ServiceVolumeConfig) VolumeMount {
	mount := VolumeMount{
		Source:   v.Source,
		Target:   v.Target,
		ReadOnly: v.ReadOnly,
	}
	switch v.Type {
	case "bind":
		mount.Type = VolumeMountTypeBind
	case "volume":
		mount.Type = VolumeMountTypeVolume
	case "tmpfs":
		mount.Type = VolumeMountTypeTmpfs
	default:
		if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
			mount.Type = VolumeMountTypeBind
		} else {
			mount.Type = VolumeMountTypeVolume
		}
	}
	if mount.Type == VolumeMountTypeVolume && mount.Source != "" {
		if vol, ok := topo.Volume(mount.Source); ok {
			mount.Source = vol.Name
		}
	}
	return mount
}

// ensureDefaultNetwork adds the implicit project network when missing.
func ensureDefaultNetwork(topo *Topology) string {
	if net, ok := topo.Network(DefaultNetwork); ok {
		return net.Name
	}
	net := Network{
		Key:  DefaultNetwork,
		Name: resourceName(topo.Name, DefaultNetwork, "", false),
	}
	topo.Networks = append(topo.Networks, net)
	sort.Slice(topo.Networks, func(i, j int) bool { return topo.Networks[i].Key < topo.Networks[j].Key })
	return net.Name
}

// =============================================================================
// Validation
// =============================================================================

func validateReferences(topo *Topology) error {
	for _, svc := range topo.Services {
		for _, dep := range svc.Dependencies(true) {
			if _, ok := topo.Service(dep); !ok {
				return NewParseError("services."+svc.Name+".depends_on", fmt.Sprintf("service %q is not defined", dep), ErrUnknownDependency)
			}
		}
		for _, s := range svc.Secrets {
			if _, ok := topo.Secret(s.Source); !ok {
				return NewParseError("services."+svc.Name+".secrets", fmt.Sprintf("secret %q is not defined", s.Source), ErrUnknownSecret)
			}
		}
	}
	return nil
}

// validatePorts validates all port configurations
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
