package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// When the default socket does not answer, the Docker Desktop socket in the
// user's home directory is tried.
func NewDockerClient(ctx context.Context, host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", err.Error(), ErrConnectionFailed)
	}
	if host != "" {
		return &DockerClient{cli: cli}, nil
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		alt, altErr := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if altErr == nil {
			if _, err := alt.Ping(ctx); err == nil {
				cli.Close()
				return &DockerClient{cli: alt}, nil
			}
			alt.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Version reports the engine version.
func (d *DockerClient) Version(ctx context.Context) (*VersionInfo, error) {
	v, err := d.cli.ServerVersion(ctx)
	if err != nil {
		return nil, NewDockerError("Version", "", "", err.Error(), ErrConnectionFailed)
	}
	return &VersionInfo{
		Version:       v.Version,
		APIVersion:    v.APIVersion,
		MinAPIVersion: v.MinAPIVersion,
		OS:            v.Os,
		Arch:          v.Arch,
	}, nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config, hostConfig, networkConfig := containerConfig(spec)

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", wrapEngineError("CreateContainer", "container", spec.Name, err, ErrImageNotFound, ErrContainerAlreadyExists)
	}
	return resp.ID, nil
}

// containerConfig translates a ContainerSpec into SDK create parameters.
func containerConfig(spec ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Labels:     spec.Labels,
	}

	// Environment, sorted for a stable create request
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		config.Env = append(config.Env, k+"="+spec.Env[k])
	}

	hostConfig := &container.HostConfig{}
	if spec.NetworkMode != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}

	// Port bindings
	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = strconv.Itoa(p.HostPort)
			}
			portBindings[containerPort] = append(portBindings[containerPort], nat.PortBinding{
				HostIP:   p.HostIP,
				HostPort: hostPort,
			})
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	// Mounts
	for _, v := range spec.Volumes {
		m := mount.Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case MountTypeBind:
			m.Type = mount.TypeBind
		case MountTypeTmpfs:
			m.Type = mount.TypeTmpfs
			m.Source = ""
		case MountTypeVolume:
			m.Type = mount.TypeVolume
		default:
			if strings.HasPrefix(v.Source, "/") {
				m.Type = mount.TypeBind
			} else {
				m.Type = mount.TypeVolume
			}
		}
		hostConfig.Mounts = append(hostConfig.Mounts, m)
	}

	// Resource limits
	if spec.Resources.CPULimit > 0 {
		hostConfig.NanoCPUs = int64(spec.Resources.CPULimit * 1e9)
	}
	if spec.Resources.MemoryLimit > 0 {
		hostConfig.Memory = spec.Resources.MemoryLimit
	}

	// Restart policy
	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	// Health check
	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	if spec.StopTimeout != nil {
		seconds := int(spec.StopTimeout.Seconds())
		config.StopTimeout = &seconds
	}

	// Network config with per-network aliases
	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 && spec.NetworkMode == "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n] = &network.EndpointSettings{
				Aliases: spec.NetworkAliases[n],
			}
		}
	}

	return config, hostConfig, networkConfig
}

// StartContainer starts a stopped container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return wrapEngineError("StartContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return nil
}

// StopContainer stops a running container.
func (d *DockerClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	if err := d.cli.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return wrapEngineError("StopContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return nil
}

// KillContainer sends signal to the container's main process.
func (d *DockerClient) KillContainer(ctx context.Context, containerID, signal string) error {
	if err := d.cli.ContainerKill(ctx, containerID, signal); err != nil {
		return wrapEngineError("KillContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return nil
}

// PauseContainer freezes every process in the container.
func (d *DockerClient) PauseContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerPause(ctx, containerID); err != nil {
		return wrapEngineError("PauseContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return nil
}

// UnpauseContainer resumes a paused container.
func (d *DockerClient) UnpauseContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerUnpause(ctx, containerID); err != nil {
		return wrapEngineError("UnpauseContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		return wrapEngineError("RemoveContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return nil
}

// InspectContainer returns detailed information about a container.
func (d *DockerClient) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, wrapEngineError("InspectContainer", "container", containerID, err, ErrContainerNotFound, nil)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)
	info := &ContainerInfo{
		ID:        resp.ID,
		Name:      strings.TrimPrefix(resp.Name, "/"),
		CreatedAt: createdAt,
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
		info.Command = strings.Join(resp.Config.Cmd, " ")
	}
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
		info.State = string(resp.State.Status)
		info.ExitCode = resp.State.ExitCode
		info.StartedAt = parseEngineTime(resp.State.StartedAt)
		info.FinishedAt = parseEngineTime(resp.State.FinishedAt)
		if resp.State.Health != nil {
			info.Health = string(resp.State.Health.Status)
		}
	}

	if resp.NetworkSettings != nil {
		for containerPort, bindings := range resp.NetworkSettings.Ports {
			target, _ := strconv.Atoi(containerPort.Port())
			for _, binding := range bindings {
				published, _ := strconv.Atoi(binding.HostPort)
				info.Ports = append(info.Ports, PortBinding{
					ContainerPort: target,
					HostPort:      published,
					Protocol:      containerPort.Proto(),
					HostIP:        binding.HostIP,
				})
			}
		}
		sortPorts(info.Ports)
	}

	return info, nil
}

func parseEngineTime(s string) *time.Time {
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func sortPorts(ports []PortBinding) {
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].ContainerPort != ports[j].ContainerPort {
			return ports[i].ContainerPort < ports[j].ContainerPort
		}
		return ports[i].Protocol < ports[j].Protocol
	})
}

// ListContainers returns a list of containers matching the given options.
func (d *DockerClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     opts.All,
		Filters: filterArgs(opts),
	})
	if err != nil {
		return nil, NewDockerError("ListContainers", "container", "", err.Error(), err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}
		sortPorts(ports)

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Command:   c.Command,
			Status:    ContainerStatus(c.State),
			State:     c.Status,
			Health:    healthFromState(c.Status),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// healthFromState extracts the healthcheck result from a list summary such
// as "Up 3 minutes (health: starting)".
func healthFromState(state string) string {
	switch {
	case strings.HasSuffix(state, "(healthy)"):
		return "healthy"
	case strings.HasSuffix(state, "(unhealthy)"):
		return "unhealthy"
	case strings.HasSuffix(state, "(health: starting)"):
		return "starting"
	default:
		return ""
	}
}

// filterArgs converts ListOptions into engine filter arguments.
func filterArgs(opts ListOptions) filters.Args {
	f := filters.NewArgs()
	for _, l := range opts.Labels {
		f.Add("label", l)
	}
	for k, v := range opts.Filters {
		f.Add(k, v)
	}
	return f
}

// ContainerLogs returns logs from a container.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	}
	if !opts.Since.IsZero() {
		logOpts.Since = opts.Since.Format(time.RFC3339)
	}
	if !opts.Until.IsZero() {
		logOpts.Until = opts.Until.Format(time.RFC3339)
	}

	reader, err := d.cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		return nil, wrapEngineError("ContainerLogs", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return reader, nil
}

// ContainerTop lists the processes running in a container.
func (d *DockerClient) ContainerTop(ctx context.Context, containerID string) (*ProcessList, error) {
	resp, err := d.cli.ContainerTop(ctx, containerID, nil)
	if err != nil {
		return nil, wrapEngineError("ContainerTop", "container", containerID, err, ErrContainerNotFound, nil)
	}
	return &ProcessList{Titles: resp.Titles, Processes: resp.Processes}, nil
}

// WaitContainer blocks until the container stops and returns its exit code.
func (d *DockerClient) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case resp := <-statusCh:
		if resp.Error != nil {
			return resp.StatusCode, NewDockerError("WaitContainer", "container", containerID, resp.Error.Message, nil)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		return -1, wrapEngineError("WaitContainer", "container", containerID, err, ErrContainerNotFound, nil)
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ExecContainer runs a command in a running container. In the foreground it
// streams the command's output and returns its exit code; detached it
// returns 0 once the command has started.
func (d *DockerClient) ExecContainer(ctx context.Context, containerID string, cfg ExecConfig) (int, error) {
	attach := !cfg.Detach
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		User:         cfg.User,
		Privileged:   cfg.Privileged,
		Tty:          cfg.Tty,
		AttachStdin:  attach && cfg.Stdin != nil,
		AttachStdout: attach,
		AttachStderr: attach,
		Env:          cfg.Env,
		WorkingDir:   cfg.WorkingDir,
		Cmd:          cfg.Command,
	})
	if err != nil {
		return -1, wrapEngineError("ExecContainer", "container", containerID, err, ErrContainerNotFound, ErrServiceNotRunning)
	}

	if cfg.Detach {
		if err := d.cli.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true, Tty: cfg.Tty}); err != nil {
			return -1, NewDockerError("ExecContainer", "container", containerID, err.Error(), err)
		}
		return 0, nil
	}

	resp, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: cfg.Tty})
	if err != nil {
		return -1, NewDockerError("ExecContainer", "container", containerID, err.Error(), err)
	}
	defer resp.Close()

	if cfg.Stdin != nil {
		go func() {
			_, _ = io.Copy(resp.Conn, cfg.Stdin)
			_ = resp.CloseWrite()
		}()
	}

	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = stdout
	}
	if cfg.Tty {
		_, err = io.Copy(stdout, resp.Reader)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, resp.Reader)
	}
	if err != nil && ctx.Err() == nil {
		return -1, NewDockerError("ExecContainer", "container", containerID, fmt.Sprintf("failed to stream output: %v", err), err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, NewDockerError("ExecContainer", "container", containerID, err.Error(), err)
	}
	return inspect.ExitCode, nil
}

// =============================================================================
// Filesystem Operations
// =============================================================================

// StatContainerPath describes a path inside a container.
func (d *DockerClient) StatContainerPath(ctx context.Context, containerID, path string) (*PathInfo, error) {
	stat, err := d.cli.ContainerStatPath(ctx, containerID, path)
	if err != nil {
		return nil, wrapEngineError("StatContainerPath", "container", containerID, err, ErrPathNotFound, nil)
	}
	return &PathInfo{Name: stat.Name, Size: stat.Size, IsDir: stat.Mode.IsDir()}, nil
}

// CopyToContainer extracts a tar archive into dstDir inside a container.
func (d *DockerClient) CopyToContainer(ctx context.Context, containerID, dstDir string, content io.Reader, copyOwnership bool) error {
	err := d.cli.CopyToContainer(ctx, containerID, dstDir, content, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: false,
		CopyUIDGID:                copyOwnership,
	})
	if err != nil {
		return wrapEngineError("CopyToContainer", "container", containerID, err, ErrPathNotFound, nil)
	}
	return nil
}

// CopyFromContainer returns a tar archive of srcPath inside a container.
// The archive's top-level entry is named after the last element of srcPath.
func (d *DockerClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, wrapEngineError("CopyFromContainer", "container", containerID, err, ErrPathNotFound, nil)
	}
	return rc, nil
}

// =============================================================================
// Network Operations
// =============================================================================

// CreateNetwork creates a new Docker network.
func (d *DockerClient) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}

	resp, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:     driver,
		Internal:   spec.Internal,
		Attachable: spec.Attachable,
		Labels:     spec.Labels,
	})
	if err != nil {
		return "", wrapEngineError("CreateNetwork", "network", spec.Name, err, nil, nil)
	}
	return resp.ID, nil
}

// RemoveNetwork removes a Docker network.
func (d *DockerClient) RemoveNetwork(ctx context.Context, networkID string) error {
	if err := d.cli.NetworkRemove(ctx, networkID); err != nil {
		if strings.Contains(err.Error(), "active endpoints") {
			return NewDockerError("RemoveNetwork", "network", networkID, "network has active endpoints", ErrNetworkInUse)
		}
		return wrapEngineError("RemoveNetwork", "network", networkID, err, ErrNetworkNotFound, ErrNetworkInUse)
	}
	return nil
}

// InspectNetwork looks a network up by name or ID.
func (d *DockerClient) InspectNetwork(ctx context.Context, name string) (*NetworkInfo, error) {
	resp, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		return nil, wrapEngineError("InspectNetwork", "network", name, err, ErrNetworkNotFound, nil)
	}
	return &NetworkInfo{ID: resp.ID, Name: resp.Name, Driver: resp.Driver, Labels: resp.Labels}, nil
}

// ListNetworks returns networks matching the given options.
func (d *DockerClient) ListNetworks(ctx context.Context, opts ListOptions) ([]NetworkInfo, error) {
	networks, err := d.cli.NetworkList(ctx, network.ListOptions{Filters: filterArgs(opts)})
	if err != nil {
		return nil, NewDockerError("ListNetworks", "network", "", err.Error(), err)
	}
	result := make([]NetworkInfo, 0, len(networks))
	for _, n := range networks {
		result = append(result, NetworkInfo{ID: n.ID, Name: n.Name, Driver: n.Driver, Labels: n.Labels})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a new Docker volume.
func (d *DockerClient) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}

	resp, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		return "", wrapEngineError("CreateVolume", "volume", spec.Name, err, nil, nil)
	}
	return resp.Name, nil
}

// RemoveVolume removes a Docker volume.
func (d *DockerClient) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	if err := d.cli.VolumeRemove(ctx, volumeName, force); err != nil {
		return wrapEngineError("RemoveVolume", "volume", volumeName, err, ErrVolumeNotFound, ErrVolumeInUse)
	}
	return nil
}

// InspectVolume looks a volume up by name.
func (d *DockerClient) InspectVolume(ctx context.Context, name string) (*VolumeInfo, error) {
	resp, err := d.cli.VolumeInspect(ctx, name)
	if err != nil {
		return nil, wrapEngineError("InspectVolume", "volume", name, err, ErrVolumeNotFound, nil)
	}
	return &VolumeInfo{Name: resp.Name, Driver: resp.Driver, Labels: resp.Labels}, nil
}

// ListVolumes returns volumes matching the given options.
func (d *DockerClient) ListVolumes(ctx context.Context, opts ListOptions) ([]VolumeInfo, error) {
	resp, err := d.cli.VolumeList(ctx, volume.ListOptions{Filters: filterArgs(opts)})
	if err != nil {
		return nil, NewDockerError("ListVolumes", "volume", "", err.Error(), err)
	}
	result := make([]VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		result = append(result, VolumeInfo{Name: v.Name, Driver: v.Driver, Labels: v.Labels})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry.
func (d *DockerClient) PullImage(ctx context.Context, imageName string, opts PullOptions) error {
	reader, err := d.cli.ImagePull(ctx, imageName, image.PullOptions{Platform: opts.Platform})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewDockerError("PullImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewDockerError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	if _, err := d.InspectImage(ctx, imageName); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InspectImage returns metadata for a local image.
func (d *DockerClient) InspectImage(ctx context.Context, imageName string) (*ImageInfo, error) {
	resp, err := d.cli.ImageInspect(ctx, imageName)
	if err != nil {
		return nil, wrapEngineError("InspectImage", "image", imageName, err, ErrImageNotFound, nil)
	}
	created, _ := time.Parse(time.RFC3339Nano, resp.Created)
	return &ImageInfo{ID: resp.ID, Tags: resp.RepoTags, Size: resp.Size, Created: created}, nil
}

// RemoveImage deletes a local image.
func (d *DockerClient) RemoveImage(ctx context.Context, imageName string, force bool) error {
	_, err := d.cli.ImageRemove(ctx, imageName, image.RemoveOptions{Force: force, PruneChildren: true})
	if err != nil {
		return wrapEngineError("RemoveImage", "image", imageName, err, ErrImageNotFound, ErrImageInUse)
	}
	return nil
}

// =============================================================================
// Events
// =============================================================================

// Events streams engine events until ctx is done.
func (d *DockerClient) Events(ctx context.Context, opts ListOptions) (<-chan EngineEvent, <-chan error) {
	out := make(chan EngineEvent)
	errs := make(chan error, 1)

	msgs, engineErrs := d.cli.Events(ctx, events.ListOptions{Filters: filterArgs(opts)})

	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev := EngineEvent{
					Time:       time.Unix(0, msg.TimeNano),
					Type:       string(msg.Type),
					Action:     string(msg.Action),
					ID:         msg.Actor.ID,
					Attributes: msg.Actor.Attributes,
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case err, ok := <-engineErrs:
				if ok && err != nil && ctx.Err() == nil {
					errs <- NewDockerError("Events", "", "", err.Error(), err)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}
