package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeClient is an in-memory Client. Every mutating call is appended to
// calls as "verb name".
type fakeClient struct {
	mu         sync.Mutex
	containers map[string]*ContainerInfo
	networks   map[string]*NetworkInfo
	volumes    map[string]*VolumeInfo
	images     map[string]bool
	calls      []string
	nextID     int

	failOn map[string]error // "verb name" → error
	events []EngineEvent

	execExit map[string]int                 // container → exit code
	files    map[string]map[string]fakeFile // container → path → entry
}

type fakeFile struct {
	dir  bool
	data []byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: make(map[string]*ContainerInfo),
		networks:   make(map[string]*NetworkInfo),
		volumes:    make(map[string]*VolumeInfo),
		images:     make(map[string]bool),
		failOn:     make(map[string]error),
		execExit:   make(map[string]int),
		files:      make(map[string]map[string]fakeFile),
	}
}

func (f *fakeClient) record(verb, name string) error {
	call := verb + " " + name
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

// Calls returns the recorded calls that start with one of prefixes.
func (f *fakeClient) Calls(prefixes ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p+" ") {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (f *fakeClient) index(verb, name string) int {
	for i, c := range f.Calls(verb) {
		if c == verb+" "+name {
			return i
		}
	}
	return -1
}

func (f *fakeClient) container(name string) *ContainerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// addContainer seeds an existing container.
func (f *fakeClient) addContainer(name string, status ContainerStatus, labels map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.containers[name] = &ContainerInfo{
		ID:     fmt.Sprintf("%064d", f.nextID),
		Name:   name,
		Image:  "seed:latest",
		Status: status,
		Labels: labels,
	}
}

func matchLabels(have map[string]string, filters []string) bool {
	for _, flt := range filters {
		key, value, hasValue := strings.Cut(flt, "=")
		got, ok := have[key]
		if !ok || (hasValue && got != value) {
			return false
		}
	}
	return true
}

// =============================================================================
// Containers
// =============================================================================

func (f *fakeClient) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create", spec.Name); err != nil {
		return "", err
	}
	if _, ok := f.containers[spec.Name]; ok {
		return "", NewDockerError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
	}
	f.nextID++
	info := &ContainerInfo{
		ID:        fmt.Sprintf("%064d", f.nextID),
		Name:      spec.Name,
		Image:     spec.Image,
		Status:    ContainerStatusCreated,
		Labels:    spec.Labels,
		CreatedAt: time.Now(),
	}
	info.Ports = append(info.Ports, spec.Ports...)
	f.containers[spec.Name] = info
	return info.ID, nil
}

func (f *fakeClient) setStatus(verb, id string, from func(ContainerStatus) bool, to ContainerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(verb, id); err != nil {
		return err
	}
	c, ok := f.containers[id]
	if !ok {
		return NewDockerError(verb, "container", id, "container not found", ErrContainerNotFound)
	}
	if from == nil || from(c.Status) {
		c.Status = to
	}
	return nil
}

func (f *fakeClient) StartContainer(_ context.Context, id string) error {
	return f.setStatus("start", id, nil, ContainerStatusRunning)
}

func (f *fakeClient) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	return f.setStatus("stop", id, ContainerStatus.IsActive, ContainerStatusExited)
}

func (f *fakeClient) KillContainer(_ context.Context, id, _ string) error {
	return f.setStatus("kill", id, ContainerStatus.IsActive, ContainerStatusExited)
}

func (f *fakeClient) PauseContainer(_ context.Context, id string) error {
	return f.setStatus("pause", id, nil, ContainerStatusPaused)
}

func (f *fakeClient) UnpauseContainer(_ context.Context, id string) error {
	return f.setStatus("unpause", id, nil, ContainerStatusRunning)
}

func (f *fakeClient) RemoveContainer(_ context.Context, id string, opts RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove", id); err != nil {
		return err
	}
	c, ok := f.containers[id]
	if !ok {
		return NewDockerError("RemoveContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	if c.Status.IsActive() && !opts.Force {
		return NewDockerError("RemoveContainer", "container", id, "container is running", nil)
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeClient) InspectContainer(_ context.Context, id string) (*ContainerInfo, error) {
	if c := f.container(id); c != nil {
		return c, nil
	}
	return nil, NewDockerError("InspectContainer", "container", id, "container not found", ErrContainerNotFound)
}

func (f *fakeClient) ListContainers(_ context.Context, opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for _, c := range f.containers {
		if !opts.All && c.Status != ContainerStatusRunning {
			continue
		}
		if !matchLabels(c.Labels, opts.Labels) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeClient) ContainerLogs(_ context.Context, id string, _ LogOptions) (io.ReadCloser, error) {
	if f.container(id) == nil {
		return nil, NewDockerError("ContainerLogs", "container", id, "container not found", ErrContainerNotFound)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeClient) ContainerTop(_ context.Context, id string) (*ProcessList, error) {
	if f.container(id) == nil {
		return nil, NewDockerError("ContainerTop", "container", id, "container not found", ErrContainerNotFound)
	}
	return &ProcessList{Titles: []string{"PID", "CMD"}, Processes: [][]string{{"1", id}}}, nil
}

func (f *fakeClient) WaitContainer(_ context.Context, id string) (int64, error) {
	if f.container(id) == nil {
		return -1, NewDockerError("WaitContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn["wait "+id]; err != nil {
		return -1, err
	}
	return 0, nil
}

func (f *fakeClient) ExecContainer(_ context.Context, id string, cfg ExecConfig) (int, error) {
	c := f.container(id)
	if c == nil {
		return -1, NewDockerError("ExecContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	if c.Status != ContainerStatusRunning {
		return -1, NewDockerError("ExecContainer", "container", id, "container is not running", ErrServiceNotRunning)
	}

	f.mu.Lock()
	err := f.record("exec", id+" "+strings.Join(cfg.Command, " "))
	code := f.execExit[id]
	f.mu.Unlock()
	if err != nil {
		return -1, err
	}
	if cfg.Detach {
		return 0, nil
	}
	if cfg.Stdin != nil && cfg.Stdout != nil {
		if _, err := io.Copy(cfg.Stdout, cfg.Stdin); err != nil {
			return -1, err
		}
	}
	if cfg.Stdout != nil {
		fmt.Fprintf(cfg.Stdout, "%s: %s\n", id, strings.Join(cfg.Command, " "))
	}
	return code, nil
}

// =============================================================================
// Filesystem
// =============================================================================

// addFile seeds a file in a container; parent directories are implied.
func (f *fakeClient) addFile(container, p, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putFile(container, p, fakeFile{data: []byte(data)})
}

func (f *fakeClient) putFile(container, p string, file fakeFile) {
	fs := f.files[container]
	if fs == nil {
		fs = make(map[string]fakeFile)
		f.files[container] = fs
	}
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		fs[dir] = fakeFile{dir: true}
	}
	fs[p] = file
}

// file returns a seeded or copied entry.
func (f *fakeClient) file(container, p string) (fakeFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[container][path.Clean(p)]
	return file, ok
}

func (f *fakeClient) StatContainerPath(_ context.Context, id, p string) (*PathInfo, error) {
	if f.container(id) == nil {
		return nil, NewDockerError("StatContainerPath", "container", id, "container not found", ErrContainerNotFound)
	}
	file, ok := f.file(id, p)
	if !ok {
		return nil, NewDockerError("StatContainerPath", "container", id, "no such path "+p, ErrPathNotFound)
	}
	return &PathInfo{Name: path.Base(p), Size: int64(len(file.data)), IsDir: file.dir}, nil
}

func (f *fakeClient) CopyToContainer(_ context.Context, id, dstDir string, content io.Reader, _ bool) error {
	if f.container(id) == nil {
		return NewDockerError("CopyToContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	if _, ok := f.file(id, dstDir); !ok && dstDir != "/" {
		return NewDockerError("CopyToContainer", "container", id, "no such directory "+dstDir, ErrPathNotFound)
	}

	tr := tar.NewReader(content)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("copy-to", id+":"+dstDir); err != nil {
		return err
	}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := path.Join(dstDir, hdr.Name)
		if hdr.Typeflag == tar.TypeDir {
			f.putFile(id, target, fakeFile{dir: true})
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		f.putFile(id, target, fakeFile{data: data})
	}
}

func (f *fakeClient) CopyFromContainer(_ context.Context, id, src string) (io.ReadCloser, error) {
	if f.container(id) == nil {
		return nil, NewDockerError("CopyFromContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	src = path.Clean(src)
	if _, ok := f.file(id, src); !ok {
		return nil, NewDockerError("CopyFromContainer", "container", id, "no such path "+src, ErrPathNotFound)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("copy-from", id+":"+src); err != nil {
		return nil, err
	}

	var paths []string
	for p := range f.files[id] {
		if p == src || strings.HasPrefix(p, src+"/") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, p := range paths {
		file := f.files[id][p]
		name := path.Join(path.Base(src), strings.TrimPrefix(p, src))
		hdr := &tar.Header{Name: name, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(file.data))}
		if file.dir {
			hdr = &tar.Header{Name: name + "/", Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(file.data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

// =============================================================================
// Networks / Volumes / Images
// =============================================================================

func (f *fakeClient) CreateNetwork(_ context.Context, spec NetworkSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("network-create", spec.Name); err != nil {
		return "", err
	}
	f.networks[spec.Name] = &NetworkInfo{ID: "net-" + spec.Name, Name: spec.Name, Driver: spec.Driver, Labels: spec.Labels}
	return "net-" + spec.Name, nil
}

func (f *fakeClient) RemoveNetwork(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("network-remove", id); err != nil {
		return err
	}
	if _, ok := f.networks[id]; !ok {
		return NewDockerError("RemoveNetwork", "network", id, "network not found", ErrNetworkNotFound)
	}
	delete(f.networks, id)
	return nil
}

func (f *fakeClient) InspectNetwork(_ context.Context, name string) (*NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.networks[name]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, NewDockerError("InspectNetwork", "network", name, "network not found", ErrNetworkNotFound)
}

func (f *fakeClient) ListNetworks(_ context.Context, opts ListOptions) ([]NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []NetworkInfo
	for _, n := range f.networks {
		if matchLabels(n.Labels, opts.Labels) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeClient) CreateVolume(_ context.Context, spec VolumeSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("volume-create", spec.Name); err != nil {
		return "", err
	}
	f.volumes[spec.Name] = &VolumeInfo{Name: spec.Name, Driver: spec.Driver, Labels: spec.Labels}
	return spec.Name, nil
}

func (f *fakeClient) RemoveVolume(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("volume-remove", name); err != nil {
		return err
	}
	if _, ok := f.volumes[name]; !ok {
		return NewDockerError("RemoveVolume", "volume", name, "volume not found", ErrVolumeNotFound)
	}
	delete(f.volumes, name)
	return nil
}

func (f *fakeClient) InspectVolume(_ context.Context, name string) (*VolumeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.volumes[name]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, NewDockerError("InspectVolume", "volume", name, "volume not found", ErrVolumeNotFound)
}

func (f *fakeClient) ListVolumes(_ context.Context, opts ListOptions) ([]VolumeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []VolumeInfo
	for _, v := range f.volumes {
		if matchLabels(v.Labels, opts.Labels) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeClient) PullImage(_ context.Context, image string, _ PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pull", image); err != nil {
		return err
	}
	f.images[image] = true
	return nil
}

func (f *fakeClient) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

func (f *fakeClient) InspectImage(_ context.Context, image string) (*ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[image] {
		return nil, NewDockerError("InspectImage", "image", image, "image not found", ErrImageNotFound)
	}
	return &ImageInfo{ID: "sha256:0123456789abcdef0123", Tags: []string{image}, Size: 1024}, nil
}

func (f *fakeClient) RemoveImage(_ context.Context, image string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("image-remove", image); err != nil {
		return err
	}
	if !f.images[image] {
		return NewDockerError("RemoveImage", "image", image, "image not found", ErrImageNotFound)
	}
	delete(f.images, image)
	return nil
}

// =============================================================================
// Events / Health
// =============================================================================

func (f *fakeClient) Events(ctx context.Context, opts ListOptions) (<-chan EngineEvent, <-chan error) {
	out := make(chan EngineEvent)
	errs := make(chan error)
	f.mu.Lock()
	events := append([]EngineEvent(nil), f.events...)
	f.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errs)
		for _, ev := range events {
			if !matchLabels(ev.Attributes, opts.Labels) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Version(context.Context) (*VersionInfo, error) {
	return &VersionInfo{Version: "28.5.2", APIVersion: "1.51", OS: "linux", Arch: "amd64"}, nil
}

func (f *fakeClient) Close() error { return nil }

var _ Client = (*fakeClient)(nil)
