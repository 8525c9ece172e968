package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeContainer struct {
	id, name, image string
	running         bool
}

// fakeAPI is an in-memory engine good enough for the adapter's call patterns.
type fakeAPI struct {
	mu sync.Mutex

	images     map[string]bool
	containers map[string]*fakeContainer
	calls      []string

	buildStreamErr string
	builtFiles     map[string][]string // tag -> files in the build context
	pullAdds       []string
	pushAuth       string

	stdout   []string // per ContainerLogs call; the last entry repeats
	stderr   string
	logCalls int
	state    container.State
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		images:     map[string]bool{},
		containers: map[string]*fakeContainer{},
		builtFiles: map[string][]string{},
		state:      container.State{Status: "running", Running: true, StartedAt: "2024-01-01T10:00:00Z"},
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("no such %s: %s: %w", kind, id, errdefs.ErrNotFound)
}

func (f *fakeAPI) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) tags() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for t := range f.images {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (f *fakeAPI) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []image.Summary
	for t := range f.images {
		out = append(out, image.Summary{ID: "sha256:" + t, RepoTags: []string{t}})
	}
	return out, nil
}

func (f *fakeAPI) ImageRemove(_ context.Context, ref string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rmi %s", ref)
	if !f.images[ref] {
		return nil, notFound("image", ref)
	}
	delete(f.images, ref)
	return []image.DeleteResponse{{Untagged: ref}}, nil
}

func (f *fakeAPI) ImageBuild(_ context.Context, buildCtx io.Reader, opts build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	var files []string
	tr := tar.NewReader(buildCtx)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return build.ImageBuildResponse{}, err
		}
		files = append(files, hdr.Name)
	}
	sort.Strings(files)

	f.mu.Lock()
	defer f.mu.Unlock()
	tag := opts.Tags[0]
	f.record("build %s", tag)
	f.builtFiles[tag] = files

	if f.buildStreamErr != "" {
		body := fmt.Sprintf(`{"errorDetail":{"message":%q},"error":%q}`+"\n", f.buildStreamErr, f.buildStreamErr)
		return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	f.images[tag] = true
	body := `{"stream":"Step 1/4 : FROM base\n"}` + "\n" + `{"aux":{"ID":"sha256:abc"}}` + "\n"
	return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeAPI) ImagePush(_ context.Context, ref string, opts image.PushOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push %s", ref)
	f.pushAuth = opts.RegistryAuth
	return io.NopCloser(strings.NewReader(`{"status":"Pushed"}` + "\n")), nil
}

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", ref)
	for _, t := range f.pullAdds {
		f.images[t] = true
	}
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}` + "\n")), nil
}

func (f *fakeAPI) ContainerList(_ context.Context, _ container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []container.Summary
	for _, c := range f.containers {
		s := container.Summary{ID: c.id, Names: []string{"/" + c.name}, Image: c.image}
		s.State = "exited"
		if c.running {
			s.State = "running"
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, hc *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string,
) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s %s %s", name, cfg.Image, strings.Join(hc.Binds, ","))
	if _, ok := f.containers[name]; ok {
		return container.CreateResponse{}, fmt.Errorf("conflict: name %s in use", name)
	}
	id := "id-" + name
	f.containers[name] = &fakeContainer{id: id, name: name, image: cfg.Image}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeAPI) lookup(idOrName string) *fakeContainer {
	for _, c := range f.containers {
		if c.id == idOrName || c.name == idOrName {
			return c
		}
	}
	return nil
}

func (f *fakeAPI) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s", id)
	c := f.lookup(id)
	if c == nil {
		return notFound("container", id)
	}
	c.running = true
	return nil
}

func (f *fakeAPI) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", id)
	c := f.lookup(id)
	if c == nil {
		return notFound("container", id)
	}
	c.running = false
	return nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rm %s", id)
	c := f.lookup(id)
	if c == nil {
		return notFound("container", id)
	}
	delete(f.containers, c.name)
	return nil
}

func (f *fakeAPI) ContainerLogs(_ context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookup(id) == nil {
		return nil, notFound("container", id)
	}
	out := ""
	if len(f.stdout) > 0 {
		i := min(f.logCalls, len(f.stdout)-1)
		out = f.stdout[i]
	}
	f.logCalls++

	var buf bytes.Buffer
	if out != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(out))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookup(id) == nil {
		return container.InspectResponse{}, notFound("container", id)
	}
	st := f.state
	return container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{State: &st}}, nil
}

func (f *fakeAPI) Close() error { return nil }
