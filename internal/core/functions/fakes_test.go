package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// recorder collects calls across fakes in the order they happened.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeBuilder struct {
	rec      *recorder
	naming   Naming
	buildErr error
	pushErr  error
	pulled   bool

	mu     sync.Mutex
	images map[string]int
}

func newFakeBuilder(rec *recorder) *fakeBuilder {
	return &fakeBuilder{rec: rec, pulled: true, images: map[string]int{}, naming: Naming{RegistryRepo: "myuser/myrepo"}}
}

func (b *fakeBuilder) Build(_ context.Context, def *Definition, target Target) (string, error) {
	b.rec.add("build %s %s", def.Name, def.RuntimeVersion)
	if b.buildErr != nil {
		return "", b.buildErr
	}
	img := b.naming.LocalImage(def.Name)
	if target == TargetECS {
		img = b.naming.RegistryImage(def.Name)
	}
	b.mu.Lock()
	b.images[img] = 1
	b.mu.Unlock()
	return img, nil
}

func (b *fakeBuilder) Push(_ context.Context, image string) error {
	b.rec.add("push %s", image)
	return b.pushErr
}

func (b *fakeBuilder) Pull(_ context.Context, image, fn string) (bool, error) {
	b.rec.add("pull %s %s", image, fn)
	return b.pulled, nil
}

func (b *fakeBuilder) Remove(_ context.Context, image string) error {
	b.rec.add("remove-image %s", image)
	b.mu.Lock()
	delete(b.images, image)
	b.mu.Unlock()
	return nil
}

type fakeRunner struct {
	rec     *recorder
	output  string
	readErr error
	runErr  error
	elapsed time.Duration
}

func (r *fakeRunner) Run(_ context.Context, name, image string) error {
	r.rec.add("run %s %s", name, image)
	return r.runErr
}

func (r *fakeRunner) Stop(_ context.Context, name string) error {
	r.rec.add("stop %s", name)
	return nil
}

func (r *fakeRunner) ReadOutput(_ context.Context, name string) (string, error) {
	r.rec.add("read %s", name)
	return r.output, r.readErr
}

func (r *fakeRunner) ExecutionTime(context.Context, string) (time.Duration, error) {
	return r.elapsed, nil
}

func (r *fakeRunner) RemoveAll(_ context.Context, name, image string) (Removal, error) {
	r.rec.add("remove-container %s", name)
	return Removal{ContainerRemoved: true, ImageRemoved: image != ""}, nil
}

type fakeProvisioner struct {
	rec          *recorder
	bootstrapErr error
	applyErr     error
}

func (p *fakeProvisioner) Stack(def *Definition, image string) Stack {
	p.rec.add("stack %s %s", def.Name, image)
	return &fakeStack{p: p, name: "stack_" + def.Name, tool: "local-terraform_" + def.Name}
}

type fakeStack struct {
	p          *fakeProvisioner
	name, tool string
}

func (s *fakeStack) Name() string     { return s.name }
func (s *fakeStack) ToolName() string { return s.tool }

func (s *fakeStack) Bootstrap(context.Context) error {
	s.p.rec.add("bootstrap %s", s.name)
	return s.p.bootstrapErr
}

func (s *fakeStack) Apply(context.Context) error {
	s.p.rec.add("apply %s", s.name)
	return s.p.applyErr
}

func (s *fakeStack) Destroy(context.Context) error {
	s.p.rec.add("destroy %s", s.name)
	return nil
}

func (s *fakeStack) Outputs(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"log_group":{"value":"arn"}}`), nil
}

func (s *fakeStack) RemoveTool(context.Context) error {
	s.p.rec.add("remove-tool %s", s.tool)
	return nil
}

type fakeRetriever struct {
	rec    *recorder
	result LogResult
	err    error
}

func (r *fakeRetriever) FetchResult(_ context.Context, def *Definition) (LogResult, error) {
	r.rec.add("fetch %s", def.Name)
	return r.result, r.err
}

type memJournal struct {
	mu   sync.Mutex
	recs map[string]InvocationRecord
}

func (j *memJournal) Begin(_ context.Context, rec *InvocationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.recs == nil {
		j.recs = map[string]InvocationRecord{}
	}
	j.recs[rec.ID] = *rec
	return nil
}

func (j *memJournal) Finish(ctx context.Context, rec *InvocationRecord) error {
	return j.Begin(ctx, rec)
}

func (j *memJournal) List(context.Context, int) ([]InvocationRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]InvocationRecord, 0, len(j.recs))
	for _, r := range j.recs {
		out = append(out, r)
	}
	return out, nil
}
