package functions

import (
	"context"
	"encoding/json"
	"time"
)

// ImageBuilder produces, publishes and removes function images.
type ImageBuilder interface {
	// Build assembles a build context for def and returns the image name.
	Build(ctx context.Context, def *Definition, target Target) (string, error)
	Push(ctx context.Context, image string) error
	// Pull fetches image and reports whether the listing confirms it.
	Pull(ctx context.Context, image, functionName string) (bool, error)
	Remove(ctx context.Context, image string) error
}

// LocalRunner runs a function image directly on the local engine.
type LocalRunner interface {
	Run(ctx context.Context, name, image string) error
	Stop(ctx context.Context, name string) error
	// ReadOutput waits, within the configured policy, for non-empty output.
	ReadOutput(ctx context.Context, name string) (string, error)
	ExecutionTime(ctx context.Context, name string) (time.Duration, error)
	// RemoveAll removes the container and, when image is not empty, the image.
	RemoveAll(ctx context.Context, name, image string) (Removal, error)
}

// Removal reports what RemoveAll actually removed.
type Removal struct {
	ContainerRemoved bool
	ImageRemoved     bool
}

// Provisioner creates infrastructure stacks for a managed container service.
type Provisioner interface {
	// Stack prepares a stack for def running image. It has no side effects.
	Stack(def *Definition, image string) Stack
}

// Stack is one function's provisioned infrastructure plus the disposable
// container hosting the provisioning tool.
type Stack interface {
	Name() string
	ToolName() string
	// Bootstrap writes the descriptor and starts the tool container.
	Bootstrap(ctx context.Context) error
	// Apply converges the infrastructure. It is not guarded against reruns.
	Apply(ctx context.Context) error
	Destroy(ctx context.Context) error
	Outputs(ctx context.Context) (json.RawMessage, error)
	// RemoveTool removes the tool container and its image.
	RemoveTool(ctx context.Context) error
}

// LogResult is the first log event of a finished execution.
type LogResult struct {
	Body    json.RawMessage
	Elapsed time.Duration
}

// ResultRetriever reads a finished execution's result from the remote log store.
type ResultRetriever interface {
	FetchResult(ctx context.Context, def *Definition) (LogResult, error)
}

// Invocation carries everything one pipeline run owns.
type Invocation struct {
	ID         string
	Request    Request
	Definition *Definition
	Ledger     *Ledger
}

// Executor runs one invocation end to end on a single target, tearing down
// everything it created before returning.
type Executor interface {
	Target() Target
	Execute(ctx context.Context, inv *Invocation) (Execution, error)
}

// teardown runs the ledger with a context that survives caller cancellation.
func teardown(ctx context.Context, l *Ledger) {
	l.Teardown(context.WithoutCancel(ctx))
}
