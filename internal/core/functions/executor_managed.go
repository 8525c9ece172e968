package functions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ManagedExecutor runs invocations on the managed container service through
// provisioned infrastructure and reads results from the remote log store.
type ManagedExecutor struct {
	builder     ImageBuilder
	provisioner Provisioner
	retriever   ResultRetriever
	lg          zerolog.Logger
}

func NewManagedExecutor(builder ImageBuilder, prov Provisioner, retriever ResultRetriever, lg zerolog.Logger) *ManagedExecutor {
	return &ManagedExecutor{
		builder:     builder,
		provisioner: prov,
		retriever:   retriever,
		lg:          lg.With().Str("executor", string(TargetECS)).Logger(),
	}
}

func (e *ManagedExecutor) Target() Target { return TargetECS }

func (e *ManagedExecutor) Execute(ctx context.Context, inv *Invocation) (Execution, error) {
	defer teardown(ctx, inv.Ledger)
	def := inv.Definition

	image := inv.Request.Image
	if inv.Request.Kind == KindArchive {
		img, err := e.builder.Build(ctx, def, TargetECS)
		if err != nil {
			return Execution{}, fmt.Errorf("build image: %w", err)
		}
		image = img
		inv.Ledger.Track(HandleImage, image, func(ctx context.Context) error {
			return e.builder.Remove(ctx, image)
		})
		if err := e.builder.Push(ctx, image); err != nil {
			return Execution{}, fmt.Errorf("push image: %w", err)
		}
	}

	stack := e.provisioner.Stack(def, image)
	inv.Ledger.Track(HandleToolContainer, stack.ToolName(), stack.RemoveTool)
	if err := stack.Bootstrap(ctx); err != nil {
		return Execution{}, err
	}
	inv.Ledger.Track(HandleInfrastructure, stack.Name(), stack.Destroy)
	if err := stack.Apply(ctx); err != nil {
		return Execution{}, err
	}

	if outputs, err := stack.Outputs(ctx); err != nil {
		e.lg.Warn().Err(err).Str("stack", stack.Name()).Msg("reading stack outputs")
	} else {
		e.lg.Info().Str("stack", stack.Name()).RawJSON("outputs", outputs).Msg("infrastructure applied")
	}

	res, err := e.retriever.FetchResult(ctx, def)
	if err != nil {
		return Execution{}, fmt.Errorf("retrieve result: %w", err)
	}
	e.lg.Info().Str("function", def.Name).Dur("execution", res.Elapsed).Msg("managed execution finished")

	return Execution{Output: res.Body, Elapsed: res.Elapsed}, nil
}

// UnimplementedExecutor stands in for providers that are declared but not built.
type UnimplementedExecutor struct {
	target Target
}

func NewUnimplementedExecutor(t Target) *UnimplementedExecutor {
	return &UnimplementedExecutor{target: t}
}

func (e *UnimplementedExecutor) Target() Target { return e.target }

func (e *UnimplementedExecutor) Execute(context.Context, *Invocation) (Execution, error) {
	return Execution{}, &UnsupportedProviderError{Target: e.target}
}
