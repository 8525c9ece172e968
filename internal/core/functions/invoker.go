package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Journal persists one record per invocation.
type Journal interface {
	Begin(ctx context.Context, rec *InvocationRecord) error
	Finish(ctx context.Context, rec *InvocationRecord) error
	List(ctx context.Context, limit int) ([]InvocationRecord, error)
}

// ExecutorFactory builds the executor for a target. ctx belongs to the
// invocation that first needs the target. Once a build succeeds the factory
// is not called again for that target; a failed build is retried by the next
// invocation.
type ExecutorFactory func(ctx context.Context, t Target) (Executor, error)

// executorSlot is one target's executor, ready once ready is closed.
type executorSlot struct {
	ready chan struct{}
	exec  Executor
	err   error
}

// Invoker is the dispatch layer: it parses the request, picks the executor
// and normalises the result.
type Invoker struct {
	factory       ExecutorFactory
	journal       Journal
	defaultTarget Target
	lg            zerolog.Logger

	mu        sync.Mutex
	executors map[Target]*executorSlot
}

func NewInvoker(factory ExecutorFactory, journal Journal, defaultTarget Target, lg zerolog.Logger) *Invoker {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Invoker{
		factory:       factory,
		journal:       journal,
		defaultTarget: defaultTarget,
		lg:            lg.With().Str("component", "invoker").Logger(),
		executors:     make(map[Target]*executorSlot),
	}
}

// Invoke runs request with inputs. Malformed requests, missing artifacts and
// unsupported providers are returned as errors; any other pipeline failure
// yields an error-shaped Result with Outcome.Err set.
func (i *Invoker) Invoke(ctx context.Context, request string, inputs map[string]any) (Outcome, error) {
	start := time.Now()

	req, err := ParseRequest(request, i.defaultTarget)
	if err != nil {
		i.lg.Error().Err(err).Str("request", request).Msg("rejecting invocation")
		return Outcome{}, err
	}

	exec, err := i.executor(ctx, req.Target)
	if err != nil {
		return Outcome{}, err
	}

	lg := i.lg.With().Str("function", req.FunctionName).Str("target", string(req.Target)).Logger()
	lg.Info().Str("kind", req.Kind.String()).Msg("invocation started")

	inv := &Invocation{
		ID:         uuid.NewString(),
		Request:    req,
		Definition: NewDefinition(req.FunctionName, inputs, req.RuntimeVersion),
		Ledger:     NewLedger(lg),
	}
	rec := &InvocationRecord{
		ID:           inv.ID,
		Request:      request,
		Target:       req.Target,
		FunctionName: req.FunctionName,
		Status:       StatusRunning,
		CreatedAt:    start.UTC(),
	}
	if err := i.journal.Begin(ctx, rec); err != nil {
		lg.Warn().Err(err).Msg("journal begin")
	}

	out := Outcome{InvocationID: inv.ID}
	execution, err := exec.Execute(ctx, inv)
	if err == nil {
		err = inv.Definition.SetOutputs(execution.Output)
	}
	if err != nil {
		i.finish(ctx, rec, inv, nil, 0, err)
		lg.Error().Err(err).Dur("took", time.Since(start)).Msg("invocation failed")
		if IsFatal(err) {
			return out, err
		}
		out.Result = errorResult(err)
		out.Err = err
		return out, nil
	}

	out.Result, _ = inv.Definition.Outputs()
	out.ElapsedMillis = execution.Elapsed.Milliseconds()
	i.finish(ctx, rec, inv, out.Result, out.ElapsedMillis, nil)

	lg.Info().
		Int64("execution_ms", out.ElapsedMillis).
		Dur("took", time.Since(start)).
		Msg("invocation finished")
	return out, nil
}

// Invocations lists the most recent journal records.
func (i *Invoker) Invocations(ctx context.Context, limit int) ([]InvocationRecord, error) {
	return i.journal.List(ctx, limit)
}

// executor returns the executor for t, building it on first use. The build
// runs outside the lock so a slow target never holds up the others; callers
// needing the same target wait for the one build in flight.
func (i *Invoker) executor(ctx context.Context, t Target) (Executor, error) {
	i.mu.Lock()
	slot, ok := i.executors[t]
	if !ok {
		slot = &executorSlot{ready: make(chan struct{})}
		i.executors[t] = slot
	}
	i.mu.Unlock()

	if ok {
		select {
		case <-slot.ready:
			return slot.exec, slot.err
		case <-ctx.Done():
			return nil, fmt.Errorf("create %s executor: %w", t, ctx.Err())
		}
	}

	exec, err := i.factory(ctx, t)
	if err != nil {
		slot.err = fmt.Errorf("create %s executor: %w", t, err)
		i.mu.Lock()
		delete(i.executors, t)
		i.mu.Unlock()
	} else {
		slot.exec = exec
	}
	close(slot.ready)
	return slot.exec, slot.err
}

func (i *Invoker) finish(ctx context.Context, rec *InvocationRecord, inv *Invocation, result json.RawMessage, elapsed int64, err error) {
	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.ElapsedMillis = elapsed
	rec.Status = StatusSucceeded
	rec.Result = string(result)
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}
	if b, mErr := json.Marshal(inv.Ledger.Handles()); mErr == nil {
		rec.Handles = string(b)
	}
	if jErr := i.journal.Finish(context.WithoutCancel(ctx), rec); jErr != nil {
		i.lg.Warn().Err(jErr).Str("invocation_id", rec.ID).Msg("journal finish")
	}
}

func errorResult(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}

// NopJournal discards records; used when no database is configured.
type NopJournal struct{}

func (NopJournal) Begin(context.Context, *InvocationRecord) error  { return nil }
func (NopJournal) Finish(context.Context, *InvocationRecord) error { return nil }
func (NopJournal) List(context.Context, int) ([]InvocationRecord, error) {
	return nil, nil
}
