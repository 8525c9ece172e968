package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// LocalExecutor runs invocations on the local container engine.
type LocalExecutor struct {
	builder ImageBuilder
	runner  LocalRunner
	naming  Naming
	lg      zerolog.Logger
}

func NewLocalExecutor(builder ImageBuilder, runner LocalRunner, naming Naming, lg zerolog.Logger) *LocalExecutor {
	return &LocalExecutor{
		builder: builder,
		runner:  runner,
		naming:  naming,
		lg:      lg.With().Str("executor", string(TargetLocal)).Logger(),
	}
}

func (e *LocalExecutor) Target() Target { return TargetLocal }

// Execute builds or pulls the image, runs it, reads the container output and
// removes what it created.
func (e *LocalExecutor) Execute(ctx context.Context, inv *Invocation) (Execution, error) {
	defer teardown(ctx, inv.Ledger)
	def := inv.Definition

	var image string
	switch inv.Request.Kind {
	case KindArchive:
		img, err := e.builder.Build(ctx, def, TargetLocal)
		if err != nil {
			return Execution{}, fmt.Errorf("build image: %w", err)
		}
		image = img
		inv.Ledger.Track(HandleImage, image, func(ctx context.Context) error {
			return e.builder.Remove(ctx, image)
		})
	default:
		image = inv.Request.Image
		ok, err := e.builder.Pull(ctx, image, def.Name)
		if err != nil {
			return Execution{}, fmt.Errorf("pull image: %w", err)
		}
		if !ok {
			return Execution{}, fmt.Errorf("pull image %s: not listed after pull, check the image link", image)
		}
	}

	name := e.naming.LocalContainer(def.Name)
	inv.Ledger.Track(HandleContainer, name, func(ctx context.Context) error {
		_, err := e.runner.RemoveAll(ctx, name, "")
		return err
	})
	if err := e.runner.Run(ctx, name, image); err != nil {
		return Execution{}, fmt.Errorf("run container: %w", err)
	}

	raw, err := e.runner.ReadOutput(ctx, name)
	if err != nil {
		return Execution{}, fmt.Errorf("read container output: %w", err)
	}
	out, err := decodeResult(raw)
	if err != nil {
		return Execution{}, err
	}

	elapsed, err := e.runner.ExecutionTime(ctx, name)
	if err != nil {
		e.lg.Warn().Err(err).Str("container", name).Msg("execution time unavailable")
	}
	e.lg.Info().Str("function", def.Name).Dur("execution", elapsed).Msg("local execution finished")

	return Execution{Output: out, Elapsed: elapsed}, nil
}

var errInvalidResult = errors.New("function output is not valid JSON")

// decodeResult accepts the whole output when it is JSON, else the last line
// that is.
func decodeResult(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if json.Valid([]byte(raw)) {
		return compact(raw), nil
	}
	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && json.Valid([]byte(line)) {
			return compact(line), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errInvalidResult, truncate(raw, 200))
}

func compact(s string) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return json.RawMessage(s)
	}
	return buf.Bytes()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
