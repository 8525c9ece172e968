// Package shell runs command lines through an in-process POSIX shell so the
// same command strings work on every host without /bin/sh.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const redacted = "*****"

// Result is the outcome of one command line. Command and output are redacted.
type Result struct {
	Command  string
	ExitCode int
	Stdout   []string
	Stderr   []string
	Took     time.Duration
}

// ExitError is returned when a command exits with a non-zero status.
type ExitError struct {
	Result Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Result.Command, e.Result.ExitCode)
}

// Runner executes command lines sequentially in a working directory.
type Runner struct {
	lg      zerolog.Logger
	env     []string
	secrets []string
}

type Option func(*Runner)

// WithSecrets registers values that must never appear in logs or results.
func WithSecrets(secrets ...string) Option {
	return func(r *Runner) {
		for _, s := range secrets {
			if strings.TrimSpace(s) != "" {
				r.secrets = append(r.secrets, s)
			}
		}
	}
}

// WithEnv replaces the inherited process environment.
func WithEnv(env []string) Option {
	return func(r *Runner) { r.env = env }
}

func New(lg zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		lg:  lg.With().Str("adapter", "shell").Logger(),
		env: os.Environ(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes cmds one after another in dir and stops at the first command
// that fails. The results of every command that ran are returned, also on error.
func (r *Runner) Run(ctx context.Context, dir string, cmds ...string) ([]Result, error) {
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := r.run(ctx, dir, cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, dir, cmd string) (Result, error) {
	res := Result{Command: r.Redact(cmd)}
	start := time.Now()

	prog, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("parse %q: %w", res.Command, err)
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(r.env...)),
		interp.StdIO(nil, &stdout, &stderr),
	)
	if err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("create interpreter: %w", err)
	}

	r.lg.Debug().Str("dir", dir).Str("cmd", res.Command).Msg("running command")
	runErr := runner.Run(ctx, prog)

	res.Took = time.Since(start)
	res.Stdout = r.lines(stdout.String())
	res.Stderr = r.lines(stderr.String())

	if runErr != nil {
		var status interp.ExitStatus
		if !errors.As(runErr, &status) {
			res.ExitCode = -1
			return res, fmt.Errorf("run %q: %w", res.Command, runErr)
		}
		res.ExitCode = int(status)
	}

	ev := r.lg.Info()
	if res.ExitCode != 0 {
		ev = r.lg.Warn().Strs("stderr", tail(res.Stderr, 20))
	}
	ev.Str("cmd", res.Command).Int("exit_code", res.ExitCode).Dur("took", res.Took).Msg("command finished")

	if res.ExitCode != 0 {
		return res, &ExitError{Result: res}
	}
	return res, nil
}

// Redact masks every registered secret in s.
func (r *Runner) Redact(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

func (r *Runner) lines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = r.Redact(strings.TrimRight(l, "\r"))
	}
	return lines
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
