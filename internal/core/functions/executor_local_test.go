package functions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func newInvocation(t *testing.T, raw string, def Target) *Invocation {
	t.Helper()
	req, err := ParseRequest(raw, def)
	if err != nil {
		t.Fatalf("ParseRequest(%q) error = %v", raw, err)
	}
	return &Invocation{
		ID:         "inv-1",
		Request:    req,
		Definition: NewDefinition(req.FunctionName, map[string]any{"n": 10}, req.RuntimeVersion),
		Ledger:     NewLedger(zerolog.Nop()),
	}
}

func newLocal(rec *recorder, runner *fakeRunner) (*LocalExecutor, *fakeBuilder) {
	b := newFakeBuilder(rec)
	return NewLocalExecutor(b, runner, Naming{LocalUser: "tester"}, zerolog.Nop()), b
}

func TestLocalExecutorArchive(t *testing.T) {
	rec := &recorder{}
	runner := &fakeRunner{rec: rec, output: `{"result": 55}`, elapsed: 1200 * time.Millisecond}
	e, b := newLocal(rec, runner)
	inv := newInvocation(t, "fib:11", TargetLocal)

	got, err := e.Execute(context.Background(), inv)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(got.Output) != `{"result":55}` {
		t.Errorf("Output = %s, want {\"result\":55}", got.Output)
	}
	if got.Elapsed != 1200*time.Millisecond {
		t.Errorf("Elapsed = %s", got.Elapsed)
	}

	want := []string{
		"build fib 11",
		"run local-function_fib local-function:fib",
		"read local-function_fib",
		"remove-container local-function_fib",
		"remove-image local-function:fib",
	}
	if diff := cmp.Diff(want, rec.list()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if len(b.images) != 0 {
		t.Errorf("images left behind: %v", b.images)
	}
}

func TestLocalExecutorRegistryImage(t *testing.T) {
	rec := &recorder{}
	runner := &fakeRunner{rec: rec, output: `{"result":55}`}
	e, _ := newLocal(rec, runner)
	inv := newInvocation(t, "myuser/myrepo:fib", TargetLocal)

	if _, err := e.Execute(context.Background(), inv); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []string{
		"pull myuser/myrepo:fib fib",
		"run local-function_fib myuser/myrepo:fib",
		"read local-function_fib",
		"remove-container local-function_fib",
	}
	if diff := cmp.Diff(want, rec.list()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalExecutorTearsDownOnFailure(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		runner fakeRunner
	}{
		{name: "run fails", runner: fakeRunner{runErr: boom}},
		{name: "output never arrives", runner: fakeRunner{readErr: boom}},
		{name: "output is not json", runner: fakeRunner{output: "Exception in thread main"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			runner := tt.runner
			runner.rec = rec
			e, _ := newLocal(rec, &runner)
			inv := newInvocation(t, "fib:11", TargetLocal)

			if _, err := e.Execute(context.Background(), inv); err == nil {
				t.Fatal("Execute() error = nil, want failure")
			}
			if rec.count("remove-container local-function_fib") != 1 {
				t.Errorf("container not removed exactly once: %v", rec.list())
			}
			if rec.count("remove-image local-function:fib") != 1 {
				t.Errorf("image not removed exactly once: %v", rec.list())
			}
		})
	}
}

func TestLocalExecutorBuildFailureLeavesNothingToRelease(t *testing.T) {
	rec := &recorder{}
	e, b := newLocal(rec, &fakeRunner{rec: rec})
	b.buildErr = &ArtifactNotFoundError{Name: "fib.jar", Searched: []string{"/artifacts"}}
	inv := newInvocation(t, "fib", TargetLocal)

	_, err := e.Execute(context.Background(), inv)
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("Execute() error = %v, want ErrArtifactNotFound", err)
	}
	if diff := cmp.Diff([]string{"build fib 8"}, rec.list()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if n := len(inv.Ledger.Handles()); n != 0 {
		t.Errorf("ledger holds %d handles, want 0", n)
	}
}

func TestLocalExecutorUnverifiedPull(t *testing.T) {
	rec := &recorder{}
	e, b := newLocal(rec, &fakeRunner{rec: rec})
	b.pulled = false
	inv := newInvocation(t, "myuser/myrepo:fib", TargetLocal)

	if _, err := e.Execute(context.Background(), inv); err == nil {
		t.Fatal("Execute() error = nil, want pull verification failure")
	}
	if rec.count("run local-function_fib myuser/myrepo:fib") != 0 {
		t.Error("container started although the pull was not verified")
	}
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "whole output", raw: "{\n  \"result\": 55\n}\n", want: `{"result":55}`},
		{name: "last json line wins", raw: "warming up\n{\"result\":1}\n{\"result\":2}\n", want: `{"result":2}`},
		{name: "scalar", raw: "55", want: "55"},
		{name: "no json", raw: "Exception in thread \"main\"", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeResult(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, errInvalidResult) {
					t.Fatalf("decodeResult() error = %v, want errInvalidResult", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeResult() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("decodeResult() = %s, want %s", got, tt.want)
			}
		})
	}
}
