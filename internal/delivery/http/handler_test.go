package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"container-invoker/internal/core/functions"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type fakeInvoker struct {
	request string
	inputs  map[string]any
	limit   int
	out     functions.Outcome
	err     error
	records []functions.InvocationRecord
}

func (f *fakeInvoker) Invoke(_ context.Context, request string, inputs map[string]any) (functions.Outcome, error) {
	f.request, f.inputs = request, inputs
	return f.out, f.err
}

func (f *fakeInvoker) Invocations(_ context.Context, limit int) ([]functions.InvocationRecord, error) {
	f.limit = limit
	return f.records, f.err
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInvoke(t *testing.T) {
	inv := &fakeInvoker{out: functions.Outcome{InvocationID: "id-1", Result: json.RawMessage(`{"result":55}`), ElapsedMillis: 812}}
	h := NewHandler(inv, zerolog.Nop())

	rec := do(t, h, http.MethodPost, "/invocations", `{"function":"fib:11","inputs":{"n":10}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if inv.request != "fib:11" {
		t.Errorf("request = %q", inv.request)
	}
	if diff := cmp.Diff(map[string]any{"n": float64(10)}, inv.inputs); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"invocation_id": "id-1", "result": map[string]any{"result": float64(55)}, "elapsed_ms": float64(812)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "missing function", body: `{"inputs":{}}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"function":"??"}`, err: &functions.MalformedRequestError{Request: "??"}, want: http.StatusBadRequest},
		{name: "artifact", body: `{"function":"fib"}`, err: &functions.ArtifactNotFoundError{Name: "fib.jar"}, want: http.StatusNotFound},
		{name: "unsupported", body: `{"function":"gke_fib"}`, err: &functions.UnsupportedProviderError{Target: functions.TargetGKE}, want: http.StatusNotImplemented},
		{name: "configuration", body: `{"function":"ecs_fib"}`, err: errors.New("create ecs executor: key \"aws_subnet\" is not set"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeInvoker{err: tt.err}, zerolog.Nop())
			rec := do(t, h, http.MethodPost, "/invocations", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Errorf("error body = %s", rec.Body)
			}
		})
	}
}

func TestListInvocations(t *testing.T) {
	inv := &fakeInvoker{records: []functions.InvocationRecord{{ID: "a", Status: functions.StatusSucceeded}}}
	h := NewHandler(inv, zerolog.Nop())

	rec := do(t, h, http.MethodGet, "/invocations?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if inv.limit != 5 {
		t.Errorf("limit = %d, want 5", inv.limit)
	}
	var got []functions.InvocationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := do(t, h, http.MethodGet, "/invocations?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestListInvocationsEmpty(t *testing.T) {
	h := NewHandler(&fakeInvoker{}, zerolog.Nop())
	rec := do(t, h, http.MethodGet, "/invocations", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", rec.Body)
	}
}
