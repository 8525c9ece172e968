package functions

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ArchiveExtension is appended to a function name to locate its runtime artifact.
const ArchiveExtension = ".jar"

// Definition describes one function invocation. It is owned by a single
// invocation and discarded when that invocation returns.
type Definition struct {
	Name           string
	Inputs         map[string]any
	RuntimeVersion string // empty for registry-reference invocations

	mu         sync.Mutex
	outputs    json.RawMessage
	outputsSet bool
}

// NewDefinition creates a definition for the named function.
func NewDefinition(name string, inputs map[string]any, runtimeVersion string) *Definition {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Definition{Name: name, Inputs: inputs, RuntimeVersion: runtimeVersion}
}

// ArchiveFileName is the artifact file name, e.g. "fib.jar".
func (d *Definition) ArchiveFileName() string {
	return d.Name + ArchiveExtension
}

// Payload serialises the inputs as the single JSON argument handed to the function.
func (d *Definition) Payload() (string, error) {
	b, err := json.Marshal(d.Inputs)
	if err != nil {
		return "", fmt.Errorf("marshal inputs for %s: %w", d.Name, err)
	}
	return string(b), nil
}

// SetOutputs records the function result. It succeeds at most once.
func (d *Definition) SetOutputs(out json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outputsSet {
		return ErrOutputsAlreadySet
	}
	d.outputs = out
	d.outputsSet = true
	return nil
}

// Outputs returns the recorded result and whether it has been set.
func (d *Definition) Outputs() (json.RawMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs, d.outputsSet
}

// Execution is what an executor hands back to the invoker.
type Execution struct {
	Output  json.RawMessage
	Elapsed time.Duration
}

// Outcome is the uniform (result, elapsedMillis) pair returned by the invoker.
// Err is set when the pipeline failed and Result carries an error object.
type Outcome struct {
	InvocationID  string          `json:"invocation_id"`
	Result        json.RawMessage `json:"result"`
	ElapsedMillis int64           `json:"elapsed_ms"`
	Err           error           `json:"-"`
}

// Invocation status values persisted in the journal.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// InvocationRecord is the journal row for one invocation.
type InvocationRecord struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Request       string     `json:"request"`
	Target        Target     `json:"target"`
	FunctionName  string     `json:"function_name"`
	Status        string     `json:"status"`
	ElapsedMillis int64      `json:"elapsed_ms"`
	Result        string     `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	Handles       string     `json:"handles,omitempty"` // JSON list of released resource handles
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
