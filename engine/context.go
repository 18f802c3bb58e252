package engine

import (
	"time"

	"github.com/albertlabs/composer/types"
)

// ExecutionStatus is the terminal state of one engine invocation. The
// taxonomy is deliberately binary: timeouts and cancellations surface as
// failures, with the cause preserved in the error code.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// StepTrace records what happened to one step during an execution.
type StepTrace struct {
	StepID     string          `json:"step_id"`
	Tool       types.ToolRef   `json:"tool"`
	Status     ExecutionStatus `json:"status"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
	Skipped    bool            `json:"skipped,omitempty"`
	Retried    bool            `json:"retried,omitempty"`
	// Iterations is the fan-out width for iterating steps, zero otherwise.
	Iterations int `json:"iterations,omitempty"`
}

// Result is the outcome of one engine invocation. The trace is populated even
// when the execution fails, so monitoring always has the full picture.
type Result struct {
	ExecutionID   string          `json:"execution_id"`
	CompositionID string          `json:"composition_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Output        map[string]any  `json:"output,omitempty"`
	Steps         []StepTrace     `json:"steps"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Duration is the wall-clock time of the whole invocation.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// executionContext is the per-invocation state. A fresh one is created for
// every invocation so runs never share data.
type executionContext struct {
	id        string
	namespace map[string]any
}

func newExecutionContext(id string, params map[string]any) *executionContext {
	ns := make(map[string]any, len(params)+4)
	for k, v := range params {
		ns[k] = v
	}
	return &executionContext{id: id, namespace: ns}
}

// branch returns an independent namespace copy with the loop variable bound,
// so iteration branches cannot observe each other's writes.
func (ec *executionContext) branch(loopVar string, element any) map[string]any {
	ns := make(map[string]any, len(ec.namespace)+1)
	for k, v := range ec.namespace {
		ns[k] = v
	}
	ns[loopVar] = element
	return ns
}

// publish commits a step's outputs. Called only after the step fully
// succeeded, so failed or cancelled steps leave no partial writes.
func (ec *executionContext) publish(outputs map[string]any) {
	for k, v := range outputs {
		ec.namespace[k] = v
	}
}
