// Package knowledge implements the append-only knowledge base: one immutable
// record per completed invocation, a filtered query surface for the analysis
// components, and retention-based pruning. Records are the source of truth
// for the learning cycle and are never consulted on the execution hot path.
package knowledge

import (
	"time"

	"github.com/albertlabs/composer/types"
)

// ExecutionStatus is the overall outcome of an invocation. Only two terminal
// states exist; the failure cause lives in the step error codes.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// StepOutcome is the recorded result of one step invocation.
type StepOutcome struct {
	StepID     string        `json:"step_id"`
	Tool       types.ToolRef `json:"tool"`
	Status     string        `json:"status"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	// Skipped marks an optional step whose failure was swallowed.
	Skipped bool `json:"skipped,omitempty"`
	// Retried marks a step that succeeded via an alternative.
	Retried bool `json:"retried,omitempty"`
}

// Record is the immutable log of one invocation. CompositionID is empty for
// ad-hoc sequences.
type Record struct {
	ID            string          `json:"id"`
	ExecutionID   string          `json:"execution_id"`
	CompositionID string          `json:"composition_id,omitempty"`
	IntentType    string          `json:"intent_type,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Steps         []StepOutcome   `json:"steps"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Duration returns the wall-clock span of the invocation.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows a knowledge base query. Zero values mean "any". Limit caps
// the result set; the store applies its own cap when Limit is zero.
type Filter struct {
	CompositionID string
	Status        ExecutionStatus
	Since         time.Time
	Limit         int
}
