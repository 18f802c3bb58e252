// Package composition defines the composition model: a named, versioned,
// ordered sequence of tool-invocation steps with declared input/output
// schemas, usage statistics, and an optimization history.
package composition

import (
	"time"

	"github.com/albertlabs/composer/types"
)

// Status is the lifecycle state of a composition.
type Status string

const (
	// StatusLearning marks a composition still accumulating evidence.
	StatusLearning Status = "learning"
	// StatusValidated marks a composition promoted past the usage and
	// success-rate thresholds and exposed as a callable capability.
	StatusValidated Status = "validated"
	// StatusDeprecated marks a composition retired after degradation.
	StatusDeprecated Status = "deprecated"
)

// CanTransition reports whether a status change is legal. The lifecycle only
// moves forward: learning to validated, validated to deprecated. Rollback is
// handled separately because it restores a prior version rather than moving
// the lifecycle.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusLearning:
		return to == StatusValidated || to == StatusDeprecated
	case StatusValidated:
		return to == StatusDeprecated
	default:
		return false
	}
}

// Step is one tool invocation within a composition.
type Step struct {
	ID          string        `json:"id"`
	Tool        types.ToolRef `json:"tool"`
	Description string        `json:"description,omitempty"`

	// InputMapping binds tool parameters to namespace expressions.
	InputMapping map[string]string `json:"input_mapping,omitempty"`
	// OutputMapping publishes result fields into the namespace. Keys are
	// fields of the tool result, values are the published namespace keys.
	OutputMapping map[string]string `json:"output_mapping,omitempty"`

	// IterateOver names a namespace expression yielding a collection. When
	// set, the step runs once per element with the loop variable "item"
	// bound in an independent context copy.
	IterateOver string `json:"iterate_over,omitempty"`

	// Required steps abort the execution on unrecoverable failure. Optional
	// steps are skipped.
	Required bool `json:"required"`

	// Timeout overrides the engine's default per-step budget when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// PublishedKeys returns the namespace keys this step contributes. A step
// without an output mapping publishes its whole result under its own ID.
func (s Step) PublishedKeys() []string {
	if len(s.OutputMapping) == 0 {
		return []string{s.ID}
	}
	keys := make([]string, 0, len(s.OutputMapping))
	for _, published := range s.OutputMapping {
		keys = append(keys, published)
	}
	return keys
}

// Stats accumulates execution counters for promotion decisions.
type Stats struct {
	UsageCount     int64         `json:"usage_count"`
	SuccessCount   int64         `json:"success_count"`
	TotalDuration  time.Duration `json:"total_duration"`
	SuccessRate    float64       `json:"success_rate"`
	AvgDuration    time.Duration `json:"avg_duration"`
	LastExecutedAt time.Time     `json:"last_executed_at,omitempty"`
}

// RecordOutcome folds one execution outcome into the counters.
func (st *Stats) RecordOutcome(success bool, duration time.Duration, at time.Time) {
	st.UsageCount++
	if success {
		st.SuccessCount++
	}
	st.TotalDuration += duration
	st.SuccessRate = float64(st.SuccessCount) / float64(st.UsageCount)
	st.AvgDuration = st.TotalDuration / time.Duration(st.UsageCount)
	st.LastExecutedAt = at
}

// OptimizationRecord is one entry of a composition's optimization history.
type OptimizationRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
	// Kind classifies the change, e.g. "replace_step" or "rollback".
	Kind   string `json:"kind"`
	StepID string `json:"step_id,omitempty"`
	Detail string `json:"detail,omitempty"`
	// PreviousStep snapshots the replaced step so the change can be rolled
	// back.
	PreviousStep *Step `json:"previous_step,omitempty"`
}

// Composition is a reusable, versioned tool-call sequence.
type Composition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IntentType  string `json:"intent_type"`

	// Version strictly increases on every structural mutation.
	Version int    `json:"version"`
	Status  Status `json:"status"`

	Steps []Step `json:"steps"`

	InputSchema  *types.JSONSchema `json:"input_schema,omitempty"`
	OutputSchema *types.JSONSchema `json:"output_schema,omitempty"`

	Stats               Stats                `json:"stats"`
	OptimizationHistory []OptimizationRecord `json:"optimization_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. Mutating the copy never touches the original.
func (c *Composition) Clone() *Composition {
	out := *c
	out.Steps = make([]Step, len(c.Steps))
	for i, step := range c.Steps {
		out.Steps[i] = step.clone()
	}
	out.OptimizationHistory = make([]OptimizationRecord, len(c.OptimizationHistory))
	for i, rec := range c.OptimizationHistory {
		if rec.PreviousStep != nil {
			prev := rec.PreviousStep.clone()
			rec.PreviousStep = &prev
		}
		out.OptimizationHistory[i] = rec
	}
	return &out
}

func (s Step) clone() Step {
	out := s
	out.InputMapping = cloneStringMap(s.InputMapping)
	out.OutputMapping = cloneStringMap(s.OutputMapping)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StepByID returns the step with the given ID, if present.
func (c *Composition) StepByID(id string) (Step, bool) {
	for _, step := range c.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// BumpVersion advances the version and appends a history entry describing the
// structural change.
func (c *Composition) BumpVersion(kind, stepID, detail string, at time.Time) {
	c.Version++
	c.OptimizationHistory = append(c.OptimizationHistory, OptimizationRecord{
		Version:   c.Version,
		AppliedAt: at,
		Kind:      kind,
		StepID:    stepID,
		Detail:    detail,
	})
	c.UpdatedAt = at
}

// ToolDescriptor renders the composition as a catalog entry so validated
// compositions can be invoked like any primitive tool.
func (c *Composition) ToolDescriptor() types.ToolDescriptor {
	return types.ToolDescriptor{
		Ref:          types.CompositionToolRef(c.ID),
		Name:         c.Name,
		Description:  c.Description,
		InputSchema:  c.InputSchema,
		OutputSchema: c.OutputSchema,
	}
}
