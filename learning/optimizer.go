package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/registry"
	"github.com/albertlabs/composer/types"
)

// OptimizeResult describes what one optimization pass did to a composition.
// For applied rewrites the candidate fields echo the evidence behind the
// chosen substitute.
type OptimizeResult struct {
	CompositionID        string          `json:"composition_id"`
	Applied              bool            `json:"applied"`
	Reason               string          `json:"reason"`
	StepID               string          `json:"step_id,omitempty"`
	DominantErrorCode    types.ErrorCode `json:"dominant_error_code,omitempty"`
	OldTool              types.ToolRef   `json:"old_tool,omitempty"`
	NewTool              types.ToolRef   `json:"new_tool,omitempty"`
	CandidateSuccessRate float64         `json:"candidate_success_rate,omitempty"`
	CandidateSamples     int             `json:"candidate_samples,omitempty"`
	CandidateConfidence  float64         `json:"candidate_confidence,omitempty"`
	Version              int             `json:"version,omitempty"`
}

// Optimizer rewrites compositions based on quality reports: the worst
// problematic step is swapped for a known-good alternative, the version is
// bumped and the replaced step snapshotted for rollback.
type Optimizer struct {
	registry   *registry.Registry
	evaluator  *Evaluator
	generator  *Generator
	minSamples int
	logger     *zap.Logger
}

// NewOptimizer creates an Optimizer. Compositions with fewer than minSamples
// recorded executions are left alone.
func NewOptimizer(reg *registry.Registry, evaluator *Evaluator, generator *Generator, minSamples int, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	return &Optimizer{
		registry:   reg,
		evaluator:  evaluator,
		generator:  generator,
		minSamples: minSamples,
		logger:     logger.With(zap.String("component", "optimizer")),
	}
}

// Optimize evaluates one composition and applies at most one step
// replacement. It is deliberately conservative: one change per pass keeps the
// effect of each rewrite attributable in the next report.
func (o *Optimizer) Optimize(ctx context.Context, compositionID string) (*OptimizeResult, error) {
	result := &OptimizeResult{CompositionID: compositionID}

	report, err := o.evaluator.Evaluate(ctx, compositionID)
	if err != nil {
		return nil, err
	}
	if report.Samples < o.minSamples {
		result.Reason = fmt.Sprintf("only %d samples, need %d", report.Samples, o.minSamples)
		return result, nil
	}
	if len(report.ProblemSteps) == 0 {
		result.Reason = "no step crossed the failure threshold"
		return result, nil
	}

	comp, err := o.registry.FindByID(ctx, compositionID)
	if err != nil {
		return nil, err
	}

	stepID := report.ProblemSteps[0]
	step, ok := comp.StepByID(stepID)
	if !ok {
		// The composition changed since the records were written.
		result.Reason = fmt.Sprintf("problem step %q no longer exists", stepID)
		return result, nil
	}

	// The dominant recorded failure mode conditions the proposal: the
	// generator declines categories a tool swap cannot fix.
	var cause error
	if code := stepReportFor(report, stepID).DominantErrorCode(); code != "" {
		result.DominantErrorCode = types.ErrorCode(code)
		cause = types.Errorf(types.ErrorCode(code), "step %q fails mostly with %s", stepID, code).WithStep(stepID)
	}

	proposal, err := o.generator.Propose(ctx, step, cause)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		result.Reason = fmt.Sprintf("no alternative known for step %q", stepID)
		return result, nil
	}
	alt := proposal.Step

	updated, err := o.registry.Mutate(ctx, compositionID, func(comp *composition.Composition) error {
		for i := range comp.Steps {
			if comp.Steps[i].ID != stepID {
				continue
			}
			prev := comp.Steps[i]
			comp.Steps[i].Tool = alt.Tool
			detail := fmt.Sprintf("replaced %s with %s, failure rate %.2f, candidate success rate %.2f over %d samples (confidence %.2f)",
				prev.Tool, alt.Tool, stepFailureRate(report, stepID), proposal.SuccessRate, proposal.Samples, proposal.Confidence)
			comp.BumpVersion("replace_step", stepID, detail, time.Now())
			comp.OptimizationHistory[len(comp.OptimizationHistory)-1].PreviousStep = &prev
			return nil
		}
		return types.Errorf(types.ErrValidation, "step %q disappeared during optimization", stepID)
	})
	if err != nil {
		return nil, err
	}

	result.Applied = true
	result.Reason = fmt.Sprintf("step %q failure rate %.2f", stepID, stepFailureRate(report, stepID))
	result.StepID = stepID
	result.OldTool = step.Tool
	result.NewTool = alt.Tool
	result.CandidateSuccessRate = proposal.SuccessRate
	result.CandidateSamples = proposal.Samples
	result.CandidateConfidence = proposal.Confidence
	result.Version = updated.Version

	o.logger.Info("composition optimized",
		zap.String("composition_id", compositionID),
		zap.String("step_id", stepID),
		zap.String("old_tool", step.Tool.String()),
		zap.String("new_tool", alt.Tool.String()),
		zap.Int("version", updated.Version))
	return result, nil
}

func stepFailureRate(report *Report, stepID string) float64 {
	return stepReportFor(report, stepID).FailureRate
}

func stepReportFor(report *Report, stepID string) StepReport {
	for _, sr := range report.Steps {
		if sr.StepID == stepID {
			return sr
		}
	}
	return StepReport{}
}
