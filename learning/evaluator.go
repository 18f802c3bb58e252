// Package learning closes the feedback loop: it evaluates execution quality
// from the knowledge base, generates alternatives for problematic steps,
// rewrites compositions, and runs the whole analysis on a background cycle.
package learning

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/knowledge"
	"github.com/albertlabs/composer/types"
)

// StepReport aggregates the recorded outcomes of one step across executions.
type StepReport struct {
	StepID        string         `json:"step_id"`
	Tool          types.ToolRef  `json:"tool"`
	Executions    int            `json:"executions"`
	Failures      int            `json:"failures"`
	FailureRate   float64        `json:"failure_rate"`
	AvgDurationMs int64          `json:"avg_duration_ms"`
	Retries       int            `json:"retries"`
	ErrorCodes    map[string]int `json:"error_codes,omitempty"`
}

// DominantErrorCode returns the most frequent error code, ties broken
// lexicographically.
func (sr StepReport) DominantErrorCode() string {
	best, bestCount := "", 0
	for code, count := range sr.ErrorCodes {
		if count > bestCount || (count == bestCount && code < best) {
			best, bestCount = code, count
		}
	}
	return best
}

// Report is the quality evaluation of one composition over its recent
// execution history.
type Report struct {
	CompositionID string       `json:"composition_id"`
	Samples       int          `json:"samples"`
	SuccessRate   float64      `json:"success_rate"`
	Steps         []StepReport `json:"steps"`
	// ProblemSteps lists steps whose failure rate crossed the threshold,
	// worst first.
	ProblemSteps []string  `json:"problem_steps,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Evaluator derives quality reports from knowledge records.
type Evaluator struct {
	monitor              *knowledge.Monitor
	failureRateThreshold float64
	logger               *zap.Logger
}

// NewEvaluator creates an Evaluator. Steps failing more often than the
// threshold are flagged as problems.
func NewEvaluator(monitor *knowledge.Monitor, failureRateThreshold float64, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if failureRateThreshold <= 0 {
		failureRateThreshold = 0.3
	}
	return &Evaluator{
		monitor:              monitor,
		failureRateThreshold: failureRateThreshold,
		logger:               logger.With(zap.String("component", "evaluator")),
	}
}

// Evaluate builds a quality report for one composition from its recorded
// executions. Skipped steps do not count against their tool.
func (e *Evaluator) Evaluate(ctx context.Context, compositionID string) (*Report, error) {
	records, err := e.monitor.Query(ctx, knowledge.Filter{CompositionID: compositionID})
	if err != nil {
		return nil, err
	}

	report := &Report{
		CompositionID: compositionID,
		Samples:       len(records),
		GeneratedAt:   time.Now(),
	}
	if len(records) == 0 {
		return report, nil
	}

	successes := 0
	perStep := make(map[string]*StepReport)
	totalDuration := make(map[string]int64)
	order := make([]string, 0)

	for _, rec := range records {
		if rec.Status == knowledge.StatusSuccess {
			successes++
		}
		for _, step := range rec.Steps {
			sr, ok := perStep[step.StepID]
			if !ok {
				sr = &StepReport{StepID: step.StepID, Tool: step.Tool, ErrorCodes: make(map[string]int)}
				perStep[step.StepID] = sr
				order = append(order, step.StepID)
			}
			if step.Skipped {
				continue
			}
			sr.Executions++
			totalDuration[step.StepID] += step.DurationMs
			if step.Retried {
				sr.Retries++
			}
			if step.Status != string(knowledge.StatusSuccess) {
				sr.Failures++
				if step.ErrorCode != "" {
					sr.ErrorCodes[step.ErrorCode]++
				}
			}
		}
	}

	report.SuccessRate = float64(successes) / float64(len(records))
	for _, id := range order {
		sr := perStep[id]
		if sr.Executions > 0 {
			sr.FailureRate = float64(sr.Failures) / float64(sr.Executions)
			sr.AvgDurationMs = totalDuration[id] / int64(sr.Executions)
		}
		report.Steps = append(report.Steps, *sr)
		if sr.FailureRate >= e.failureRateThreshold && sr.Executions > 0 {
			report.ProblemSteps = append(report.ProblemSteps, id)
		}
	}

	// Worst offenders first.
	rateOf := func(id string) float64 { return perStep[id].FailureRate }
	sort.SliceStable(report.ProblemSteps, func(i, j int) bool {
		return rateOf(report.ProblemSteps[i]) > rateOf(report.ProblemSteps[j])
	})

	return report, nil
}
