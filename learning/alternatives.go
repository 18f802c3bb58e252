package learning

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/knowledge"
	"github.com/albertlabs/composer/types"
)

// evidencePrior dampens the confidence of thinly supported estimates: one
// observation yields 1/6, six observations already pass 0.5.
const evidencePrior = 5

// Proposal is a candidate substitution together with the evidence behind it.
// Knowledge-backed proposals carry the candidate's observed success rate at
// this step and a sample-size confidence; catalog proposals carry none.
type Proposal struct {
	Step        *composition.Step `json:"step"`
	Source      string            `json:"source"`
	CauseCode   types.ErrorCode   `json:"cause_code,omitempty"`
	SuccessRate float64           `json:"success_rate"`
	Samples     int               `json:"samples"`
	Confidence  float64           `json:"confidence"`
}

// Generator proposes substitute tools for failing steps. It prefers tools
// that already succeeded for the same step in past executions and only then
// falls back to a rate-limited catalog search.
type Generator struct {
	monitor  *knowledge.Monitor
	executor types.ToolExecutor
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewGenerator creates a Generator. catalogSearchRPS bounds how often the
// generator may hit the tool catalog; a zero or negative value disables
// catalog lookups entirely.
func NewGenerator(monitor *knowledge.Monitor, executor types.ToolExecutor, catalogSearchRPS float64, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if catalogSearchRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(catalogSearchRPS), 1)
	}
	return &Generator{
		monitor:  monitor,
		executor: executor,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "alternative_generator")),
	}
}

// Alternative returns a substitute for the failing step, or nil when none is
// known. The substitute keeps the step's mappings and only swaps the tool.
func (g *Generator) Alternative(ctx context.Context, step composition.Step, cause error) (*composition.Step, error) {
	proposal, err := g.Propose(ctx, step, cause)
	if err != nil || proposal == nil {
		return nil, err
	}
	return proposal.Step, nil
}

// Propose returns the best substitution candidate and its evidence, or nil
// when none is known. The cause conditions the lookup: substitution is only
// attempted for failure categories a different tool could actually fix, so a
// MAPPING or VALIDATION cause yields no proposal.
func (g *Generator) Propose(ctx context.Context, step composition.Step, cause error) (*Proposal, error) {
	causeCode := types.GetErrorCode(cause)
	if cause != nil && !substitutable(causeCode) {
		g.logger.Debug("failure category not fixable by substitution",
			zap.String("step_id", step.ID),
			zap.String("cause_code", string(causeCode)))
		return nil, nil
	}

	if proposal, ok := g.fromKnowledge(ctx, step, causeCode); ok {
		g.logger.Info("alternative found in execution history",
			zap.String("step_id", step.ID),
			zap.String("tool", proposal.Step.Tool.String()),
			zap.Float64("success_rate", proposal.SuccessRate),
			zap.Int("samples", proposal.Samples),
			zap.Float64("confidence", proposal.Confidence))
		return proposal, nil
	}

	ref, ok, err := g.fromCatalog(ctx, step)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	g.logger.Info("alternative found in catalog",
		zap.String("step_id", step.ID),
		zap.String("tool", ref.String()))
	return &Proposal{Step: substitute(step, ref), Source: "catalog", CauseCode: causeCode}, nil
}

// substitutable reports whether swapping the tool can plausibly address the
// failure category. Bad input wiring fails identically under any tool.
func substitutable(code types.ErrorCode) bool {
	switch code {
	case types.ErrMapping, types.ErrValidation:
		return false
	default:
		return true
	}
}

// fromKnowledge tallies every other tool observed at the same step across the
// recorded executions and proposes the one with the best success rate,
// sample count breaking ties. Candidates that never succeeded are ignored.
func (g *Generator) fromKnowledge(ctx context.Context, step composition.Step, causeCode types.ErrorCode) (*Proposal, bool) {
	if g.monitor == nil {
		return nil, false
	}
	records, err := g.monitor.Query(ctx, knowledge.Filter{})
	if err != nil {
		g.logger.Warn("knowledge lookup failed", zap.Error(err))
		return nil, false
	}

	type tally struct {
		ref       types.ToolRef
		attempts  int
		successes int
	}
	tallies := make(map[string]*tally)
	for _, rec := range records {
		for _, outcome := range rec.Steps {
			if outcome.StepID != step.ID || outcome.Skipped || outcome.Tool == step.Tool {
				continue
			}
			key := outcome.Tool.String()
			tl, ok := tallies[key]
			if !ok {
				tl = &tally{ref: outcome.Tool}
				tallies[key] = tl
			}
			tl.attempts++
			if outcome.Status == string(knowledge.StatusSuccess) {
				tl.successes++
			}
		}
	}

	var best *tally
	var bestRate float64
	for _, tl := range tallies {
		if tl.successes == 0 {
			continue
		}
		rate := float64(tl.successes) / float64(tl.attempts)
		switch {
		case best == nil, rate > bestRate:
			best, bestRate = tl, rate
		case rate == bestRate && (tl.attempts > best.attempts ||
			(tl.attempts == best.attempts && tl.ref.String() < best.ref.String())):
			best = tl
		}
	}
	if best == nil {
		return nil, false
	}

	return &Proposal{
		Step:        substitute(step, best.ref),
		Source:      "knowledge",
		CauseCode:   causeCode,
		SuccessRate: bestRate,
		Samples:     best.attempts,
		Confidence:  float64(best.attempts) / float64(best.attempts+evidencePrior),
	}, true
}

// fromCatalog searches the tool catalog for a replacement. Lookups are
// best-effort: when the rate limit is exhausted the generator simply reports
// no alternative rather than stalling the execution.
func (g *Generator) fromCatalog(ctx context.Context, step composition.Step) (types.ToolRef, bool, error) {
	if g.executor == nil || g.limiter == nil || !g.limiter.Allow() {
		return types.ToolRef{}, false, nil
	}

	query := step.Description
	if query == "" {
		query = strings.ReplaceAll(step.Tool.ToolID, "_", " ")
	}
	tools, err := g.executor.SearchTools(ctx, query, 5)
	if err != nil {
		return types.ToolRef{}, false, types.NewError(types.ErrToolExecution, "catalog search failed").WithCause(err)
	}
	for _, tool := range tools {
		if tool.Ref != step.Tool && !tool.Ref.IsZero() {
			return tool.Ref, true, nil
		}
	}
	return types.ToolRef{}, false, nil
}

func substitute(step composition.Step, ref types.ToolRef) *composition.Step {
	out := step
	out.Tool = ref
	return &out
}
