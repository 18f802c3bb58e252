// Package engine executes compositions: sequential steps with declarative
// data mapping, bounded iteration fan-out, per-step and whole-composition
// timeouts, and alternative-based retry for required steps.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/transform"
	"github.com/albertlabs/composer/types"
)

// AlternativeProvider suggests a substitute for a failing required step. A
// nil step with a nil error means no alternative is known.
type AlternativeProvider interface {
	Alternative(ctx context.Context, step composition.Step, cause error) (*composition.Step, error)
}

// Engine runs compositions against a tool executor.
type Engine struct {
	executor     types.ToolExecutor
	transformer  *transform.Transformer
	alternatives AlternativeProvider
	cfg          config.OrchestratorConfig
	logger       *zap.Logger
}

// New creates an Engine. The alternative provider is optional.
func New(executor types.ToolExecutor, transformer *transform.Transformer, alternatives AlternativeProvider, cfg config.OrchestratorConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transformer == nil {
		transformer = transform.NewTransformer(logger)
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.CompositionTimeout <= 0 {
		cfg.CompositionTimeout = 60 * time.Second
	}
	if cfg.MaxIterationConcurrency <= 0 {
		cfg.MaxIterationConcurrency = 8
	}
	return &Engine{
		executor:     executor,
		transformer:  transformer,
		alternatives: alternatives,
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "engine")),
	}
}

// Execute runs a composition. Parameters are validated against the input
// schema before any step runs, and the output is projected through the output
// schema. The returned Result carries the full step trace even on failure.
func (e *Engine) Execute(ctx context.Context, comp *composition.Composition, params map[string]any) (*Result, error) {
	execID, ok := types.ExecutionID(ctx)
	if !ok {
		execID = uuid.NewString()
		ctx = types.WithExecutionID(ctx, execID)
	}

	res := &Result{
		ExecutionID:   execID,
		CompositionID: comp.ID,
		Status:        StatusFailure,
		StartedAt:     time.Now(),
	}

	if comp.InputSchema != nil {
		if err := comp.InputSchema.ValidateValue(params); err != nil {
			res.FinishedAt = time.Now()
			return res, err
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CompositionTimeout)
	defer cancel()

	ec := newExecutionContext(execID, params)
	err := e.runSteps(runCtx, ctx, ec, comp.Steps, res)
	res.FinishedAt = time.Now()
	if err != nil {
		e.logger.Warn("execution failed",
			zap.String("execution_id", execID),
			zap.String("composition_id", comp.ID),
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err))
		return res, err
	}

	output := e.transformer.Project(ec.namespace, comp.OutputSchema)
	if comp.OutputSchema != nil {
		if err := comp.OutputSchema.ValidateValue(output); err != nil {
			res.Status = StatusFailure
			return res, err
		}
	}
	res.Output = output
	res.Status = StatusSuccess

	e.logger.Debug("execution succeeded",
		zap.String("execution_id", execID),
		zap.String("composition_id", comp.ID),
		zap.Duration("duration", res.Duration()))
	return res, nil
}

// ExecuteAdHoc runs a bare step sequence without schema validation. The
// output is every key the steps published. Used for first-time requests that
// have no composition yet.
func (e *Engine) ExecuteAdHoc(ctx context.Context, steps []composition.Step, params map[string]any) (*Result, error) {
	execID, ok := types.ExecutionID(ctx)
	if !ok {
		execID = uuid.NewString()
		ctx = types.WithExecutionID(ctx, execID)
	}

	res := &Result{
		ExecutionID: execID,
		Status:      StatusFailure,
		StartedAt:   time.Now(),
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CompositionTimeout)
	defer cancel()

	ec := newExecutionContext(execID, params)
	err := e.runSteps(runCtx, ctx, ec, steps, res)
	res.FinishedAt = time.Now()
	if err != nil {
		return res, err
	}

	output := make(map[string]any)
	for _, step := range steps {
		for _, key := range step.PublishedKeys() {
			if value, ok := ec.namespace[key]; ok {
				output[key] = value
			}
		}
	}
	res.Output = output
	res.Status = StatusSuccess
	return res, nil
}

// runSteps executes the sequence. Step outputs are committed to the namespace
// only after the step fully succeeds.
func (e *Engine) runSteps(runCtx, parent context.Context, ec *executionContext, steps []composition.Step, res *Result) error {
	for _, step := range steps {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			// Budget exhausted between steps: remaining steps never run.
			return e.wrapBudgetError(parent, ctxErr)
		}

		trace, outputs, err := e.runStep(runCtx, ec, step)
		res.Steps = append(res.Steps, trace)
		if err != nil {
			if runCtx.Err() != nil {
				return e.wrapBudgetError(parent, err)
			}
			if !step.Required {
				// Optional failures are recorded and skipped.
				res.Steps[len(res.Steps)-1].Skipped = true
				e.logger.Info("optional step skipped",
					zap.String("execution_id", ec.id),
					zap.String("step_id", step.ID),
					zap.Error(err))
				continue
			}
			return err
		}
		ec.publish(outputs)
	}
	return nil
}

// runStep executes one step, retrying once with an alternative when a
// required step fails and a substitute is known.
func (e *Engine) runStep(runCtx context.Context, ec *executionContext, step composition.Step) (StepTrace, map[string]any, error) {
	start := time.Now()
	trace := StepTrace{StepID: step.ID, Tool: step.Tool, Status: StatusSuccess}

	outputs, iterations, err := e.attempt(runCtx, ec, step)
	if err != nil && step.Required && runCtx.Err() == nil && e.alternatives != nil {
		alt, altErr := e.alternatives.Alternative(runCtx, step, err)
		if altErr != nil {
			e.logger.Warn("alternative lookup failed",
				zap.String("step_id", step.ID),
				zap.Error(altErr))
		} else if alt != nil {
			e.logger.Info("retrying step with alternative",
				zap.String("execution_id", ec.id),
				zap.String("step_id", step.ID),
				zap.String("alternative_tool", alt.Tool.String()))
			trace.Retried = true
			trace.Tool = alt.Tool
			outputs, iterations, err = e.attempt(runCtx, ec, *alt)
		}
	}

	trace.DurationMs = time.Since(start).Milliseconds()
	trace.Iterations = iterations
	if err != nil {
		trace.Error = err.Error()
		trace.ErrorCode = types.GetErrorCode(err)
		trace.Status = StatusFailure
		return trace, nil, err
	}
	return trace, outputs, nil
}

// attempt runs the step body once, iterating or single-shot.
func (e *Engine) attempt(runCtx context.Context, ec *executionContext, step composition.Step) (map[string]any, int, error) {
	if step.IterateOver != "" {
		return e.attemptIteration(runCtx, ec, step)
	}
	outputs, err := e.attemptSingle(runCtx, step, ec.namespace)
	return outputs, 0, err
}

// attemptSingle maps inputs, invokes the tool under the step budget and
// extracts the declared outputs.
func (e *Engine) attemptSingle(runCtx context.Context, step composition.Step, ns map[string]any) (map[string]any, error) {
	params, err := e.transformer.Apply(step.InputMapping, ns)
	if err != nil {
		return nil, withStep(err, step.ID)
	}

	stepCtx, cancel := context.WithTimeout(runCtx, e.stepBudget(step))
	defer cancel()

	result, err := e.executor.ExecuteTool(stepCtx, step.Tool, params)
	if err != nil {
		return nil, e.wrapToolError(runCtx, stepCtx, step, err)
	}
	return e.extractOutputs(step, result)
}

// attemptIteration fans the step out over the elements of its iteration
// source, one independent namespace copy per element, and collects results in
// source order. No output is published unless every branch succeeds.
func (e *Engine) attemptIteration(runCtx context.Context, ec *executionContext, step composition.Step) (map[string]any, int, error) {
	source, err := e.transformer.Resolve(step.IterateOver, ec.namespace)
	if err != nil {
		return nil, 0, withStep(err, step.ID)
	}
	items, err := asList(source)
	if err != nil {
		return nil, 0, withStep(err, step.ID)
	}

	results := make([]map[string]any, len(items))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(e.cfg.MaxIterationConcurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			branch := ec.branch(composition.LoopVariable, item)
			params, err := e.transformer.Apply(step.InputMapping, branch)
			if err != nil {
				return withStep(err, step.ID)
			}

			stepCtx, cancel := context.WithTimeout(gctx, e.stepBudget(step))
			defer cancel()

			result, err := e.executor.ExecuteTool(stepCtx, step.Tool, params)
			if err != nil {
				return e.wrapToolError(runCtx, stepCtx, step, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(items), err
	}

	outputs, err := e.collectIterationOutputs(step, results)
	if err != nil {
		return nil, len(items), err
	}
	return outputs, len(items), nil
}

// extractOutputs applies the output mapping to one tool result. Without a
// mapping the whole result is published under the step ID.
func (e *Engine) extractOutputs(step composition.Step, result map[string]any) (map[string]any, error) {
	if len(step.OutputMapping) == 0 {
		return map[string]any{step.ID: result}, nil
	}
	outputs := make(map[string]any, len(step.OutputMapping))
	for field, published := range step.OutputMapping {
		value, err := e.transformer.Resolve(field, result)
		if err != nil {
			return nil, withStep(err, step.ID)
		}
		outputs[published] = value
	}
	return outputs, nil
}

// collectIterationOutputs turns per-element results into per-key lists
// preserving source order.
func (e *Engine) collectIterationOutputs(step composition.Step, results []map[string]any) (map[string]any, error) {
	if len(step.OutputMapping) == 0 {
		collected := make([]any, len(results))
		for i, result := range results {
			collected[i] = result
		}
		return map[string]any{step.ID: collected}, nil
	}

	outputs := make(map[string]any, len(step.OutputMapping))
	for field, published := range step.OutputMapping {
		collected := make([]any, len(results))
		for i, result := range results {
			value, err := e.transformer.Resolve(field, result)
			if err != nil {
				return nil, withStep(err, step.ID)
			}
			collected[i] = value
		}
		outputs[published] = collected
	}
	return outputs, nil
}

func (e *Engine) stepBudget(step composition.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.cfg.StepTimeout
}

// wrapToolError classifies a tool failure: step-budget expiry becomes a
// TIMEOUT, everything else a TOOL_EXECUTION error, unless the tool already
// returned a typed error.
func (e *Engine) wrapToolError(runCtx, stepCtx context.Context, step composition.Step, err error) error {
	if runCtx.Err() != nil {
		return err
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.Errorf(types.ErrTimeout, "step %q exceeded its %s budget", step.ID, e.stepBudget(step)).
			WithStep(step.ID).WithCause(err).WithRetryable(true)
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return withStep(err, step.ID)
	}
	return types.Errorf(types.ErrToolExecution, "tool %s failed", step.Tool).
		WithStep(step.ID).WithCause(err)
}

// wrapBudgetError distinguishes the fatal composition timeout from caller
// cancellation.
func (e *Engine) wrapBudgetError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return types.NewError(types.ErrInternal, "execution cancelled").WithCause(parent.Err())
	}
	return types.Errorf(types.ErrTimeout, "composition exceeded its %s budget", e.cfg.CompositionTimeout).
		WithCause(err).WithRetryable(true)
}

func withStep(err error, stepID string) error {
	var typed *types.Error
	if errors.As(err, &typed) && typed.StepID == "" {
		return typed.WithStep(stepID)
	}
	return err
}

func asList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	case nil:
		return nil, types.NewError(types.ErrMapping, "iteration source resolved to null")
	default:
		return nil, types.Errorf(types.ErrMapping, "iteration source is %T, want a list", value)
	}
}
