// Package orchestrator is the request-processing facade: it resolves the
// intent, finds or creates a composition, runs it through the engine, records
// the outcome in the knowledge base and folds the result into the
// composition's statistics.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/engine"
	"github.com/albertlabs/composer/intent"
	"github.com/albertlabs/composer/internal/metrics"
	"github.com/albertlabs/composer/knowledge"
	"github.com/albertlabs/composer/registry"
	"github.com/albertlabs/composer/types"
)

// Request is one natural-language request to the orchestrator.
type Request struct {
	Text           string            `json:"text"`
	Params         map[string]any    `json:"params,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Attributes     map[string]any    `json:"attributes,omitempty"`
}

// ExecutionInfo is the trace attached to every response.
type ExecutionInfo struct {
	ExecutionID        string             `json:"execution_id,omitempty"`
	CompositionID      string             `json:"composition_id,omitempty"`
	CompositionVersion int                `json:"composition_version,omitempty"`
	Intent             string             `json:"intent"`
	Confidence         float64            `json:"confidence"`
	AdHoc              bool               `json:"ad_hoc,omitempty"`
	DurationMs         int64              `json:"duration_ms"`
	Steps              []engine.StepTrace `json:"steps,omitempty"`
}

// Response is the orchestrator's answer to one request.
type Response struct {
	RequestID     string          `json:"request_id"`
	Status        string          `json:"status"`
	Data          map[string]any  `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     types.ErrorCode `json:"error_code,omitempty"`
	ExecutionInfo ExecutionInfo   `json:"execution_info"`
}

// Orchestrator wires the pipeline together.
type Orchestrator struct {
	resolver *intent.Resolver
	registry *registry.Registry
	engine   *engine.Engine
	monitor  *knowledge.Monitor
	executor types.ToolExecutor
	metrics  *metrics.Collector
	cfg      config.OrchestratorConfig
	logger   *zap.Logger
}

// New creates an Orchestrator. The metrics collector is optional.
func New(resolver *intent.Resolver, reg *registry.Registry, eng *engine.Engine, monitor *knowledge.Monitor, executor types.ToolExecutor, collector *metrics.Collector, cfg config.OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DecomposeSearchLimit <= 0 {
		cfg.DecomposeSearchLimit = 5
	}
	return &Orchestrator{
		resolver: resolver,
		registry: reg,
		engine:   eng,
		monitor:  monitor,
		executor: executor,
		metrics:  collector,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// ProcessRequest runs the full pipeline for one request. Exactly one
// knowledge record is written per executed invocation, success or not.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req Request) (*Response, error) {
	requestID, ok := types.RequestID(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = types.WithRequestID(ctx, requestID)
	}
	if req.UserID != "" {
		ctx = types.WithUserID(ctx, req.UserID)
	}
	if req.ConversationID != "" {
		ctx = types.WithConversationID(ctx, req.ConversationID)
	}

	intention := o.resolver.Resolve(ctx, req.Text, intent.ConversationContext{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Attributes:     req.Attributes,
	})
	if o.metrics != nil {
		source := "rule"
		if intention.Type == intent.IntentGeneral {
			source = "fallback"
		}
		o.metrics.RecordIntentResolution(intention.Type, source)
	}

	params := mergeParams(intention.Params, req.Params)

	resp := &Response{
		RequestID: requestID,
		ExecutionInfo: ExecutionInfo{
			Intent:     intention.Type,
			Confidence: intention.Confidence,
		},
	}

	comp, err := o.lookupComposition(ctx, intention, req.Text)
	if err != nil {
		return o.fail(resp, intention.Type, err), nil
	}

	if comp != nil {
		o.runComposition(ctx, resp, comp, intention.Type, params)
		return resp, nil
	}

	o.runAdHoc(ctx, resp, intention.Type, req.Text, params)
	return resp, nil
}

// lookupComposition finds a reusable composition for the intention, preferring
// an exact intent match over semantic search, and validated over learning.
func (o *Orchestrator) lookupComposition(ctx context.Context, intention intent.Intention, text string) (*composition.Composition, error) {
	if intention.Type != intent.IntentGeneral {
		comps, err := o.registry.FindByIntent(ctx, intention.Type, false)
		if err != nil {
			return nil, err
		}
		if best := pickBest(comps); best != nil {
			return best, nil
		}
	}

	results, err := o.registry.Search(ctx, text, 0, false)
	if err != nil {
		return nil, err
	}
	return pickBest(results), nil
}

// pickBest prefers validated compositions; within a status, the listing is
// already ordered most-recently-updated first.
func pickBest(comps []*composition.Composition) *composition.Composition {
	for _, comp := range comps {
		if comp.Status == composition.StatusValidated {
			return comp
		}
	}
	if len(comps) > 0 {
		return comps[0]
	}
	return nil
}

func (o *Orchestrator) runComposition(ctx context.Context, resp *Response, comp *composition.Composition, intentType string, params map[string]any) {
	result, execErr := o.engine.Execute(ctx, comp, params)
	o.record(ctx, result, comp.ID, intentType)

	success := execErr == nil
	if updated, promoted, err := o.registry.UpdateStats(ctx, comp.ID, success, result.Duration()); err != nil {
		o.logger.Warn("failed to update composition stats",
			zap.String("composition_id", comp.ID),
			zap.Error(err))
	} else if promoted {
		comp = updated
		if o.metrics != nil {
			o.metrics.RecordPromotion()
		}
	}

	o.finish(resp, result, execErr, comp.ID, comp.Version, intentType, "composition")
}

// runAdHoc decomposes the request into a tool sequence, runs it, and on
// success registers the sequence as a new learning composition.
func (o *Orchestrator) runAdHoc(ctx context.Context, resp *Response, intentType, text string, params map[string]any) {
	steps, err := o.decompose(ctx, text, params)
	if err != nil {
		o.fail(resp, intentType, err)
		return
	}

	result, execErr := o.engine.ExecuteAdHoc(ctx, steps, params)
	resp.ExecutionInfo.AdHoc = true

	compID := ""
	version := 0
	if execErr == nil {
		if comp, err := o.learnComposition(ctx, intentType, text, steps, params); err != nil {
			o.logger.Warn("failed to register learned composition", zap.Error(err))
		} else {
			compID = comp.ID
			version = comp.Version
			if _, _, err := o.registry.UpdateStats(ctx, compID, true, result.Duration()); err != nil {
				o.logger.Warn("failed to record first execution",
					zap.String("composition_id", compID),
					zap.Error(err))
			}
		}
	}

	o.record(ctx, result, compID, intentType)
	o.finish(resp, result, execErr, compID, version, intentType, "ad_hoc")
}

// decompose turns a request into a linear tool sequence using catalog search.
// Each tool's declared inputs are bound to identically named keys already in
// scope; unsatisfiable inputs are left unmapped for the tool's defaults.
func (o *Orchestrator) decompose(ctx context.Context, text string, params map[string]any) ([]composition.Step, error) {
	tools, err := o.executor.SearchTools(ctx, text, o.cfg.DecomposeSearchLimit)
	if err != nil {
		return nil, types.NewError(types.ErrToolExecution, "catalog search failed").WithCause(err)
	}
	if len(tools) == 0 {
		return nil, types.Errorf(types.ErrCompositionNotFound, "no capability matches %q", text)
	}

	visible := make(map[string]bool, len(params))
	for k := range params {
		visible[k] = true
	}

	steps := make([]composition.Step, 0, len(tools))
	seen := make(map[string]int)
	for _, tool := range tools {
		id := tool.Ref.ToolID
		if n := seen[id]; n > 0 {
			id = fmt.Sprintf("%s_%d", id, n+1)
		}
		seen[tool.Ref.ToolID]++

		step := composition.Step{
			ID:          id,
			Tool:        tool.Ref,
			Description: tool.Description,
			Required:    true,
		}
		if tool.InputSchema != nil {
			for name := range tool.InputSchema.Properties {
				if visible[name] {
					if step.InputMapping == nil {
						step.InputMapping = make(map[string]string)
					}
					step.InputMapping[name] = name
				}
			}
		}
		steps = append(steps, step)
		for _, key := range step.PublishedKeys() {
			visible[key] = true
		}
	}
	return steps, nil
}

// learnComposition registers a successful ad-hoc sequence as a learning
// composition so future requests can reuse and refine it.
func (o *Orchestrator) learnComposition(ctx context.Context, intentType, text string, steps []composition.Step, params map[string]any) (*composition.Composition, error) {
	input := types.NewObjectSchema()
	for name := range params {
		input.AddProperty(name, schemaFor(params[name]))
	}

	comp := &composition.Composition{
		Name:        compositionName(intentType, text),
		Description: text,
		IntentType:  intentType,
		Status:      composition.StatusLearning,
		Steps:       steps,
		InputSchema: input,
	}
	if _, err := o.registry.Register(ctx, comp, true); err != nil {
		return nil, err
	}
	return comp, nil
}

// record writes exactly one knowledge record for an invocation.
func (o *Orchestrator) record(ctx context.Context, result *engine.Result, compID, intentType string) {
	if o.monitor == nil || result == nil {
		return
	}
	rec := &knowledge.Record{
		ExecutionID:   result.ExecutionID,
		CompositionID: compID,
		IntentType:    intentType,
		Status:        knowledge.ExecutionStatus(result.Status),
		Steps:         make([]knowledge.StepOutcome, len(result.Steps)),
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
	}
	for i, trace := range result.Steps {
		rec.Steps[i] = knowledge.StepOutcome{
			StepID:     trace.StepID,
			Tool:       trace.Tool,
			Status:     string(trace.Status),
			DurationMs: trace.DurationMs,
			Error:      trace.Error,
			ErrorCode:  string(trace.ErrorCode),
			Skipped:    trace.Skipped,
			Retried:    trace.Retried,
		}
	}
	if err := o.monitor.Record(ctx, rec); err != nil {
		o.logger.Warn("failed to write knowledge record",
			zap.String("execution_id", result.ExecutionID),
			zap.Error(err))
	}
}

// finish populates the response from an engine result.
func (o *Orchestrator) finish(resp *Response, result *engine.Result, execErr error, compID string, version int, intentType, mode string) {
	resp.Status = string(result.Status)
	resp.Data = result.Output
	resp.ExecutionInfo.ExecutionID = result.ExecutionID
	resp.ExecutionInfo.CompositionID = compID
	resp.ExecutionInfo.CompositionVersion = version
	resp.ExecutionInfo.DurationMs = result.Duration().Milliseconds()
	resp.ExecutionInfo.Steps = result.Steps

	if execErr != nil {
		resp.Error = execErr.Error()
		resp.ErrorCode = types.GetErrorCode(execErr)
	}

	if o.metrics != nil {
		o.metrics.RecordRequest(intentType, mode, resp.Status)
		o.metrics.RecordExecution(compID, resp.Status, result.Duration())
		for _, trace := range result.Steps {
			o.metrics.RecordStep(trace.Tool.String(), string(trace.Status), time.Duration(trace.DurationMs)*time.Millisecond)
		}
	}
}

// fail fills the response for errors raised before any execution started.
func (o *Orchestrator) fail(resp *Response, intentType string, err error) *Response {
	resp.Status = string(engine.StatusFailure)
	resp.Error = err.Error()
	resp.ErrorCode = types.GetErrorCode(err)
	if resp.ErrorCode == "" {
		resp.ErrorCode = types.ErrInternal
	}
	if o.metrics != nil {
		o.metrics.RecordRequest(intentType, "none", resp.Status)
	}
	o.logger.Warn("request failed before execution",
		zap.String("request_id", resp.RequestID),
		zap.String("intent", intentType),
		zap.Error(err))
	return resp
}

func mergeParams(fromIntent map[string]any, fromRequest map[string]any) map[string]any {
	out := make(map[string]any, len(fromIntent)+len(fromRequest))
	for k, v := range fromIntent {
		out[k] = v
	}
	for k, v := range fromRequest {
		out[k] = v
	}
	return out
}

func schemaFor(value any) *types.JSONSchema {
	switch value.(type) {
	case string:
		return types.NewStringSchema()
	case bool:
		return types.NewBooleanSchema()
	case float64, int, int64:
		return types.NewNumberSchema()
	case []any:
		return types.NewArraySchema(nil)
	case map[string]any:
		return types.NewObjectSchema()
	default:
		return &types.JSONSchema{}
	}
}

func compositionName(intentType, text string) string {
	if intentType != intent.IntentGeneral {
		return strings.ReplaceAll(intentType, "_", " ")
	}
	words := strings.Fields(text)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.ToLower(strings.Join(words, " "))
}
