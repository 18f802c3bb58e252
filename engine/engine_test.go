package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/types"
)

// scriptedExecutor routes tool calls to per-tool handlers and counts
// invocations.
type scriptedExecutor struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, params map[string]any) (map[string]any, error)
	calls    map[string]*atomic.Int64
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		handlers: make(map[string]func(ctx context.Context, params map[string]any) (map[string]any, error)),
		calls:    make(map[string]*atomic.Int64),
	}
}

func (s *scriptedExecutor) handle(toolID string, fn func(ctx context.Context, params map[string]any) (map[string]any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[toolID] = fn
	s.calls[toolID] = &atomic.Int64{}
}

func (s *scriptedExecutor) callCount(toolID string) int64 {
	s.mu.Lock()
	counter := s.calls[toolID]
	s.mu.Unlock()
	if counter == nil {
		return 0
	}
	return counter.Load()
}

func (s *scriptedExecutor) SearchTools(ctx context.Context, query string, limit int) ([]types.ToolDescriptor, error) {
	return nil, nil
}

func (s *scriptedExecutor) ExecuteTool(ctx context.Context, ref types.ToolRef, params map[string]any) (map[string]any, error) {
	s.mu.Lock()
	handler := s.handlers[ref.ToolID]
	counter := s.calls[ref.ToolID]
	s.mu.Unlock()

	if counter != nil {
		counter.Add(1)
	}
	if handler == nil {
		return nil, fmt.Errorf("no handler for tool %s", ref.ToolID)
	}
	return handler(ctx, params)
}

func (s *scriptedExecutor) PublishTool(ctx context.Context, desc types.ToolDescriptor) error {
	return nil
}

func (s *scriptedExecutor) UnpublishTool(ctx context.Context, ref types.ToolRef) error {
	return nil
}

func testEngineConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		StepTimeout:             time.Second,
		CompositionTimeout:      2 * time.Second,
		MaxSteps:                20,
		MaxIterationConcurrency: 4,
	}
}

func newTestEngine(executor types.ToolExecutor, alternatives AlternativeProvider) *Engine {
	return New(executor, nil, alternatives, testEngineConfig(), nil)
}

// digestComposition searches emails, then summarizes each one individually.
func digestComposition() *composition.Composition {
	input := types.NewObjectSchema()
	input.AddProperty("folder", types.NewStringSchema())
	input.AddRequired("folder")

	output := types.NewObjectSchema()
	output.AddProperty("summaries", types.NewArraySchema(types.NewStringSchema()))

	return &composition.Composition{
		ID:         "comp-digest",
		Name:       "inbox digest",
		IntentType: "summarize_inbox",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{
				ID:            "search",
				Tool:          types.ToolRef{ServerID: "email", ToolID: "search_emails"},
				InputMapping:  map[string]string{"folder": "folder"},
				OutputMapping: map[string]string{"emails": "emails"},
				Required:      true,
			},
			{
				ID:            "summarize",
				Tool:          types.ToolRef{ServerID: "email", ToolID: "summarize_email"},
				InputMapping:  map[string]string{"subject": "item.subject", "body": "item.body"},
				OutputMapping: map[string]string{"summary": "summaries"},
				IterateOver:   "emails",
				Required:      true,
			},
		},
		InputSchema:  input,
		OutputSchema: output,
	}
}

func wireDigestHandlers(executor *scriptedExecutor, emails []any) {
	executor.handle("search_emails", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"emails": emails}, nil
	})
	executor.handle("summarize_email", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"summary": fmt.Sprintf("summary of %v", params["subject"])}, nil
	})
}

func TestExecute_IterationFansOutPerElement(t *testing.T) {
	executor := newScriptedExecutor()
	wireDigestHandlers(executor, []any{
		map[string]any{"subject": "invoice", "body": "pay up"},
		map[string]any{"subject": "standup", "body": "9am"},
	})
	eng := newTestEngine(executor, nil)

	res, err := eng.Execute(context.Background(), digestComposition(), map[string]any{"folder": "inbox"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	// Two emails produce exactly two summaries, in source order.
	summaries, ok := res.Output["summaries"].([]any)
	require.True(t, ok, "summaries should be a list, got %T", res.Output["summaries"])
	require.Len(t, summaries, 2)
	assert.Equal(t, "summary of invoice", summaries[0])
	assert.Equal(t, "summary of standup", summaries[1])

	assert.Equal(t, int64(1), executor.callCount("search_emails"))
	assert.Equal(t, int64(2), executor.callCount("summarize_email"))

	require.Len(t, res.Steps, 2)
	assert.Equal(t, 2, res.Steps[1].Iterations)
}

func TestExecute_EmptyIterationSource(t *testing.T) {
	executor := newScriptedExecutor()
	wireDigestHandlers(executor, []any{})
	eng := newTestEngine(executor, nil)

	res, err := eng.Execute(context.Background(), digestComposition(), map[string]any{"folder": "inbox"})
	require.NoError(t, err)

	summaries, ok := res.Output["summaries"].([]any)
	require.True(t, ok)
	assert.Empty(t, summaries)
	assert.Zero(t, executor.callCount("summarize_email"))
}

func TestExecute_InputValidationFailsFast(t *testing.T) {
	executor := newScriptedExecutor()
	wireDigestHandlers(executor, nil)
	eng := newTestEngine(executor, nil)

	_, err := eng.Execute(context.Background(), digestComposition(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	// No tool ran.
	assert.Zero(t, executor.callCount("search_emails"))
	assert.Zero(t, executor.callCount("summarize_email"))
}

func TestExecute_OutputSatisfiesSchema(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("search_emails", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"emails": []any{}, "debug": "noise"}, nil
	})
	executor.handle("summarize_email", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"summary": "x"}, nil
	})
	eng := newTestEngine(executor, nil)

	comp := digestComposition()
	res, err := eng.Execute(context.Background(), comp, map[string]any{"folder": "inbox"})
	require.NoError(t, err)

	require.NoError(t, comp.OutputSchema.ValidateValue(res.Output))
	// Keys the schema does not declare are projected away.
	_, hasEmails := res.Output["emails"]
	assert.False(t, hasEmails)
	_, hasFolder := res.Output["folder"]
	assert.False(t, hasFolder)
}

func TestExecute_IdempotentRerun(t *testing.T) {
	executor := newScriptedExecutor()
	wireDigestHandlers(executor, []any{
		map[string]any{"subject": "a", "body": "1"},
		map[string]any{"subject": "b", "body": "2"},
	})
	eng := newTestEngine(executor, nil)
	params := map[string]any{"folder": "inbox"}

	first, err := eng.Execute(context.Background(), digestComposition(), params)
	require.NoError(t, err)
	second, err := eng.Execute(context.Background(), digestComposition(), params)
	require.NoError(t, err)

	assert.Equal(t, first.Output, second.Output)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
}

func TestExecute_NoCrossExecutionLeakage(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("echo", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		time.Sleep(time.Duration(len(fmt.Sprint(params["value"]))) * time.Millisecond)
		return map[string]any{"echoed": params["value"]}, nil
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-echo",
		Name:       "echo",
		IntentType: "echo",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{
				ID:            "echo",
				Tool:          types.ToolRef{ServerID: "util", ToolID: "echo"},
				InputMapping:  map[string]string{"value": "value"},
				OutputMapping: map[string]string{"echoed": "result"},
				Required:      true,
			},
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			value := fmt.Sprintf("payload-%d", i)
			res, err := eng.Execute(context.Background(), comp, map[string]any{"value": value})
			assert.NoError(t, err)
			// Each run sees only its own data.
			assert.Equal(t, value, res.Output["result"])
		}()
	}
	wg.Wait()
}

func TestExecute_StepTimeout(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("slow", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		select {
		case <-time.After(time.Second):
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-slow",
		Name:       "slow",
		IntentType: "slow",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{
				ID:       "slow",
				Tool:     types.ToolRef{ServerID: "util", ToolID: "slow"},
				Required: true,
				Timeout:  30 * time.Millisecond,
			},
		},
	}

	res, err := eng.Execute(context.Background(), comp, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Equal(t, "slow", types.FailingStep(err))
	assert.Equal(t, StatusFailure, res.Status)
	assert.True(t, types.IsRetryable(err))

	// The timeout is visible only through the error code, never the status.
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StatusFailure, res.Steps[0].Status)
	assert.Equal(t, types.ErrTimeout, res.Steps[0].ErrorCode)
}

func TestExecute_StepTimeoutFailsRunAndSkipsRemainder(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("first", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	executor.handle("stall", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	executor.handle("last", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-step-budget",
		Name:       "step budget",
		IntentType: "step_budget",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{ID: "one", Tool: types.ToolRef{ServerID: "util", ToolID: "first"}, Required: true},
			{ID: "two", Tool: types.ToolRef{ServerID: "util", ToolID: "stall"}, Required: true, Timeout: 20 * time.Millisecond},
			{ID: "three", Tool: types.ToolRef{ServerID: "util", ToolID: "last"}, Required: true},
		},
	}

	res, err := eng.Execute(context.Background(), comp, nil)
	require.Error(t, err)

	// A step-budget expiry is an ordinary failure with a TIMEOUT error code.
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))

	require.Len(t, res.Steps, 2)
	assert.Equal(t, StatusSuccess, res.Steps[0].Status)
	assert.Equal(t, StatusFailure, res.Steps[1].Status)
	assert.Equal(t, types.ErrTimeout, res.Steps[1].ErrorCode)

	assert.Equal(t, int64(1), executor.callCount("first"))
	assert.Zero(t, executor.callCount("last"))
}

func TestExecute_CompositionTimeoutStopsRemainingSteps(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("fast", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	executor.handle("stall", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	executor.handle("never", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})

	cfg := testEngineConfig()
	cfg.CompositionTimeout = 50 * time.Millisecond
	cfg.StepTimeout = time.Second // per-step budget outlives the whole run
	eng := New(executor, nil, nil, cfg, nil)

	comp := &composition.Composition{
		ID:         "comp-stall",
		Name:       "stall",
		IntentType: "stall",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{ID: "one", Tool: types.ToolRef{ServerID: "util", ToolID: "fast"}, Required: true},
			{ID: "two", Tool: types.ToolRef{ServerID: "util", ToolID: "stall"}, Required: true},
			{ID: "three", Tool: types.ToolRef{ServerID: "util", ToolID: "never"}, Required: true},
		},
	}

	res, err := eng.Execute(context.Background(), comp, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Equal(t, StatusFailure, res.Status)

	// The step after the stall never runs.
	assert.Equal(t, int64(1), executor.callCount("fast"))
	assert.Equal(t, int64(1), executor.callCount("stall"))
	assert.Zero(t, executor.callCount("never"))
}

func TestExecute_CancellationPropagates(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("stall", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-cancel",
		Name:       "cancel",
		IntentType: "cancel",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{ID: "stall", Tool: types.ToolRef{ServerID: "util", ToolID: "stall"}, Required: true},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := eng.Execute(ctx, comp, nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, types.ErrInternal, types.GetErrorCode(err))
}

func TestExecute_OptionalStepSkippedOnFailure(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("flaky", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("upstream down")
	})
	executor.handle("final", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-optional",
		Name:       "optional",
		IntentType: "optional",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{ID: "enrich", Tool: types.ToolRef{ServerID: "util", ToolID: "flaky"}, Required: false},
			{ID: "final", Tool: types.ToolRef{ServerID: "util", ToolID: "final"}, Required: true},
		},
	}

	res, err := eng.Execute(context.Background(), comp, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Skipped)
	assert.Equal(t, StatusFailure, res.Steps[0].Status)
	assert.Equal(t, StatusSuccess, res.Steps[1].Status)

	// The skipped step published nothing.
	_, leaked := res.Output["enrich"]
	assert.False(t, leaked)
}

// fixedAlternative always substitutes the same step.
type fixedAlternative struct {
	step *composition.Step
}

func (f *fixedAlternative) Alternative(ctx context.Context, step composition.Step, cause error) (*composition.Step, error) {
	return f.step, nil
}

func TestExecute_RequiredStepRetriesWithAlternative(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("broken", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("permanently broken")
	})
	executor.handle("backup", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"value": "from backup"}, nil
	})

	alt := &fixedAlternative{step: &composition.Step{
		ID:            "fetch",
		Tool:          types.ToolRef{ServerID: "util", ToolID: "backup"},
		OutputMapping: map[string]string{"value": "value"},
		Required:      true,
	}}
	eng := newTestEngine(executor, alt)

	comp := &composition.Composition{
		ID:         "comp-alt",
		Name:       "alt",
		IntentType: "alt",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{
				ID:            "fetch",
				Tool:          types.ToolRef{ServerID: "util", ToolID: "broken"},
				OutputMapping: map[string]string{"value": "value"},
				Required:      true,
			},
		},
	}

	res, err := eng.Execute(context.Background(), comp, nil)
	require.NoError(t, err)
	assert.Equal(t, "from backup", res.Output["value"])

	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Retried)
	assert.Equal(t, "backup", res.Steps[0].Tool.ToolID)
	assert.Equal(t, int64(1), executor.callCount("broken"))
	assert.Equal(t, int64(1), executor.callCount("backup"))
}

func TestExecute_RequiredStepFailsWithoutAlternative(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("broken", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("permanently broken")
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-fail",
		Name:       "fail",
		IntentType: "fail",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{ID: "fetch", Tool: types.ToolRef{ServerID: "util", ToolID: "broken"}, Required: true},
		},
	}

	res, err := eng.Execute(context.Background(), comp, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrToolExecution, types.GetErrorCode(err))
	assert.Equal(t, "fetch", types.FailingStep(err))
	assert.Equal(t, StatusFailure, res.Status)
}

func TestExecute_MappingFailureIsLoud(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("noop", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	eng := newTestEngine(executor, nil)

	comp := &composition.Composition{
		ID:         "comp-badmap",
		Name:       "badmap",
		IntentType: "badmap",
		Version:    1,
		Status:     composition.StatusLearning,
		Steps: []composition.Step{
			{
				ID:           "only",
				Tool:         types.ToolRef{ServerID: "util", ToolID: "noop"},
				InputMapping: map[string]string{"x": "missing.path"},
				Required:     true,
			},
		},
	}

	_, err := eng.Execute(context.Background(), comp, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMapping, types.GetErrorCode(err))
	assert.Zero(t, executor.callCount("noop"))
}

func TestExecuteAdHoc_PublishesStepOutputs(t *testing.T) {
	executor := newScriptedExecutor()
	executor.handle("lookup", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"city": "Oslo"}, nil
	})
	executor.handle("weather", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		assert.Equal(t, "Oslo", params["city"])
		return map[string]any{"forecast": "rain"}, nil
	})
	eng := newTestEngine(executor, nil)

	steps := []composition.Step{
		{
			ID:            "lookup",
			Tool:          types.ToolRef{ServerID: "geo", ToolID: "lookup"},
			InputMapping:  map[string]string{"user": "user"},
			OutputMapping: map[string]string{"city": "city"},
			Required:      true,
		},
		{
			ID:           "weather",
			Tool:         types.ToolRef{ServerID: "weather", ToolID: "weather"},
			InputMapping: map[string]string{"city": "city"},
			Required:     true,
		},
	}

	res, err := eng.ExecuteAdHoc(context.Background(), steps, map[string]any{"user": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Oslo", res.Output["city"])

	weather, ok := res.Output["weather"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rain", weather["forecast"])
}

func TestExecute_IterationBranchFailureAbortsStep(t *testing.T) {
	executor := newScriptedExecutor()
	var calls atomic.Int64
	executor.handle("search_emails", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"emails": []any{
			map[string]any{"subject": "ok", "body": "fine"},
			map[string]any{"subject": "poison", "body": "bad"},
		}}, nil
	})
	executor.handle("summarize_email", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		calls.Add(1)
		if params["subject"] == "poison" {
			return nil, fmt.Errorf("cannot summarize")
		}
		return map[string]any{"summary": "fine"}, nil
	})
	eng := newTestEngine(executor, nil)

	res, err := eng.Execute(context.Background(), digestComposition(), map[string]any{"folder": "inbox"})
	require.Error(t, err)
	assert.Equal(t, types.ErrToolExecution, types.GetErrorCode(err))
	assert.Equal(t, StatusFailure, res.Status)

	// The failed fan-out published nothing.
	_, leaked := res.Output["summaries"]
	assert.False(t, leaked)
}
