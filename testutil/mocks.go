package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/albertlabs/composer/types"
)

// ToolCall records one ExecuteTool invocation.
type ToolCall struct {
	Ref    types.ToolRef
	Params map[string]any
}

// MockExecutor is a scriptable, thread-safe types.ToolExecutor. Handlers are
// keyed by the canonical "server/tool" form; searches match the query against
// tool names and descriptions.
type MockExecutor struct {
	mu        sync.Mutex
	handlers  map[string]func(params map[string]any) (map[string]any, error)
	tools     []types.ToolDescriptor
	calls     []ToolCall
	published map[string]types.ToolDescriptor
}

// NewMockExecutor creates an empty mock executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		handlers:  make(map[string]func(params map[string]any) (map[string]any, error)),
		published: make(map[string]types.ToolDescriptor),
	}
}

// Handle registers a handler for a tool reference.
func (m *MockExecutor) Handle(ref types.ToolRef, fn func(params map[string]any) (map[string]any, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[ref.String()] = fn
}

// AddTool adds a catalog entry returned by SearchTools.
func (m *MockExecutor) AddTool(desc types.ToolDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append(m.tools, desc)
}

// Calls returns a copy of all recorded tool invocations.
func (m *MockExecutor) Calls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Published returns the descriptors published so far, keyed by "server/tool".
func (m *MockExecutor) Published() map[string]types.ToolDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.ToolDescriptor, len(m.published))
	for k, v := range m.published {
		out[k] = v
	}
	return out
}

func (m *MockExecutor) SearchTools(ctx context.Context, query string, limit int) ([]types.ToolDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	var out []types.ToolDescriptor
	for _, tool := range m.tools {
		haystack := strings.ToLower(tool.Name + " " + tool.Description)
		matched := len(terms) == 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched = true
				break
			}
		}
		if matched {
			out = append(out, tool)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockExecutor) ExecuteTool(ctx context.Context, ref types.ToolRef, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{Ref: ref, Params: params})
	handler := m.handlers[ref.String()]
	m.mu.Unlock()

	if handler == nil {
		return nil, types.Errorf(types.ErrToolExecution, "no handler for %s", ref.String())
	}
	return handler(params)
}

func (m *MockExecutor) PublishTool(ctx context.Context, desc types.ToolDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[desc.Ref.String()] = desc
	return nil
}

func (m *MockExecutor) UnpublishTool(ctx context.Context, ref types.ToolRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.published[ref.String()]; !ok {
		return fmt.Errorf("tool %s not published", ref.String())
	}
	delete(m.published, ref.String())
	return nil
}

var _ types.ToolExecutor = (*MockExecutor)(nil)
