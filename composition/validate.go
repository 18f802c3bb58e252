package composition

import (
	"strings"

	"github.com/albertlabs/composer/types"
)

// LoopVariable is the namespace key bound to the current element inside an
// iterating step.
const LoopVariable = "item"

// Validate checks the composition's structural invariants: step count bounds,
// unique non-empty step IDs, complete tool references, and mapping
// expressions whose roots resolve to the input schema or to a key published
// by an earlier step. Iteration sources must reference earlier output, which
// makes the data flow acyclic by construction.
func (c *Composition) Validate(maxSteps int) error {
	if c.Name == "" {
		return types.NewError(types.ErrValidation, "composition name is required")
	}
	if c.IntentType == "" {
		return types.NewError(types.ErrValidation, "composition intent_type is required")
	}
	if len(c.Steps) == 0 {
		return types.NewError(types.ErrValidation, "composition has no steps")
	}
	if maxSteps > 0 && len(c.Steps) > maxSteps {
		return types.Errorf(types.ErrValidation, "composition has %d steps, limit is %d", len(c.Steps), maxSteps)
	}
	if c.Status != StatusLearning && c.Status != StatusValidated && c.Status != StatusDeprecated {
		return types.Errorf(types.ErrValidation, "unknown status %q", c.Status)
	}

	// Keys visible to each step: input schema properties plus everything
	// published earlier.
	visible := make(map[string]bool)
	if c.InputSchema != nil {
		for name := range c.InputSchema.Properties {
			visible[name] = true
		}
	}

	seen := make(map[string]bool, len(c.Steps))
	for i, step := range c.Steps {
		if step.ID == "" {
			return types.Errorf(types.ErrValidation, "step %d has no id", i)
		}
		if seen[step.ID] {
			return types.Errorf(types.ErrValidation, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if err := step.Tool.Validate(); err != nil {
			return types.Errorf(types.ErrValidation, "step %q: invalid tool reference", step.ID).WithCause(err)
		}

		if step.IterateOver != "" {
			root, ok := exprRoot(step.IterateOver)
			if !ok {
				return types.Errorf(types.ErrValidation, "step %q: iteration source must be a path, got %q", step.ID, step.IterateOver)
			}
			if !visible[root] {
				return types.Errorf(types.ErrValidation, "step %q: iteration source %q does not reference input or an earlier step", step.ID, step.IterateOver)
			}
		}

		for param, expr := range step.InputMapping {
			root, ok := exprRoot(expr)
			if !ok {
				continue // literal
			}
			if step.IterateOver != "" && root == LoopVariable {
				continue
			}
			if !visible[root] {
				return types.Errorf(types.ErrValidation, "step %q: input %q references unknown source %q", step.ID, param, expr)
			}
		}

		for _, published := range step.PublishedKeys() {
			if published == "" {
				return types.Errorf(types.ErrValidation, "step %q publishes an empty key", step.ID)
			}
			visible[published] = true
		}
	}

	return nil
}

// exprRoot extracts the leading identifier of a path expression. Quoted
// literals have no root; the converter suffix is ignored.
func exprRoot(expr string) (string, bool) {
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 {
		first, last := expr[0], expr[len(expr)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return "", false
		}
	}
	if idx := strings.Index(expr, "|"); idx >= 0 {
		expr = strings.TrimSpace(expr[:idx])
	}
	if idx := strings.IndexAny(expr, ".["); idx >= 0 {
		expr = expr[:idx]
	}
	if expr == "" {
		return "", false
	}
	return expr, true
}
