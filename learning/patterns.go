package learning

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/knowledge"
	"github.com/albertlabs/composer/types"
)

// SequencePattern is a tool chain observed to complete successfully, with how
// often the knowledge base saw it.
type SequencePattern struct {
	Tools []types.ToolRef `json:"tools"`
	Count int             `json:"count"`
}

// FailurePattern groups recorded step failures by step identity and error
// code. The pair is the unit the generator conditions its proposals on.
type FailurePattern struct {
	StepID    string        `json:"step_id"`
	Tool      types.ToolRef `json:"tool"`
	ErrorCode string        `json:"error_code,omitempty"`
	Count     int           `json:"count"`
}

// Patterns is the mined view of one composition's execution history.
type Patterns struct {
	CompositionID string            `json:"composition_id"`
	Samples       int               `json:"samples"`
	Sequences     []SequencePattern `json:"sequences,omitempty"`
	Failures      []FailurePattern  `json:"failures,omitempty"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// Miner extracts recurring success sequences and failure modes from the
// knowledge base.
type Miner struct {
	monitor *knowledge.Monitor
	logger  *zap.Logger
}

// NewMiner creates a Miner.
func NewMiner(monitor *knowledge.Monitor, logger *zap.Logger) *Miner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{
		monitor: monitor,
		logger:  logger.With(zap.String("component", "pattern_miner")),
	}
}

// Mine aggregates the recorded executions of one composition. Success
// sequences are the tool chains of succeeding invocations with skipped steps
// left out; failure patterns count failing steps per error code. Both lists
// come back most frequent first, ties broken deterministically.
func (m *Miner) Mine(ctx context.Context, compositionID string) (*Patterns, error) {
	records, err := m.monitor.Query(ctx, knowledge.Filter{CompositionID: compositionID})
	if err != nil {
		return nil, err
	}

	patterns := &Patterns{
		CompositionID: compositionID,
		Samples:       len(records),
		GeneratedAt:   time.Now(),
	}
	if len(records) == 0 {
		return patterns, nil
	}

	sequences := make(map[string]*SequencePattern)
	failures := make(map[string]*FailurePattern)

	for _, rec := range records {
		if rec.Status == knowledge.StatusSuccess {
			tools := make([]types.ToolRef, 0, len(rec.Steps))
			parts := make([]string, 0, len(rec.Steps))
			for _, outcome := range rec.Steps {
				if outcome.Skipped {
					continue
				}
				tools = append(tools, outcome.Tool)
				parts = append(parts, outcome.Tool.String())
			}
			if len(tools) == 0 {
				continue
			}
			key := strings.Join(parts, ",")
			if seq, ok := sequences[key]; ok {
				seq.Count++
			} else {
				sequences[key] = &SequencePattern{Tools: tools, Count: 1}
			}
			continue
		}

		for _, outcome := range rec.Steps {
			if outcome.Skipped || outcome.Status == string(knowledge.StatusSuccess) {
				continue
			}
			key := outcome.StepID + "|" + outcome.ErrorCode
			if fp, ok := failures[key]; ok {
				fp.Count++
			} else {
				failures[key] = &FailurePattern{
					StepID:    outcome.StepID,
					Tool:      outcome.Tool,
					ErrorCode: outcome.ErrorCode,
					Count:     1,
				}
			}
		}
	}

	for _, seq := range sequences {
		patterns.Sequences = append(patterns.Sequences, *seq)
	}
	sort.Slice(patterns.Sequences, func(i, j int) bool {
		a, b := patterns.Sequences[i], patterns.Sequences[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return sequenceKey(a.Tools) < sequenceKey(b.Tools)
	})

	for _, fp := range failures {
		patterns.Failures = append(patterns.Failures, *fp)
	}
	sort.Slice(patterns.Failures, func(i, j int) bool {
		a, b := patterns.Failures[i], patterns.Failures[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.StepID != b.StepID {
			return a.StepID < b.StepID
		}
		return a.ErrorCode < b.ErrorCode
	})

	return patterns, nil
}

func sequenceKey(tools []types.ToolRef) string {
	parts := make([]string, len(tools))
	for i, ref := range tools {
		parts[i] = ref.String()
	}
	return strings.Join(parts, ",")
}
