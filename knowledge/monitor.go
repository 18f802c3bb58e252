package knowledge

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor owns the write side of the knowledge base. Record is called exactly
// once per completed or aborted invocation, synchronously after the engine
// returns and never from inside a step.
type Monitor struct {
	store     Store
	retention time.Duration
	logger    *zap.Logger
}

// NewMonitor creates a Monitor over a Store.
func NewMonitor(store Store, retention time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:     store,
		retention: retention,
		logger:    logger.With(zap.String("component", "monitor")),
	}
}

// Record writes one immutable record. A storage failure is logged and
// returned but must not abort the caller's response path.
func (m *Monitor) Record(ctx context.Context, rec *Record) error {
	if err := m.store.Insert(ctx, rec); err != nil {
		m.logger.Error("failed to record execution",
			zap.String("execution_id", rec.ExecutionID),
			zap.String("composition_id", rec.CompositionID),
			zap.Error(err))
		return err
	}
	m.logger.Debug("execution recorded",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("composition_id", rec.CompositionID),
		zap.String("status", string(rec.Status)),
		zap.Int("steps", len(rec.Steps)))
	return nil
}

// Query reads records for the analysis components.
func (m *Monitor) Query(ctx context.Context, filter Filter) ([]Record, error) {
	return m.store.Query(ctx, filter)
}

// Prune drops records older than the retention window.
func (m *Monitor) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-m.retention)
	n, err := m.store.Prune(ctx, cutoff)
	if err != nil {
		m.logger.Error("retention prune failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		m.logger.Info("pruned expired knowledge records",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff))
	}
	return n, nil
}
