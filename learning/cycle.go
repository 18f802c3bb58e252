package learning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/knowledge"
	"github.com/albertlabs/composer/registry"
)

// Cycle runs the learning loop in the background: prune stale knowledge,
// evaluate every active composition and apply at most one optimization each.
// A failure on one composition never blocks the others.
type Cycle struct {
	registry  *registry.Registry
	optimizer *Optimizer
	monitor   *knowledge.Monitor
	cfg       config.LearningConfig
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewCycle creates a learning Cycle.
func NewCycle(reg *registry.Registry, optimizer *Optimizer, monitor *knowledge.Monitor, cfg config.LearningConfig, logger *zap.Logger) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Cycle{
		registry:  reg,
		optimizer: optimizer,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "learning_cycle")),
		done:      make(chan struct{}),
	}
}

// Start launches the cycle goroutine. A disabled cycle starts nothing.
func (c *Cycle) Start(ctx context.Context) {
	if !c.cfg.Enabled {
		c.logger.Info("learning cycle disabled")
		close(c.done)
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		c.logger.Info("learning cycle started", zap.Duration("interval", c.cfg.Interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the cycle and waits for the in-flight pass to finish.
func (c *Cycle) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		<-c.done
	})
}

// RunOnce executes a single learning pass.
func (c *Cycle) RunOnce(ctx context.Context) {
	start := time.Now()

	if c.monitor != nil {
		if pruned, err := c.monitor.Prune(ctx); err != nil {
			c.logger.Warn("knowledge pruning failed", zap.Error(err))
		} else if pruned > 0 {
			c.logger.Info("pruned stale knowledge records", zap.Int64("records", pruned))
		}
	}

	comps, err := c.registry.ListActive(ctx)
	if err != nil {
		c.logger.Error("failed to list compositions", zap.Error(err))
		return
	}

	var applied int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	var mu sync.Mutex
	for _, comp := range comps {
		comp := comp
		g.Go(func() error {
			result, err := c.optimizer.Optimize(gctx, comp.ID)
			if err != nil {
				// Isolated: one broken composition must not stop the pass.
				c.logger.Warn("optimization failed",
					zap.String("composition_id", comp.ID),
					zap.Error(err))
				return nil
			}
			if result.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("learning pass finished",
		zap.Int("compositions", len(comps)),
		zap.Int64("optimizations", applied),
		zap.Duration("took", time.Since(start)))
}
