package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/internal/cache"
	"github.com/albertlabs/composer/internal/database"
	"github.com/albertlabs/composer/internal/textutil"
	"github.com/albertlabs/composer/types"
)

// Registry is the facade over composition persistence, indexing, promotion
// and catalog exposure.
type Registry struct {
	store    Store
	index    *Index
	executor types.ToolExecutor
	pool     *database.Pool
	cache    *cache.Manager
	cfg      config.RegistryConfig
	logger   *zap.Logger

	// locks serializes mutations per composition ID so stats updates and
	// optimizer rewrites never interleave.
	locks sync.Map
}

// New creates a Registry. The index and pool are optional: without an index,
// Search degrades to token overlap over the store; without a pool, saves run
// outside a retrying transaction.
func New(store Store, index *Index, executor types.ToolExecutor, pool *database.Pool, cfg config.RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinExecutions <= 0 {
		cfg.MinExecutions = 5
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.7
	}
	return &Registry{
		store:    store,
		index:    index,
		executor: executor,
		pool:     pool,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "registry")),
	}
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// UseCache puts a read-through cache in front of FindByID. Writes invalidate
// the cached entry.
func (r *Registry) UseCache(c *cache.Manager) {
	r.cache = c
}

// FindByID loads one composition, consulting the cache first when one is
// attached.
func (r *Registry) FindByID(ctx context.Context, id string) (*composition.Composition, error) {
	if r.cache != nil {
		var cached composition.Composition
		err := r.cache.GetJSON(ctx, "composition:"+id, &cached)
		if err == nil {
			return &cached, nil
		}
		if !cache.IsCacheMiss(err) {
			r.logger.Warn("composition cache read failed", zap.String("composition_id", id), zap.Error(err))
		}
	}

	comp, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, "composition:"+id, comp, 0); err != nil {
			r.logger.Warn("composition cache write failed", zap.String("composition_id", id), zap.Error(err))
		}
	}
	return comp, nil
}

// FindByIntent returns compositions for an intent type. With validatedOnly
// the result is restricted to validated compositions; otherwise deprecated
// ones are still excluded.
func (r *Registry) FindByIntent(ctx context.Context, intentType string, validatedOnly bool) ([]*composition.Composition, error) {
	statuses := []composition.Status{composition.StatusValidated}
	if !validatedOnly {
		statuses = append(statuses, composition.StatusLearning)
	}
	return r.store.ListByIntent(ctx, intentType, statuses)
}

// Search ranks compositions against a natural-language query. The semantic
// index is consulted first; when it is unavailable the registry falls back to
// token-overlap scoring over the store listing. Ties are broken
// deterministically by most-recently-updated, then ID.
func (r *Registry) Search(ctx context.Context, query string, topK int, validatedOnly bool) ([]*composition.Composition, error) {
	if topK <= 0 {
		topK = r.cfg.SearchTopK
	}
	statuses := []composition.Status{composition.StatusValidated}
	if !validatedOnly {
		statuses = append(statuses, composition.StatusLearning)
	}

	if r.index != nil {
		if results, err := r.index.Search(ctx, query, 0, r.cfg.SimilarityThreshold); err == nil {
			return r.resolveSearchHits(ctx, results, topK, statuses)
		} else {
			r.logger.Warn("semantic index unavailable, falling back to token overlap", zap.Error(err))
		}
	}
	return r.fallbackSearch(ctx, query, topK, statuses)
}

func (r *Registry) resolveSearchHits(ctx context.Context, hits []scored, topK int, statuses []composition.Status) ([]*composition.Composition, error) {
	allowed := make(map[composition.Status]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}

	type hit struct {
		comp  *composition.Composition
		score float64
	}
	resolved := make([]hit, 0, len(hits))
	for _, h := range hits {
		comp, err := r.store.Get(ctx, h.ID)
		if err != nil {
			if types.IsCode(err, types.ErrCompositionNotFound) {
				continue // stale index entry
			}
			return nil, err
		}
		if allowed[comp.Status] {
			resolved = append(resolved, hit{comp: comp, score: h.Score})
		}
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].score != resolved[j].score {
			return resolved[i].score > resolved[j].score
		}
		if !resolved[i].comp.UpdatedAt.Equal(resolved[j].comp.UpdatedAt) {
			return resolved[i].comp.UpdatedAt.After(resolved[j].comp.UpdatedAt)
		}
		return resolved[i].comp.ID < resolved[j].comp.ID
	})

	if len(resolved) > topK {
		resolved = resolved[:topK]
	}
	out := make([]*composition.Composition, len(resolved))
	for i, h := range resolved {
		out[i] = h.comp
	}
	return out, nil
}

func (r *Registry) fallbackSearch(ctx context.Context, query string, topK int, statuses []composition.Status) ([]*composition.Composition, error) {
	comps, err := r.store.List(ctx, statuses)
	if err != nil {
		return nil, err
	}

	queryTokens := textutil.Tokenize(query)
	type hit struct {
		comp  *composition.Composition
		score float64
	}
	hits := make([]hit, 0, len(comps))
	for _, comp := range comps {
		score := tokenOverlap(queryTokens, textutil.Tokenize(IndexText(comp)))
		if score > 0 {
			hits = append(hits, hit{comp: comp, score: score})
		}
	}

	// The store listing is already ordered by updated_at DESC, id ASC, so a
	// stable sort by score gives the deterministic tie-break.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]*composition.Composition, len(hits))
	for i, h := range hits {
		out[i] = h.comp
	}
	return out, nil
}

// ListActive returns every composition still in play, learning and validated
// alike.
func (r *Registry) ListActive(ctx context.Context) ([]*composition.Composition, error) {
	return r.store.List(ctx, []composition.Status{composition.StatusLearning, composition.StatusValidated})
}

// List returns compositions filtered by status; no statuses means all of
// them, deprecated included.
func (r *Registry) List(ctx context.Context, statuses ...composition.Status) ([]*composition.Composition, error) {
	return r.store.List(ctx, statuses)
}

// Register validates, persists and optionally indexes a composition,
// assigning its identity and timestamps. Validated compositions are exposed
// in the tool catalog.
func (r *Registry) Register(ctx context.Context, comp *composition.Composition, index bool) (string, error) {
	if comp.Status == "" {
		comp.Status = composition.StatusLearning
	}
	if comp.Version == 0 {
		comp.Version = 1
	}
	if err := comp.Validate(0); err != nil {
		return "", err
	}

	now := time.Now()
	if comp.ID == "" {
		comp.ID = uuid.NewString()
		comp.CreatedAt = now
	}
	if comp.CreatedAt.IsZero() {
		comp.CreatedAt = now
	}
	comp.UpdatedAt = now

	if err := r.save(ctx, comp); err != nil {
		return "", err
	}

	if index && r.index != nil {
		if err := r.index.Add(ctx, comp); err != nil {
			r.logger.Warn("failed to index composition",
				zap.String("composition_id", comp.ID),
				zap.Error(err))
		}
	}

	if comp.Status == composition.StatusValidated {
		r.publish(ctx, comp)
	}

	r.logger.Info("composition registered",
		zap.String("composition_id", comp.ID),
		zap.String("name", comp.Name),
		zap.String("status", string(comp.Status)))
	return comp.ID, nil
}

// UpdateStats folds one execution outcome into the composition's counters and
// promotes it when both thresholds are met. Persistence is synchronous;
// returns the updated composition and whether this call promoted it.
func (r *Registry) UpdateStats(ctx context.Context, id string, success bool, duration time.Duration) (*composition.Composition, bool, error) {
	var promoted bool
	comp, err := r.Mutate(ctx, id, func(comp *composition.Composition) error {
		comp.Stats.RecordOutcome(success, duration, time.Now())
		comp.UpdatedAt = time.Now()

		if comp.Status == composition.StatusLearning &&
			comp.Stats.UsageCount >= int64(r.cfg.MinExecutions) &&
			comp.Stats.SuccessRate >= r.cfg.MinSuccessRate {
			comp.Status = composition.StatusValidated
			promoted = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if promoted {
		r.publish(ctx, comp)
		r.logger.Info("composition promoted",
			zap.String("composition_id", comp.ID),
			zap.Int64("usage_count", comp.Stats.UsageCount),
			zap.Float64("success_rate", comp.Stats.SuccessRate))
	}
	return comp, promoted, nil
}

// Deprecate retires a composition and withdraws its catalog entry.
func (r *Registry) Deprecate(ctx context.Context, id string) (*composition.Composition, error) {
	comp, err := r.Mutate(ctx, id, func(comp *composition.Composition) error {
		if !comp.Status.CanTransition(composition.StatusDeprecated) {
			return types.Errorf(types.ErrValidation, "cannot deprecate composition in status %q", comp.Status)
		}
		comp.Status = composition.StatusDeprecated
		comp.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.unpublish(ctx, comp.ID)
	if r.index != nil {
		if err := r.index.Remove(ctx, comp.ID); err != nil {
			r.logger.Warn("failed to remove index entry", zap.String("composition_id", comp.ID), zap.Error(err))
		}
	}
	r.logger.Info("composition deprecated", zap.String("composition_id", comp.ID))
	return comp, nil
}

// Rollback undoes the most recent step replacement, restoring the snapshotted
// step under a new version.
func (r *Registry) Rollback(ctx context.Context, id string) (*composition.Composition, error) {
	comp, err := r.Mutate(ctx, id, func(comp *composition.Composition) error {
		var entry *composition.OptimizationRecord
		for i := len(comp.OptimizationHistory) - 1; i >= 0; i-- {
			if comp.OptimizationHistory[i].PreviousStep != nil && comp.OptimizationHistory[i].Kind != "rollback" {
				entry = &comp.OptimizationHistory[i]
				break
			}
		}
		if entry == nil {
			return types.Errorf(types.ErrValidation, "composition %s has no reversible optimization", id)
		}

		restored := false
		for i := range comp.Steps {
			if comp.Steps[i].ID == entry.StepID {
				comp.Steps[i] = *entry.PreviousStep
				restored = true
				break
			}
		}
		if !restored {
			return types.Errorf(types.ErrValidation, "step %q from history no longer exists", entry.StepID)
		}

		comp.BumpVersion("rollback", entry.StepID, "restored step from version "+itoa(entry.Version-1), time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.index != nil {
		if err := r.index.Add(ctx, comp); err != nil {
			r.logger.Warn("failed to re-index after rollback", zap.String("composition_id", comp.ID), zap.Error(err))
		}
	}
	r.logger.Info("composition rolled back",
		zap.String("composition_id", comp.ID),
		zap.Int("version", comp.Version))
	return comp, nil
}

// Mutate loads a composition, applies fn and persists the result, all under
// the per-ID lock. The mutation runs inside a retrying transaction when a
// pool is available.
func (r *Registry) Mutate(ctx context.Context, id string, fn func(*composition.Composition) error) (*composition.Composition, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	comp, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(comp); err != nil {
		return nil, err
	}

	if err := r.save(ctx, comp); err != nil {
		return nil, err
	}
	return comp, nil
}

func (r *Registry) save(ctx context.Context, comp *composition.Composition) error {
	var err error
	if r.pool != nil {
		err = r.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
			return r.store.SaveTx(tx, comp)
		})
	} else {
		err = r.store.Save(ctx, comp)
	}
	if err != nil {
		return err
	}

	if r.cache != nil {
		if cerr := r.cache.Delete(ctx, "composition:"+comp.ID); cerr != nil {
			r.logger.Warn("composition cache invalidation failed",
				zap.String("composition_id", comp.ID), zap.Error(cerr))
		}
	}
	return nil
}

// Reconcile re-derives catalog exposure from stored status. Exposure is
// idempotent, so running this at startup repairs any crash between a
// promotion write and its publish.
func (r *Registry) Reconcile(ctx context.Context) error {
	comps, err := r.store.List(ctx, nil)
	if err != nil {
		return err
	}

	published, withdrawn := 0, 0
	for _, comp := range comps {
		if comp.Status == composition.StatusValidated {
			r.publish(ctx, comp)
			if r.index != nil {
				if err := r.index.Add(ctx, comp); err != nil {
					r.logger.Warn("reconcile: failed to index composition",
						zap.String("composition_id", comp.ID), zap.Error(err))
				}
			}
			published++
		} else if comp.Status == composition.StatusDeprecated {
			r.unpublish(ctx, comp.ID)
			withdrawn++
		}
	}

	r.logger.Info("registry reconciled",
		zap.Int("compositions", len(comps)),
		zap.Int("published", published),
		zap.Int("withdrawn", withdrawn))
	return nil
}

func (r *Registry) publish(ctx context.Context, comp *composition.Composition) {
	if r.executor == nil {
		return
	}
	if err := r.executor.PublishTool(ctx, comp.ToolDescriptor()); err != nil {
		r.logger.Warn("failed to publish composition to catalog",
			zap.String("composition_id", comp.ID),
			zap.Error(err))
	}
}

func (r *Registry) unpublish(ctx context.Context, id string) {
	if r.executor == nil {
		return
	}
	if err := r.executor.UnpublishTool(ctx, types.CompositionToolRef(id)); err != nil {
		r.logger.Warn("failed to withdraw composition from catalog",
			zap.String("composition_id", id),
			zap.Error(err))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
