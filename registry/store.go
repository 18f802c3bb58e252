// Package registry owns composition definitions: relational persistence, the
// Redis semantic index with a token-overlap fallback, registration, stats
// accounting with threshold-based promotion, and catalog exposure of
// validated compositions.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/types"
)

// Store persists compositions. Implementations must treat Save as an upsert
// keyed by ID.
type Store interface {
	Get(ctx context.Context, id string) (*composition.Composition, error)
	ListByIntent(ctx context.Context, intentType string, statuses []composition.Status) ([]*composition.Composition, error)
	List(ctx context.Context, statuses []composition.Status) ([]*composition.Composition, error)
	Save(ctx context.Context, comp *composition.Composition) error
	SaveTx(tx *gorm.DB, comp *composition.Composition) error
}

// compositionRow is the relational shape of a Composition. Steps, schemas
// and history are JSON documents; counters are columns so promotion queries
// stay cheap.
type compositionRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	IntentType  string `gorm:"size:100;index:idx_composition_intent_status"`
	Version     int    `gorm:"not null"`
	Status      string `gorm:"size:20;index:idx_composition_intent_status"`

	Steps        string `gorm:"type:text"`
	InputSchema  string `gorm:"type:text"`
	OutputSchema string `gorm:"type:text"`
	History      string `gorm:"type:text"`

	UsageCount     int64 `gorm:"default:0"`
	SuccessCount   int64 `gorm:"default:0"`
	TotalDurationN int64 `gorm:"default:0"`
	SuccessRate    float64
	AvgDurationN   int64 `gorm:"default:0"`
	LastExecutedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (compositionRow) TableName() string {
	return "composer_compositions"
}

// GormStore is the relational Store implementation.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a Store over an open gorm connection and ensures the
// table exists.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&compositionRow{}); err != nil {
		return nil, types.NewError(types.ErrStorage, "composition table migration failed").WithCause(err)
	}
	return &GormStore{db: db}, nil
}

// Get loads one composition by ID.
func (s *GormStore) Get(ctx context.Context, id string) (*composition.Composition, error) {
	var row compositionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrCompositionNotFound, "composition %s not found", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "composition load failed").WithCause(err).WithRetryable(true)
	}
	return row.toComposition()
}

// ListByIntent returns compositions for an intent type, filtered by status.
func (s *GormStore) ListByIntent(ctx context.Context, intentType string, statuses []composition.Status) ([]*composition.Composition, error) {
	q := s.db.WithContext(ctx).Model(&compositionRow{}).Where("intent_type = ?", intentType)
	return s.list(q, statuses)
}

// List returns all compositions, optionally filtered by status.
func (s *GormStore) List(ctx context.Context, statuses []composition.Status) ([]*composition.Composition, error) {
	return s.list(s.db.WithContext(ctx).Model(&compositionRow{}), statuses)
}

func (s *GormStore) list(q *gorm.DB, statuses []composition.Status) ([]*composition.Composition, error) {
	if len(statuses) > 0 {
		vals := make([]string, len(statuses))
		for i, st := range statuses {
			vals[i] = string(st)
		}
		q = q.Where("status IN ?", vals)
	}

	var rows []compositionRow
	if err := q.Order("updated_at DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "composition list failed").WithCause(err).WithRetryable(true)
	}

	out := make([]*composition.Composition, 0, len(rows))
	for _, row := range rows {
		comp, err := row.toComposition()
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, nil
}

// Save upserts a composition.
func (s *GormStore) Save(ctx context.Context, comp *composition.Composition) error {
	return s.SaveTx(s.db.WithContext(ctx), comp)
}

// SaveTx upserts within a caller-owned transaction.
func (s *GormStore) SaveTx(tx *gorm.DB, comp *composition.Composition) error {
	row, err := toRow(comp)
	if err != nil {
		return err
	}
	if err := tx.Save(row).Error; err != nil {
		return types.NewError(types.ErrStorage, "composition save failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

func toRow(comp *composition.Composition) (*compositionRow, error) {
	steps, err := json.Marshal(comp.Steps)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to encode steps").WithCause(err)
	}
	history, err := json.Marshal(comp.OptimizationHistory)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to encode history").WithCause(err)
	}

	row := &compositionRow{
		ID:          comp.ID,
		Name:        comp.Name,
		Description: comp.Description,
		IntentType:  comp.IntentType,
		Version:     comp.Version,
		Status:      string(comp.Status),
		Steps:       string(steps),
		History:     string(history),

		UsageCount:     comp.Stats.UsageCount,
		SuccessCount:   comp.Stats.SuccessCount,
		TotalDurationN: int64(comp.Stats.TotalDuration),
		SuccessRate:    comp.Stats.SuccessRate,
		AvgDurationN:   int64(comp.Stats.AvgDuration),
		LastExecutedAt: comp.Stats.LastExecutedAt,

		CreatedAt: comp.CreatedAt,
		UpdatedAt: comp.UpdatedAt,
	}

	if comp.InputSchema != nil {
		data, err := comp.InputSchema.ToJSON()
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "failed to encode input schema").WithCause(err)
		}
		row.InputSchema = string(data)
	}
	if comp.OutputSchema != nil {
		data, err := comp.OutputSchema.ToJSON()
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "failed to encode output schema").WithCause(err)
		}
		row.OutputSchema = string(data)
	}
	return row, nil
}

func (row compositionRow) toComposition() (*composition.Composition, error) {
	comp := &composition.Composition{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		IntentType:  row.IntentType,
		Version:     row.Version,
		Status:      composition.Status(row.Status),
		Stats: composition.Stats{
			UsageCount:     row.UsageCount,
			SuccessCount:   row.SuccessCount,
			TotalDuration:  time.Duration(row.TotalDurationN),
			SuccessRate:    row.SuccessRate,
			AvgDuration:    time.Duration(row.AvgDurationN),
			LastExecutedAt: row.LastExecutedAt,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	if row.Steps != "" {
		if err := json.Unmarshal([]byte(row.Steps), &comp.Steps); err != nil {
			return nil, types.NewError(types.ErrStorage, "corrupt composition steps").WithCause(err)
		}
	}
	if row.History != "" {
		if err := json.Unmarshal([]byte(row.History), &comp.OptimizationHistory); err != nil {
			return nil, types.NewError(types.ErrStorage, "corrupt optimization history").WithCause(err)
		}
	}
	if row.InputSchema != "" {
		schema, err := types.FromJSON([]byte(row.InputSchema))
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "corrupt input schema").WithCause(err)
		}
		comp.InputSchema = schema
	}
	if row.OutputSchema != "" {
		schema, err := types.FromJSON([]byte(row.OutputSchema))
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "corrupt output schema").WithCause(err)
		}
		comp.OutputSchema = schema
	}
	return comp, nil
}
