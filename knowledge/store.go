package knowledge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/albertlabs/composer/types"
)

// Store persists knowledge records.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Query(ctx context.Context, filter Filter) ([]Record, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// recordRow is the relational shape of a Record. Step outcomes are stored as
// a JSON document; they are only ever read back whole.
type recordRow struct {
	ID            string    `gorm:"primaryKey;size:36"`
	ExecutionID   string    `gorm:"size:36;index"`
	CompositionID string    `gorm:"size:36;index:idx_knowledge_comp_status"`
	IntentType    string    `gorm:"size:100"`
	Status        string    `gorm:"size:20;index:idx_knowledge_comp_status"`
	Steps         string    `gorm:"type:text"`
	StartedAt     time.Time `gorm:"index"`
	FinishedAt    time.Time
}

func (recordRow) TableName() string {
	return "composer_knowledge_records"
}

// GormStore is the relational Store implementation.
type GormStore struct {
	db           *gorm.DB
	defaultLimit int
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a Store over an open gorm connection and ensures the
// table exists.
func NewGormStore(db *gorm.DB, defaultLimit int) (*GormStore, error) {
	if defaultLimit <= 0 {
		defaultLimit = 500
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, types.NewError(types.ErrStorage, "knowledge table migration failed").WithCause(err)
	}
	return &GormStore{db: db, defaultLimit: defaultLimit}, nil
}

// Insert writes one immutable record. The record ID is assigned here when
// absent; records are never updated afterwards.
func (s *GormStore) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to encode step outcomes").WithCause(err)
	}

	row := recordRow{
		ID:            rec.ID,
		ExecutionID:   rec.ExecutionID,
		CompositionID: rec.CompositionID,
		IntentType:    rec.IntentType,
		Status:        string(rec.Status),
		Steps:         string(steps),
		StartedAt:     rec.StartedAt,
		FinishedAt:    rec.FinishedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.NewError(types.ErrStorage, "failed to insert knowledge record").WithCause(err).WithRetryable(true)
	}
	return nil
}

// Query returns records matching the filter, newest first, capped by the
// filter limit or the store default.
func (s *GormStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > s.defaultLimit {
		limit = s.defaultLimit
	}

	q := s.db.WithContext(ctx).Model(&recordRow{})
	if filter.CompositionID != "" {
		q = q.Where("composition_id = ?", filter.CompositionID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q = q.Where("started_at >= ?", filter.Since)
	}

	var rows []recordRow
	if err := q.Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "knowledge query failed").WithCause(err).WithRetryable(true)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Prune deletes records that started before the cutoff and returns the count.
func (s *GormStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("started_at < ?", before).Delete(&recordRow{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrStorage, "knowledge prune failed").WithCause(res.Error).WithRetryable(true)
	}
	return res.RowsAffected, nil
}

func (row recordRow) toRecord() (Record, error) {
	var steps []StepOutcome
	if row.Steps != "" {
		if err := json.Unmarshal([]byte(row.Steps), &steps); err != nil {
			return Record{}, types.NewError(types.ErrStorage, "corrupt step outcomes").WithCause(err)
		}
	}
	return Record{
		ID:            row.ID,
		ExecutionID:   row.ExecutionID,
		CompositionID: row.CompositionID,
		IntentType:    row.IntentType,
		Status:        ExecutionStatus(row.Status),
		Steps:         steps,
		StartedAt:     row.StartedAt,
		FinishedAt:    row.FinishedAt,
	}, nil
}
