package knowledge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/albertlabs/composer/types"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db, 100)
	require.NoError(t, err)
	return store
}

func sampleRecord(compID string, status ExecutionStatus, startedAt time.Time) *Record {
	return &Record{
		ExecutionID:   "exec-" + compID,
		CompositionID: compID,
		IntentType:    "summarize_inbox",
		Status:        status,
		Steps: []StepOutcome{
			{StepID: "search", Tool: types.ToolRef{ServerID: "email", ToolID: "search_emails"}, Status: "success", DurationMs: 40},
			{StepID: "summarize", Tool: types.ToolRef{ServerID: "email", ToolID: "summarize_emails"}, Status: string(status), DurationMs: 120},
		},
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(200 * time.Millisecond),
	}
}

func TestGormStore_InsertAndQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := sampleRecord("comp-1", StatusSuccess, now)
	require.NoError(t, store.Insert(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	got, err := store.Query(ctx, Filter{CompositionID: "comp-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, rec.ExecutionID, got[0].ExecutionID)
	assert.Equal(t, StatusSuccess, got[0].Status)
	require.Len(t, got[0].Steps, 2)
	assert.Equal(t, "search", got[0].Steps[0].StepID)
	assert.Equal(t, "email/search_emails", got[0].Steps[0].Tool.String())
}

func TestGormStore_QueryFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Insert(ctx, sampleRecord("comp-1", StatusSuccess, now.Add(-time.Hour))))
	require.NoError(t, store.Insert(ctx, sampleRecord("comp-1", StatusFailure, now)))
	require.NoError(t, store.Insert(ctx, sampleRecord("comp-2", StatusSuccess, now)))

	byComp, err := store.Query(ctx, Filter{CompositionID: "comp-1"})
	require.NoError(t, err)
	assert.Len(t, byComp, 2)
	// Newest first.
	assert.Equal(t, StatusFailure, byComp[0].Status)

	byStatus, err := store.Query(ctx, Filter{Status: StatusFailure})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	since, err := store.Query(ctx, Filter{Since: now.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestGormStore_QueryLimitCap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		rec := sampleRecord("comp-1", StatusSuccess, now.Add(time.Duration(i)*time.Second))
		rec.ExecutionID = fmt.Sprintf("exec-%d", i)
		require.NoError(t, store.Insert(ctx, rec))
	}

	got, err := store.Query(ctx, Filter{CompositionID: "comp-1", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Limit above the store cap falls back to the cap.
	capped, err := store.Query(ctx, Filter{CompositionID: "comp-1", Limit: 100000})
	require.NoError(t, err)
	assert.Len(t, capped, 10)
}

func TestGormStore_Prune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Insert(ctx, sampleRecord("old", StatusSuccess, now.Add(-48*time.Hour))))
	require.NoError(t, store.Insert(ctx, sampleRecord("new", StatusSuccess, now)))

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].CompositionID)
}

func TestMonitor_RecordAndPrune(t *testing.T) {
	store := openTestStore(t)
	monitor := NewMonitor(store, 24*time.Hour, nil)
	ctx := context.Background()

	rec := sampleRecord("comp-1", StatusSuccess, time.Now().Add(-48*time.Hour))
	require.NoError(t, monitor.Record(ctx, rec))

	n, err := monitor.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := monitor.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
