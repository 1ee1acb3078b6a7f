package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"omr-grader/internal/batch"
	"omr-grader/internal/scoring"
	"omr-grader/internal/sheet"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testOutcome(started time.Time) (*batch.Outcome, []scoring.Row) {
	results := []sheet.Result{
		{SourceID: "a.png", StudentID: 45, ExamVariantID: 1, Answers: []string{"B", "-"}},
		{SourceID: "b.png", StudentID: 7, ExamVariantID: 2, Answers: []string{"C", "D"}},
	}
	outcome := &batch.Outcome{
		ID:       uuid.New(),
		Results:  results,
		Failures: []batch.Failure{{SourceID: "c.png", Err: errors.New("boom"), Message: "boom"}},
		Started:  started,
		Finished: started.Add(time.Second),
	}
	rows := []scoring.Row{
		{Result: results[0], Total: 1},
		{Result: results[1], Total: 3},
	}
	return outcome, rows
}

func TestSaveAndGetBatch(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	outcome, rows := testOutcome(time.Now())
	saved, err := SaveBatch(ctx, db, "math_2024-05-01_A", "standard", outcome, rows)
	require.NoError(t, err)
	assert.Equal(t, outcome.ID, saved.Id)

	b, err := GetBatch(ctx, db, outcome.ID)
	require.NoError(t, err)
	assert.Equal(t, "math_2024-05-01_A", b.Title)
	assert.Equal(t, "standard", b.Layout)
	assert.Equal(t, 2, b.SucceededCount)
	assert.Equal(t, 1, b.FailedCount)
	assert.Equal(t, 3, b.TotalCount)

	require.Len(t, b.Sheets, 2)
	assert.Equal(t, "a.png", b.Sheets[0].SourceId)
	assert.Equal(t, 45, b.Sheets[0].StudentId)
	assert.InDelta(t, 3.0, b.Sheets[1].Total, 1e-9)

	var answers []string
	require.NoError(t, json.Unmarshal(b.Sheets[0].Answers, &answers))
	assert.Equal(t, []string{"B", "-"}, answers)

	require.Len(t, b.Failures, 1)
	assert.Equal(t, "c.png", b.Failures[0].SourceId)
	assert.Equal(t, "boom", b.Failures[0].Error)
}

func TestGetBatchMissing(t *testing.T) {
	db := setupDB(t)

	_, err := GetBatch(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestDeleteBatch(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	kept, keptRows := testOutcome(time.Now())
	gone, goneRows := testOutcome(time.Now())
	_, err := SaveBatch(ctx, db, "kept", "standard", kept, keptRows)
	require.NoError(t, err)
	_, err = SaveBatch(ctx, db, "gone", "standard", gone, goneRows)
	require.NoError(t, err)

	require.NoError(t, DeleteBatch(ctx, db, gone.ID))

	_, err = GetBatch(ctx, db, gone.ID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	var orphans int64
	require.NoError(t, db.Model(&SheetRecord{}).Where("batch_id = ?", gone.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)

	b, err := GetBatch(ctx, db, kept.ID)
	require.NoError(t, err)
	assert.Len(t, b.Sheets, 2)

	assert.ErrorIs(t, DeleteBatch(ctx, db, gone.ID), ErrBatchNotFound)
}

func TestListBatchesNewestFirst(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	older, olderRows := testOutcome(start)
	newer, newerRows := testOutcome(start.Add(time.Hour))

	_, err := SaveBatch(ctx, db, "older", "standard", older, olderRows)
	require.NoError(t, err)
	_, err = SaveBatch(ctx, db, "newer", "compact", newer, newerRows)
	require.NoError(t, err)

	batches, err := ListBatches(ctx, db)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, newer.ID, batches[0].Id)
	assert.Equal(t, older.ID, batches[1].Id)
	assert.Empty(t, batches[0].Sheets)
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	outcome, rows := testOutcome(time.Now())
	_, err = SaveBatch(ctx, db, "t", "standard", outcome, rows)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	db, err = Open(path)
	require.NoError(t, err)
	batches, err := ListBatches(ctx, db)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}
