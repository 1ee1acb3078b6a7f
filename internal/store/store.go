// Package store keeps a history of graded batches in a SQL database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"omr-grader/internal/batch"
	"omr-grader/internal/scoring"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrBatchNotFound = errors.New("batch not found")

// Open connects to the database named by dsn and brings the schema up to
// date. DSNs starting with postgres:// or postgresql:// use Postgres;
// anything else is treated as a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "0",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&Batch{}, &SheetRecord{}, &FailureRecord{})
			},
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable(&FailureRecord{}, &SheetRecord{}, &Batch{})
			},
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		dbType := db.Dialector.Name()
		if dbType == "sqlite" || dbType == "sqlite3" {
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				slog.Error("error enabling foreign keys for SQLite", "error", err)
			}
		}
		return txn.AutoMigrate(&Batch{}, &SheetRecord{}, &FailureRecord{})
	})

	return migrator
}

// SaveBatch records a finished batch together with its graded rows and
// failures in one transaction.
func SaveBatch(ctx context.Context, db *gorm.DB, title, layoutName string, outcome *batch.Outcome, rows []scoring.Row) (*Batch, error) {
	record := Batch{
		Id:             outcome.ID,
		Title:          title,
		Layout:         layoutName,
		CreationTime:   outcome.Started.UTC(),
		CompletionTime: outcome.Finished.UTC(),
		SucceededCount: len(outcome.Results),
		FailedCount:    len(outcome.Failures),
		TotalCount:     outcome.Total(),
	}

	for i, row := range rows {
		answers, err := json.Marshal(row.Result.Answers)
		if err != nil {
			return nil, fmt.Errorf("error encoding answers for %s: %w", row.Result.SourceID, err)
		}
		record.Sheets = append(record.Sheets, SheetRecord{
			BatchId:       record.Id,
			Position:      i,
			SourceId:      row.Result.SourceID,
			StudentId:     row.Result.StudentID,
			ExamVariantId: row.Result.ExamVariantID,
			Answers:       answers,
			Total:         row.Total,
		})
	}
	for _, f := range outcome.Failures {
		record.Failures = append(record.Failures, FailureRecord{
			BatchId:  record.Id,
			SourceId: f.SourceID,
			Error:    f.Message,
		})
	}

	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		slog.Error("error saving batch", "batch_id", record.Id, "error", err)
		return nil, fmt.Errorf("error saving batch: %w", err)
	}

	return &record, nil
}

// ListBatches returns batch summaries, newest first.
func ListBatches(ctx context.Context, db *gorm.DB) ([]Batch, error) {
	var batches []Batch
	if err := db.WithContext(ctx).Order("creation_time DESC").Find(&batches).Error; err != nil {
		slog.Error("error listing batches", "error", err)
		return nil, fmt.Errorf("error listing batches: %w", err)
	}
	return batches, nil
}

// GetBatch loads one batch with its sheets in input order and its failures.
func GetBatch(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Batch, error) {
	var b Batch
	err := db.WithContext(ctx).
		Preload("Sheets", func(txn *gorm.DB) *gorm.DB { return txn.Order("position ASC") }).
		Preload("Failures").
		First(&b, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		slog.Error("error loading batch", "batch_id", id, "error", err)
		return nil, fmt.Errorf("error loading batch: %w", err)
	}
	return &b, nil
}

// DeleteBatch removes a batch with its sheets and failures.
func DeleteBatch(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("batch_id = ?", id).Delete(&SheetRecord{}).Error; err != nil {
			return fmt.Errorf("error deleting sheets: %w", err)
		}
		if err := txn.Where("batch_id = ?", id).Delete(&FailureRecord{}).Error; err != nil {
			return fmt.Errorf("error deleting failures: %w", err)
		}
		res := txn.Delete(&Batch{}, "id = ?", id)
		if res.Error != nil {
			slog.Error("error deleting batch", "batch_id", id, "error", res.Error)
			return fmt.Errorf("error deleting batch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		return nil
	})
}
