package server

import (
	"encoding/json"
	"fmt"
	"time"

	"omr-grader/internal/store"

	"github.com/google/uuid"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type LayoutInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Rows        int    `json:"rows"`
	Cols        int    `json:"cols"`
	Questions   int    `json:"questions"`
	Choices     int    `json:"choices"`
}

type BatchSummary struct {
	Id             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Layout         string    `json:"layout"`
	CreationTime   time.Time `json:"creation_time"`
	CompletionTime time.Time `json:"completion_time"`
	SucceededCount int       `json:"succeeded_count"`
	FailedCount    int       `json:"failed_count"`
	TotalCount     int       `json:"total_count"`
}

type SheetSummary struct {
	SourceId      string   `json:"source_id"`
	StudentId     int      `json:"student_id"`
	ExamVariantId int      `json:"exam_variant_id"`
	Answers       []string `json:"answers"`
	Total         float64  `json:"total"`
}

type FailureSummary struct {
	SourceId string `json:"source_id"`
	Error    string `json:"error"`
}

type ArchivedSheet struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type BatchDetail struct {
	BatchSummary
	Sheets   []SheetSummary   `json:"sheets"`
	Failures []FailureSummary `json:"failures"`
}

func convertBatch(b store.Batch) BatchSummary {
	return BatchSummary{
		Id:             b.Id,
		Title:          b.Title,
		Layout:         b.Layout,
		CreationTime:   b.CreationTime,
		CompletionTime: b.CompletionTime,
		SucceededCount: b.SucceededCount,
		FailedCount:    b.FailedCount,
		TotalCount:     b.TotalCount,
	}
}

func convertBatchDetail(b store.Batch) (BatchDetail, error) {
	detail := BatchDetail{
		BatchSummary: convertBatch(b),
		Sheets:       make([]SheetSummary, 0, len(b.Sheets)),
		Failures:     make([]FailureSummary, 0, len(b.Failures)),
	}

	for _, s := range b.Sheets {
		var answers []string
		if err := json.Unmarshal(s.Answers, &answers); err != nil {
			return BatchDetail{}, fmt.Errorf("error decoding answers for %s: %w", s.SourceId, err)
		}
		detail.Sheets = append(detail.Sheets, SheetSummary{
			SourceId:      s.SourceId,
			StudentId:     s.StudentId,
			ExamVariantId: s.ExamVariantId,
			Answers:       answers,
			Total:         s.Total,
		})
	}
	for _, f := range b.Failures {
		detail.Failures = append(detail.Failures, FailureSummary{SourceId: f.SourceId, Error: f.Error})
	}

	return detail, nil
}
