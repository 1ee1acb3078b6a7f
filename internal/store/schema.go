package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Batch struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Title  string
	Layout string `gorm:"size:64;not null"`

	CreationTime   time.Time
	CompletionTime time.Time

	SucceededCount int `gorm:"default:0"`
	FailedCount    int `gorm:"default:0"`
	TotalCount     int `gorm:"default:0"`

	Sheets   []SheetRecord   `gorm:"foreignKey:BatchId;constraint:OnDelete:CASCADE"`
	Failures []FailureRecord `gorm:"foreignKey:BatchId;constraint:OnDelete:CASCADE"`
}

type SheetRecord struct {
	BatchId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Position int       `gorm:"primaryKey"`

	SourceId      string
	StudentId     int
	ExamVariantId int
	Answers       datatypes.JSON
	Total         float64
}

type FailureRecord struct {
	BatchId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	SourceId string    `gorm:"primaryKey"`
	Error    string
}
