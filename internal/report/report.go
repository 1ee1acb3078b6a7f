// Package report assembles graded sheets into a table and persists it
// through a Sink.
package report

import (
	"context"
	"fmt"

	"omr-grader/internal/answerkey"
	"omr-grader/internal/scoring"
)

// Style annotates a cell for the sink. Answer cells carry the grade
// classification; everything else is Plain.
type Style int

const (
	Plain Style = iota
	Full
	Partial
	None
)

func (s Style) String() string {
	switch s {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case None:
		return "none"
	default:
		return "plain"
	}
}

// StyleFor maps a grade classification to a cell style.
func StyleFor(c scoring.Classification) Style {
	switch c {
	case scoring.Full:
		return Full
	case scoring.Partial:
		return Partial
	default:
		return None
	}
}

// Cell is one report value. Value is a string, int or float64.
type Cell struct {
	Value any
	Style Style
}

// Report is the table handed to a sink: a header, one key row per variant
// in ascending variant order, then one row per graded sheet.
type Report struct {
	Title   string
	Headers []string
	Rows    [][]Cell
}

// Sink persists a report. Errors are returned unchanged to the caller.
type Sink interface {
	Write(ctx context.Context, r *Report) error
}

// Column headers
const (
	StudentHeader = "Student"
	VariantHeader = "Variant"
	TotalHeader   = "Total"
)

// KeyRowLabel names the key row for a variant.
func KeyRowLabel(variant int) string {
	return fmt.Sprintf("KEY_V%d", variant)
}

// Build assembles the report for a key and its graded rows.
func Build(title string, key *answerkey.Key, rows []scoring.Row) *Report {
	questions := key.Questions()

	r := &Report{Title: title}
	r.Headers = append(r.Headers, StudentHeader, VariantHeader)
	r.Headers = append(r.Headers, questions...)
	r.Headers = append(r.Headers, TotalHeader)

	for _, v := range key.Variants() {
		row := []Cell{{Value: KeyRowLabel(v)}, {Value: ""}}
		for _, q := range questions {
			correct := ""
			if e, ok := key.Lookup(v, q); ok {
				correct = e.Correct
			}
			row = append(row, Cell{Value: correct})
		}
		row = append(row, Cell{Value: ""})
		r.Rows = append(r.Rows, row)
	}

	for _, graded := range rows {
		row := []Cell{
			{Value: graded.Result.StudentID},
			{Value: graded.Result.ExamVariantID},
		}
		for _, c := range graded.Cells {
			row = append(row, Cell{Value: c.Value, Style: StyleFor(c.Classification)})
		}
		row = append(row, Cell{Value: graded.Total})
		r.Rows = append(r.Rows, row)
	}

	return r
}
