// Package scoring grades decoded sheets against an answer key.
package scoring

import (
	"math"

	"omr-grader/internal/answerkey"
	"omr-grader/internal/sheet"
)

// fullCreditTolerance is how close to 1.0 a credit must be to count as full.
const fullCreditTolerance = 1e-6

// Classification grades one answer cell.
type Classification int

const (
	None Classification = iota
	Partial
	Full
)

func (c Classification) String() string {
	switch c {
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return "none"
	}
}

// MarshalText encodes the classification by name.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Cell is one graded answer.
type Cell struct {
	Question       string         `json:"question"`
	Value          string         `json:"value"`
	Classification Classification `json:"classification"`
	Credit         float64        `json:"credit"`
	Scored         bool           `json:"scored"` // False when the key has no entry for the question
}

// Row is a graded sheet.
type Row struct {
	Result sheet.Result `json:"result"`
	Cells  []Cell       `json:"cells"`
	Total  float64      `json:"total"`
}

// Classify grades a selected letter against a key entry. A blank answer is
// always None.
func Classify(selected string, e answerkey.Entry) Classification {
	if selected == sheet.Blank {
		return None
	}
	credit := e.Credit(selected)
	if selected == e.Correct {
		if math.Abs(credit-1) < fullCreditTolerance {
			return Full
		}
		if credit > 0 && credit < 1 {
			return Partial
		}
		return None
	}
	if credit > 0 {
		return Partial
	}
	return None
}

// ScoreSheet grades one sheet. The i-th key question is matched with the
// i-th decoded answer; a question with no entry for the sheet's variant is
// shown but earns nothing and is classified None.
func ScoreSheet(res sheet.Result, key *answerkey.Key) Row {
	questions := key.Questions()
	row := Row{Result: res, Cells: make([]Cell, len(questions))}

	for i, q := range questions {
		cell := Cell{Question: q, Value: res.Answer(i), Classification: None}
		if e, ok := key.Lookup(res.ExamVariantID, q); ok {
			cell.Scored = true
			if cell.Value != sheet.Blank {
				cell.Credit = e.Weight * e.Credit(cell.Value)
			}
			cell.Classification = Classify(cell.Value, e)
			row.Total += cell.Credit
		}
		row.Cells[i] = cell
	}
	return row
}

// Score grades every sheet, preserving order.
func Score(results []sheet.Result, key *answerkey.Key) []Row {
	rows := make([]Row, len(results))
	for i, res := range results {
		rows[i] = ScoreSheet(res, key)
	}
	return rows
}
