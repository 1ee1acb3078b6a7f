package layout

// Standard 18x9 answer sheet
//
// Grid (0-indexed):
// - Rows 0 and 17, columns 0 and 8 carry the registration markers
// - Row 4, columns 2-7: student id, 6 bits
// - Row 5, columns 2-5: exam variant, 4 bits
// - Rows 7-16, columns 3-7: questions 1-10, choices A-E

const (
	StandardName = "standard-18x9"
	CompactName  = "compact-12x8"

	// Canonical frame the rectified sheet is resampled into
	StandardCanonicalWidth  = 674
	StandardCanonicalHeight = 790

	// Printed marker size; only the ratio matters for detection
	StandardMarkerWidth  = 70
	StandardMarkerHeight = 46
)

// DefaultMarkerParams returns marker detection parameters tuned for the
// printed 70x46 registration rectangles.
func DefaultMarkerParams() MarkerParams {
	return MarkerParams{
		Width:          StandardMarkerWidth,
		Height:         StandardMarkerHeight,
		AspectTol:      0.35,
		MinAreaFrac:    0.0003, // 0.03% of the photo
		MaxAreaFrac:    0.05,   // 5%; paper edges and the page itself are larger
		MinRectangular: 0.75,
		MaxCandidates:  10,
	}
}

// DefaultSamplingParams returns the empirically chosen sampling thresholds.
// They are tunable, not invariants.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Window:     5,
		Brightness: 127,
		MinFill:    10,
	}
}

// Standard returns the 18x9 ten-question sheet.
func Standard() *Layout {
	return &Layout{
		LayoutName:      StandardName,
		Description:     "10 questions A-E, 6-bit student id, 4-bit exam variant",
		CanonicalWidth:  StandardCanonicalWidth,
		CanonicalHeight: StandardCanonicalHeight,
		Rows:            18,
		Cols:            9,
		StudentID:       Field{Row: 4, FirstCol: 2, Bits: 6},
		ExamVariant:     Field{Row: 5, FirstCol: 2, Bits: 4},
		Answers:         AnswerBlock{FirstRow: 7, Questions: 10, FirstCol: 3, Choices: 5},
		Markers:         DefaultMarkerParams(),
		Sampling:        DefaultSamplingParams(),
	}
}

// Compact returns a smaller 12x8 sheet with six A-D questions.
func Compact() *Layout {
	return &Layout{
		LayoutName:      CompactName,
		Description:     "6 questions A-D, 5-bit student id, 2-bit exam variant",
		CanonicalWidth:  600,
		CanonicalHeight: 540,
		Rows:            12,
		Cols:            8,
		StudentID:       Field{Row: 2, FirstCol: 1, Bits: 5},
		ExamVariant:     Field{Row: 3, FirstCol: 1, Bits: 2},
		Answers:         AnswerBlock{FirstRow: 5, Questions: 6, FirstCol: 2, Choices: 4},
		Markers:         DefaultMarkerParams(),
		Sampling:        DefaultSamplingParams(),
	}
}
