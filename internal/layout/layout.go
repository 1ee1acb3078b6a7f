// Package layout provides answer sheet layout definitions and management.
package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a contiguous run of grid cells on one row read as a binary
// integer, most significant bit at FirstCol.
type Field struct {
	Row      int `json:"row" yaml:"row"`
	FirstCol int `json:"first_col" yaml:"first_col"`
	Bits     int `json:"bits" yaml:"bits"`
}

// AnswerBlock describes the rows holding questions and the columns holding
// the letter choices A, B, C... in ascending order.
type AnswerBlock struct {
	FirstRow  int `json:"first_row" yaml:"first_row"`
	Questions int `json:"questions" yaml:"questions"`
	FirstCol  int `json:"first_col" yaml:"first_col"`
	Choices   int `json:"choices" yaml:"choices"`
}

// MarkerParams controls registration marker detection.
type MarkerParams struct {
	Width          float64 `json:"width" yaml:"width"`                       // Expected marker width (any unit, only the ratio is used)
	Height         float64 `json:"height" yaml:"height"`                     // Expected marker height
	AspectTol      float64 `json:"aspect_tolerance" yaml:"aspect_tolerance"` // Allowed deviation of max/min side ratio
	MinAreaFrac    float64 `json:"min_area_fraction" yaml:"min_area_fraction"`
	MaxAreaFrac    float64 `json:"max_area_fraction" yaml:"max_area_fraction"`
	MinRectangular float64 `json:"min_rectangularity" yaml:"min_rectangularity"` // Contour area / bounding box area
	MaxCandidates  int     `json:"max_candidates" yaml:"max_candidates"`
}

// ExpectedAspect returns max(side)/min(side) of the nominal marker.
func (m MarkerParams) ExpectedAspect() float64 {
	lo, hi := m.Width, m.Height
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo <= 0 {
		return 0
	}
	return hi / lo
}

// SamplingParams controls how grid cells are read.
type SamplingParams struct {
	Window     int     `json:"window" yaml:"window"`         // Side of the square sampling window in pixels
	Brightness float64 `json:"brightness" yaml:"brightness"` // Mean above which a bit reads as 1
	MinFill    float64 `json:"min_fill" yaml:"min_fill"`     // Winning mean below which an answer is blank
}

// Layout defines one printed answer sheet form.
type Layout struct {
	LayoutName      string         `json:"name" yaml:"name"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	CanonicalWidth  int            `json:"canonical_width" yaml:"canonical_width"`
	CanonicalHeight int            `json:"canonical_height" yaml:"canonical_height"`
	Rows            int            `json:"rows" yaml:"rows"`
	Cols            int            `json:"cols" yaml:"cols"`
	StudentID       Field          `json:"student_id" yaml:"student_id"`
	ExamVariant     Field          `json:"exam_variant" yaml:"exam_variant"`
	Answers         AnswerBlock    `json:"answers" yaml:"answers"`
	Markers         MarkerParams   `json:"markers" yaml:"markers"`
	Sampling        SamplingParams `json:"sampling" yaml:"sampling"`
}

// Name returns the registry name of the layout.
func (l *Layout) Name() string {
	return l.LayoutName
}

// Validate checks that every field and answer cell lies inside the grid.
func (l *Layout) Validate() error {
	if l.LayoutName == "" {
		return fmt.Errorf("layout name is required")
	}
	if l.CanonicalWidth <= 1 || l.CanonicalHeight <= 1 {
		return fmt.Errorf("canonical size must be larger than 1x1")
	}
	if l.Rows < 2 || l.Cols < 2 {
		return fmt.Errorf("grid must have at least 2 rows and 2 columns")
	}
	for name, f := range map[string]Field{"student_id": l.StudentID, "exam_variant": l.ExamVariant} {
		if f.Bits <= 0 || f.Bits > 62 {
			return fmt.Errorf("%s: bit count must be in 1..62", name)
		}
		if !l.inGrid(f.Row, f.FirstCol) || !l.inGrid(f.Row, f.FirstCol+f.Bits-1) {
			return fmt.Errorf("%s: cells fall outside the %dx%d grid", name, l.Rows, l.Cols)
		}
	}
	a := l.Answers
	if a.Questions <= 0 || a.Choices <= 0 {
		return fmt.Errorf("answers: question and choice counts must be positive")
	}
	if a.Choices > 26 {
		return fmt.Errorf("answers: at most 26 choices are supported")
	}
	if !l.inGrid(a.FirstRow, a.FirstCol) || !l.inGrid(a.FirstRow+a.Questions-1, a.FirstCol+a.Choices-1) {
		return fmt.Errorf("answers: cells fall outside the %dx%d grid", l.Rows, l.Cols)
	}
	m := l.Markers
	if m.ExpectedAspect() == 0 {
		return fmt.Errorf("markers: width and height must be positive")
	}
	if m.MinAreaFrac <= 0 || m.MaxAreaFrac <= m.MinAreaFrac || m.MaxAreaFrac > 1 {
		return fmt.Errorf("markers: area fraction bounds must satisfy 0 < min < max <= 1")
	}
	if m.MaxCandidates < 4 {
		return fmt.Errorf("markers: at least 4 candidates must be retained")
	}
	if l.Sampling.Window <= 0 {
		return fmt.Errorf("sampling: window must be positive")
	}
	return nil
}

func (l *Layout) inGrid(row, col int) bool {
	return row >= 0 && row < l.Rows && col >= 0 && col < l.Cols
}

// SaveToFile saves the layout as YAML or JSON depending on the extension.
func (l *Layout) SaveToFile(path string) error {
	var data []byte
	var err error
	if isJSON(path) {
		data, err = json.MarshalIndent(l, "", "  ")
	} else {
		data, err = yaml.Marshal(l)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromFile loads a layout from a YAML or JSON file. Values the file
// leaves out keep the defaults of the standard layout.
func LoadFromFile(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	l := Standard()
	l.LayoutName = ""
	if isJSON(path) {
		err = json.Unmarshal(data, l)
	} else {
		err = yaml.Unmarshal(data, l)
	}
	if err != nil {
		return nil, fmt.Errorf("parse layout %s: %w", path, err)
	}

	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	return l, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Registry of known layouts
var registry = make(map[string]*Layout)

// Register adds a layout to the registry.
func Register(l *Layout) {
	registry[l.Name()] = l
}

// Get returns a copy of a registered layout by name, or nil.
func Get(name string) *Layout {
	if l, ok := registry[name]; ok {
		c := *l
		return &c
	}
	return nil
}

// List returns all registered layout names, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve loads a layout from path when it is set, otherwise looks name up
// in the registry.
func Resolve(name, path string) (*Layout, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	if name == "" {
		name = StandardName
	}
	l := Get(name)
	if l == nil {
		return nil, fmt.Errorf("unknown layout %q (known: %s)", name, strings.Join(List(), ", "))
	}
	return l, nil
}

func init() {
	Register(Standard())
	Register(Compact())
}
