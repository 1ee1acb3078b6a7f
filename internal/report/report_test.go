package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"omr-grader/internal/answerkey"
	"omr-grader/internal/scoring"
	"omr-grader/internal/sheet"
	"omr-grader/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testKey(t *testing.T) *answerkey.Key {
	t.Helper()
	key, err := answerkey.Parse(strings.NewReader(
		"1|1|1.0|A:0.0,B:1.0,C:0.2,D:0.0,E:0.0|B\n" +
			"1|2|1.0|A:1.0,B:0.0,C:0.0,D:0.0,E:0.0|A\n" +
			"2|1|1.0|A:0.0,B:0.0,C:1.0,D:0.0,E:0.0|C\n" +
			"2|2|2.0|A:0.0,B:0.0,C:0.0,D:1.0,E:0.0|D\n"))
	require.NoError(t, err)
	return key
}

func testReport(t *testing.T) *Report {
	t.Helper()
	key := testKey(t)
	rows := scoring.Score([]sheet.Result{
		{SourceID: "a.png", StudentID: 45, ExamVariantID: 1, Answers: []string{"B", "C"}},
		{SourceID: "b.png", StudentID: 7, ExamVariantID: 2, Answers: []string{"C", sheet.Blank}},
	}, key)
	return Build("Results", key, rows)
}

func TestBuild(t *testing.T) {
	r := testReport(t)

	assert.Equal(t, []string{"Student", "Variant", "1", "2", "Total"}, r.Headers)
	require.Len(t, r.Rows, 4)

	assert.Equal(t, []Cell{{Value: "KEY_V1"}, {Value: ""}, {Value: "B"}, {Value: "A"}, {Value: ""}}, r.Rows[0])
	assert.Equal(t, []Cell{{Value: "KEY_V2"}, {Value: ""}, {Value: "C"}, {Value: "D"}, {Value: ""}}, r.Rows[1])

	student := r.Rows[2]
	assert.Equal(t, 45, student[0].Value)
	assert.Equal(t, 1, student[1].Value)
	assert.Equal(t, Cell{Value: "B", Style: Full}, student[2])
	assert.Equal(t, Cell{Value: "C", Style: None}, student[3])
	assert.InDelta(t, 1.0, student[4].Value, 1e-9)

	other := r.Rows[3]
	assert.Equal(t, Cell{Value: "C", Style: Full}, other[2])
	assert.Equal(t, Cell{Value: sheet.Blank, Style: None}, other[3])
}

func TestBuildWithoutSheets(t *testing.T) {
	r := Build("", testKey(t), nil)
	require.Len(t, r.Rows, 2)
	for _, row := range r.Rows {
		assert.Len(t, row, len(r.Headers))
	}
}

func TestStyleFor(t *testing.T) {
	assert.Equal(t, Full, StyleFor(scoring.Full))
	assert.Equal(t, Partial, StyleFor(scoring.Partial))
	assert.Equal(t, None, StyleFor(scoring.None))
	assert.Equal(t, "plain", Plain.String())
}

func fillColor(t *testing.T, f *excelize.File, sheetName, cell string) string {
	t.Helper()
	id, err := f.GetCellStyle(sheetName, cell)
	require.NoError(t, err)
	style, err := f.GetStyle(id)
	require.NoError(t, err)
	return strings.ToUpper(strings.Join(style.Fill.Color, ""))
}

func TestXLSXEncoder(t *testing.T) {
	key := testKey(t)
	rows := scoring.Score([]sheet.Result{
		{StudentID: 45, ExamVariantID: 1, Answers: []string{"B", "A"}},
	}, key)
	// Give question 1 a partial answer as well
	rows = append(rows, scoring.ScoreSheet(sheet.Result{StudentID: 46, ExamVariantID: 1, Answers: []string{"C", "E"}}, key))
	r := Build("Results", key, rows)

	var buf bytes.Buffer
	require.NoError(t, XLSXEncoder{}.Encode(&buf, r))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Results"}, f.GetSheetList())

	get := func(cell string) string {
		v, err := f.GetCellValue("Results", cell)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Student", get("A1"))
	assert.Equal(t, "Total", get("E1"))
	assert.Equal(t, "KEY_V1", get("A2"))
	assert.Equal(t, "B", get("C2"))
	assert.Equal(t, "45", get("A4"))
	assert.Equal(t, "2", get("E4"))
	assert.Equal(t, "0.2", get("E5"))

	assert.Contains(t, fillColor(t, f, "Results", "C4"), "00FF00")
	assert.Contains(t, fillColor(t, f, "Results", "C5"), "FFFF00")
	assert.Contains(t, fillColor(t, f, "Results", "D5"), "FF0000")
	assert.Empty(t, fillColor(t, f, "Results", "C2"))
}

func TestCSVEncoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVEncoder{}.Encode(&buf, testReport(t)))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"Student", "Variant", "1", "2", "Total"}, records[0])
	assert.Equal(t, []string{"KEY_V1", "", "B", "A", ""}, records[1])
	assert.Equal(t, []string{"45", "1", "B", "C", "1"}, records[3])
	assert.Equal(t, []string{"7", "2", "C", "-", "1"}, records[4])
}

func TestEncoderFor(t *testing.T) {
	assert.IsType(t, CSVEncoder{}, EncoderFor("out/results.CSV"))
	assert.IsType(t, XLSXEncoder{}, EncoderFor("out/results.xlsx"))
	assert.IsType(t, XLSXEncoder{}, EncoderFor("results"))
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.xlsx")
	require.NoError(t, NewFileSink(path).Write(context.Background(), testReport(t)))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Results", "A3")
	require.NoError(t, err)
	assert.Equal(t, "KEY_V2", v)
}

func TestFileSinkUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := NewFileSink(filepath.Join(blocker, "results.csv")).Write(context.Background(), testReport(t))
	assert.Error(t, err)
}

func TestObjectSink(t *testing.T) {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	sink := MultiSink{&ObjectSink{Store: store, Bucket: "reports", Key: "batch/results.csv", Encoder: CSVEncoder{}}}
	require.NoError(t, sink.Write(ctx, testReport(t)))

	rc, err := store.GetObject(ctx, "reports", "batch/results.csv")
	require.NoError(t, err)
	defer rc.Close()
	records, err := csv.NewReader(rc).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 5)
}
