package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Encoder renders a report into a byte format.
type Encoder interface {
	Encode(w io.Writer, r *Report) error
	Extension() string
	ContentType() string
}

// EncoderFor picks an encoder by file extension. Anything other than .csv
// is written as xlsx.
func EncoderFor(path string) Encoder {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return CSVEncoder{}
	}
	return XLSXEncoder{}
}

// Fill colours per style
var fills = map[Style]string{
	Full:    "#00FF00",
	Partial: "#FFFF00",
	None:    "#FF0000",
}

// XLSXEncoder writes a workbook with one sheet. Graded cells are filled
// green, yellow or red.
type XLSXEncoder struct {
	SheetName string
}

func (XLSXEncoder) Extension() string { return ".xlsx" }

func (XLSXEncoder) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (e XLSXEncoder) Encode(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := e.SheetName
	if sheet == "" {
		sheet = "Results"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	styles := make(map[Style]int, len(fills))
	for s, color := range fills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		})
		if err != nil {
			return fmt.Errorf("create %s style: %w", s, err)
		}
		styles[s] = id
	}

	for col, h := range r.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for i, row := range r.Rows {
		for col, c := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, c.Value); err != nil {
				return fmt.Errorf("set %s: %w", cell, err)
			}
			if id, ok := styles[c.Style]; ok {
				if err := f.SetCellStyle(sheet, cell, cell, id); err != nil {
					return fmt.Errorf("style %s: %w", cell, err)
				}
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// CSVEncoder writes plain comma separated values. Styles are dropped.
type CSVEncoder struct{}

func (CSVEncoder) Extension() string { return ".csv" }

func (CSVEncoder) ContentType() string { return "text/csv" }

func (CSVEncoder) Encode(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Headers); err != nil {
		return err
	}
	for _, row := range r.Rows {
		record := make([]string, len(row))
		for i, c := range row {
			record[i] = formatValue(c.Value)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
