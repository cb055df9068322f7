package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// Result is the output of Parse.
type Result struct {
	Records []model.Record
	Skipped []SkippedRow
}

// Warning summarises skipped rows, or returns nil when nothing was skipped.
func (r *Result) Warning() *SkippedRowWarning {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &SkippedRowWarning{Count: len(r.Skipped), Rows: r.Skipped}
}

// Parse reads every data row of raw using d. Rows with an unusable date,
// amount or payee are skipped and reported on the result; a row whose column
// count does not fit the header aborts the parse with a MalformedRowError and
// no records. Output order follows input order.
func Parse(raw []byte, d Descriptor) (*Result, error) {
	f, ok := formatByKind(d.Kind)
	if !ok {
		return nil, fmt.Errorf("parse: unknown format %q", d.Kind)
	}

	raw, _ = stripBOM(raw)

	r := csv.NewReader(decodeReader(d.Encoding, bytes.NewReader(raw)))
	r.Comma = d.Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return &Result{}, nil
		}
		return nil, fmt.Errorf("parse: read header: %w", err)
	}

	width := len(d.Columns)
	result := &Result{}

	for rowNum := 1; ; rowNum++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse: row %d: %w", rowNum, err)
		}

		if isBlankRow(row) {
			continue
		}

		row = trimTrailingEmpty(row, width)
		if len(row) != width {
			return nil, &MalformedRowError{
				Row:      rowNum,
				Raw:      strings.Join(row, string(d.Delimiter)),
				Expected: width,
				Got:      len(row),
			}
		}

		rec, reason := f.parseRow(d, row)
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedRow{Row: rowNum, Reason: reason})
			continue
		}

		rec.Seq = rowNum
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

// DetectAndParse runs Detect followed by Parse.
func DetectAndParse(raw []byte) (Descriptor, *Result, error) {
	d, err := Detect(raw)
	if err != nil {
		return Descriptor{}, nil, err
	}
	res, err := Parse(raw, d)
	if err != nil {
		return d, nil, err
	}
	return d, res, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// trimTrailingEmpty drops empty cells past width. Spreadsheet exports often
// add a trailing delimiter.
func trimTrailingEmpty(row []string, width int) []string {
	for len(row) > width && strings.TrimSpace(row[len(row)-1]) == "" {
		row = row[:len(row)-1]
	}
	return row
}
