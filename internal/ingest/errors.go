package ingest

import (
	"fmt"
	"sort"
	"strings"
)

// UnrecognizedFormatError is returned by Detect when no known layout matches
// the header. It carries enough detail for an operator to see why.
type UnrecognizedFormatError struct {
	// Expected lists the required columns per format, in declaration order.
	Expected map[FormatKind][]string
	// Found is the cleaned header of the best delimiter candidate.
	Found []string
}

func (e *UnrecognizedFormatError) Error() string {
	kinds := make([]string, 0, len(e.Expected))
	for k := range e.Expected {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var b strings.Builder
	b.WriteString("unrecognized file format: found columns [")
	b.WriteString(strings.Join(e.Found, ", "))
	b.WriteString("], expected one of:")
	for _, k := range kinds {
		fmt.Fprintf(&b, " %s [%s];", k, strings.Join(e.Expected[FormatKind(k)], ", "))
	}
	return strings.TrimSuffix(b.String(), ";")
}

// MalformedRowError reports a structural problem with a single row. It aborts
// the whole parse.
type MalformedRowError struct {
	Row      int // 1-based data row, header excluded
	Raw      string
	Expected int
	Got      int
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row %d: expected %d columns, got %d: %q", e.Row, e.Expected, e.Got, e.Raw)
}

// Skip reasons recorded on SkippedRow.
const (
	ReasonInvalidDate     = "invalid date"
	ReasonMissingAmount   = "missing amount"
	ReasonAmbiguousAmount = "both withdrawal and deposit set"
	ReasonInvalidAmount   = "invalid amount"
	ReasonEmptyPayee      = "empty payee"
)

// SkippedRow is a row omitted from the output.
type SkippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// SkippedRowWarning summarises soft failures. It is informational and is
// returned alongside the parsed records, never instead of them.
type SkippedRowWarning struct {
	Count int          `json:"count"`
	Rows  []SkippedRow `json:"rows,omitempty"`
}

func (w *SkippedRowWarning) Error() string {
	if w.Count == 1 {
		return "1 row skipped"
	}
	return fmt.Sprintf("%d rows skipped", w.Count)
}
