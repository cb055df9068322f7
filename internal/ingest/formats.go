package ingest

import (
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// FormatKind identifies one of the supported bank export layouts.
type FormatKind string

const (
	// FormatDanske is the Danske Bank domestic export: semicolon separated,
	// quoted, Danish headers, 1.234,56 amounts.
	FormatDanske FormatKind = "danske"
	// FormatAceMoney is the generic AceMoney layout with separate
	// withdrawal and deposit columns. It is also the export format.
	FormatAceMoney FormatKind = "acemoney"
)

// Field is the semantic meaning of a column.
type Field int

const (
	FieldIgnored Field = iota
	FieldTransaction
	FieldDate
	FieldPayee
	FieldCategory
	FieldStatus
	FieldWithdrawal
	FieldDeposit
	FieldTotal
	FieldComment
	FieldAmount
	FieldBalance
	FieldReconciled
)

// format pairs header rules with a row parser. The set is closed: adding a
// layout means adding an entry to formats and its parseRow.
type format struct {
	kind FormatKind

	// columns are canonical header names after alias resolution.
	columns []string
	// ordered formats must list columns exactly, in order.
	ordered bool
	aliases map[string]string
	// prefixes resolve any header starting with the key to the value.
	prefixes map[string]string
	fields   map[string]Field

	dateLayouts []string
	numeric     Numeric

	parseRow func(d Descriptor, row []string) (model.Record, string)
}

// formats is in priority order: the domestic bank format wins ties over the
// generic fallback.
var formats = []format{
	{
		kind:    FormatDanske,
		columns: []string{"dato", "tekst", "beløb", "saldo", "status", "afstemt"},
		ordered: true,
		// Bel\xf8b is often mangled by the exporting bank.
		prefixes: map[string]string{"bel": "beløb"},
		fields: map[string]Field{
			"dato":    FieldDate,
			"tekst":   FieldPayee,
			"beløb":   FieldAmount,
			"saldo":   FieldBalance,
			"status":  FieldStatus,
			"afstemt": FieldReconciled,
		},
		dateLayouts: []string{"2.1.2006"},
		numeric:     commaDecimal,
		parseRow:    parseSignedRow,
	},
	{
		kind: FormatAceMoney,
		columns: []string{
			"transaction", "date", "payee", "category", "status",
			"withdrawal", "deposit", "total", "comment",
		},
		aliases: map[string]string{
			"num": "transaction",
			"s":   "status",
		},
		fields: map[string]Field{
			"transaction": FieldTransaction,
			"date":        FieldDate,
			"payee":       FieldPayee,
			"category":    FieldCategory,
			"status":      FieldStatus,
			"withdrawal":  FieldWithdrawal,
			"deposit":     FieldDeposit,
			"total":       FieldTotal,
			"comment":     FieldComment,
		},
		dateLayouts: []string{
			"02.01.2006", "2.1.2006",
			"02-01-2006", "2-1-2006",
			"02/01/2006", "2/1/2006",
			"2006/1/2", "2006-1-2",
		},
		numeric:  dotDecimal,
		parseRow: parseSplitRow,
	},
}

// formatByKind looks up a format declaration.
func formatByKind(kind FormatKind) (format, bool) {
	for _, f := range formats {
		if f.kind == kind {
			return f, true
		}
	}
	return format{}, false
}

// Kinds lists the supported formats in priority order.
func Kinds() []FormatKind {
	kinds := make([]FormatKind, len(formats))
	for i, f := range formats {
		kinds[i] = f.kind
	}
	return kinds
}

// resolve maps a cleaned, lower-cased header to its canonical name.
func (f format) resolve(h string) string {
	if canon, ok := f.aliases[h]; ok {
		return canon
	}
	for prefix, canon := range f.prefixes {
		if strings.HasPrefix(h, prefix) {
			return canon
		}
	}
	return h
}

// match reports whether header satisfies the format and returns the column
// mapping when it does.
func (f format) match(header []string) ([]Field, bool) {
	resolved := make([]string, len(header))
	for i, h := range header {
		resolved[i] = f.resolve(h)
	}

	if f.ordered {
		if len(resolved) != len(f.columns) {
			return nil, false
		}
		for i, want := range f.columns {
			if resolved[i] != want {
				return nil, false
			}
		}
	} else {
		present := make(map[string]bool, len(resolved))
		for _, h := range resolved {
			present[h] = true
		}
		for _, want := range f.columns {
			if !present[want] {
				return nil, false
			}
		}
	}

	mapping := make([]Field, len(resolved))
	for i, h := range resolved {
		mapping[i] = f.fields[h] // zero value is FieldIgnored
	}
	return mapping, true
}

// parseSplitRow handles layouts with separate withdrawal and deposit columns.
func parseSplitRow(d Descriptor, row []string) (model.Record, string) {
	rec, reason := parseCommon(d, row)
	if reason != "" {
		return rec, reason
	}

	withdrawal := CleanCell(d.cell(row, FieldWithdrawal))
	deposit := CleanCell(d.cell(row, FieldDeposit))

	switch {
	case withdrawal == "" && deposit == "":
		return rec, ReasonMissingAmount
	case withdrawal != "" && deposit != "":
		return rec, ReasonAmbiguousAmount
	case withdrawal != "":
		v, ok := ParseAmount(withdrawal, d.Numeric)
		if !ok {
			return rec, ReasonInvalidAmount
		}
		rec.Amount = v.Abs().Neg()
	default:
		v, ok := ParseAmount(deposit, d.Numeric)
		if !ok {
			return rec, ReasonInvalidAmount
		}
		rec.Amount = v.Abs()
	}

	rec.OriginalCategory = CleanCell(d.cell(row, FieldCategory))
	rec.OriginalComment = strings.TrimSpace(d.cell(row, FieldComment))
	return rec, ""
}

// parseSignedRow handles layouts with one signed amount column.
func parseSignedRow(d Descriptor, row []string) (model.Record, string) {
	rec, reason := parseCommon(d, row)
	if reason != "" {
		return rec, reason
	}

	raw := CleanCell(d.cell(row, FieldAmount))
	if raw == "" {
		return rec, ReasonMissingAmount
	}
	v, ok := ParseAmount(raw, d.Numeric)
	if !ok {
		return rec, ReasonInvalidAmount
	}
	rec.Amount = v
	return rec, ""
}

// parseCommon reads the date and payee every format carries.
func parseCommon(d Descriptor, row []string) (model.Record, string) {
	var rec model.Record

	date, ok := ParseDate(CleanCell(d.cell(row, FieldDate)), d.DateLayouts)
	if !ok {
		return rec, ReasonInvalidDate
	}
	rec.Date = date

	rec.Payee = strings.TrimSpace(d.cell(row, FieldPayee))
	if rec.Payee == "" {
		return rec, ReasonEmptyPayee
	}
	return rec, ""
}
