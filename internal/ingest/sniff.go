package ingest

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"
)

// Descriptor is the outcome of format detection: everything Parse needs to
// read the rest of the file.
type Descriptor struct {
	Kind        FormatKind `json:"kind"`
	Encoding    string     `json:"encoding"`
	Delimiter   rune       `json:"delimiter"`
	Header      []string   `json:"header"`
	Columns     []Field    `json:"-"`
	DateLayouts []string   `json:"date_layouts"`
	Numeric     Numeric    `json:"numeric"`
}

// index returns the column position for f, or -1.
func (d Descriptor) index(f Field) int {
	for i, c := range d.Columns {
		if c == f {
			return i
		}
	}
	return -1
}

// cell returns the value of field f in row, or "" when the format has no
// such column.
func (d Descriptor) cell(row []string, f Field) string {
	i := d.index(f)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// delimiters are tried in this order on the header line.
var delimiters = []rune{',', ';', '\t'}

// Detect inspects the header line of raw and returns the first matching
// format descriptor. Encodings are tried strictest first; within an encoding
// every delimiter is tested against every format in priority order.
func Detect(raw []byte) (Descriptor, error) {
	raw, hasBOM := stripBOM(raw)
	headerBytes, body := splitHeader(raw)

	var found []string
	for _, enc := range candidateEncodings(headerBytes, body, hasBOM) {
		line, err := decodeString(enc, headerBytes)
		if err != nil {
			continue
		}

		for _, delim := range delimiters {
			header := splitHeaderLine(line, delim)
			if len(header) > len(found) {
				found = header
			}

			for _, f := range formats {
				mapping, ok := f.match(header)
				if !ok {
					continue
				}
				return Descriptor{
					Kind:        f.kind,
					Encoding:    enc,
					Delimiter:   delim,
					Header:      header,
					Columns:     mapping,
					DateLayouts: f.dateLayouts,
					Numeric:     f.numeric,
				}, nil
			}
		}
	}

	expected := make(map[FormatKind][]string, len(formats))
	for _, f := range formats {
		expected[f.kind] = f.columns
	}
	return Descriptor{}, &UnrecognizedFormatError{Expected: expected, Found: found}
}

// splitHeaderLine splits one decoded header line and normalises each name.
func splitHeaderLine(line string, delim rune) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	cells, err := r.Read()
	if err != nil && err != io.EOF {
		cells = strings.Split(line, string(delim))
	}

	header := make([]string, 0, len(cells))
	for _, c := range cells {
		header = append(header, normalizeHeader(c))
	}
	return header
}

// normalizeHeader cleans and lower-cases a header cell. Replacement runes left
// by lossy decoding are kept so prefix matching still works on the rest.
func normalizeHeader(s string) string {
	s = strings.ToLower(CleanCell(s))
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}
