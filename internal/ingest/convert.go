package ingest

// convert.go turns raw cell text into dates and amounts.
//
// Bank exports are messy: padded and unpadded day/month numbers, locale
// thousands separators, currency symbols and spreadsheet artifacts such as
// ="..." wrappers. Every converter returns ok=false instead of guessing when
// the input does not fully match.

import (
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// numericRegex validates a plain decimal string after separator normalisation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Numeric describes a locale's number convention.
type Numeric struct {
	Decimal   string `json:"decimal"`
	Thousands string `json:"thousands"`
}

var (
	// dotDecimal is 1,234.56.
	dotDecimal = Numeric{Decimal: ".", Thousands: ","}
	// commaDecimal is 1.234,56.
	commaDecimal = Numeric{Decimal: ",", Thousands: "."}
)

// ParseDate tries each layout in order and returns the first full match.
// time.Parse only succeeds when the whole value is consumed, so a layout
// never matches a prefix of the field.
func ParseDate(s string, layouts []string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, false
	}

	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return civil.DateOf(t), true
		}
	}

	return civil.Date{}, false
}

// ParseAmount converts a cell to a decimal using the given convention.
// Currency symbols, spaces and accounting parentheses are accepted; the sign
// is preserved as written.
func ParseAmount(s string, n Numeric) (decimal.Decimal, bool) {
	s = CleanCell(s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer(
		"$", "",
		"€", "", // Euro
		"£", "", // Pound
		"kr.", "",
		"kr", "",
		"DKK", "",
		" ", "",
		"\u00a0", "", // NBSP as thousands separator
	).Replace(s)

	if n.Thousands != "" && strings.Contains(s, n.Thousands) {
		// "125,50" under a dot convention is a misplaced decimal, not 12550.
		if !groupedThousands(s, n) {
			return decimal.Decimal{}, false
		}
		s = strings.ReplaceAll(s, n.Thousands, "")
	}
	if n.Decimal != "" && n.Decimal != "." {
		s = strings.ReplaceAll(s, n.Decimal, ".")
	}

	if negative {
		s = "-" + strings.TrimPrefix(s, "+")
	}

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// groupedThousands reports whether every thousands separator in s sits in
// the integer part between groups of exactly three digits.
func groupedThousands(s string, n Numeric) bool {
	intPart := strings.TrimLeft(s, "+-")
	if n.Decimal != "" {
		if i := strings.Index(intPart, n.Decimal); i >= 0 {
			if strings.Contains(intPart[i:], n.Thousands) {
				return false
			}
			intPart = intPart[:i]
		}
	}

	groups := strings.Split(intPart, n.Thousands)
	for i, g := range groups {
		if strings.Trim(g, "0123456789") != "" {
			return false
		}
		if i == 0 && (len(g) < 1 || len(g) > 3) {
			return false
		}
		if i > 0 && len(g) != 3 {
			return false
		}
	}
	return true
}

// CleanCell removes common CSV artifacts from a cell value:
// surrounding whitespace, an Excel formula wrapper (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// DateRange returns the earliest and latest record dates. ok is false for an
// empty slice.
func DateRange(dates []civil.Date) (from, to civil.Date, ok bool) {
	for i, d := range dates {
		if i == 0 || d.Before(from) {
			from = d
		}
		if i == 0 || d.After(to) {
			to = d
		}
	}
	return from, to, len(dates) > 0
}
