// Package similar finds records related to a reference record: payees that
// read alike, amounts within a tolerance, and neighbours in the same batch.
package similar

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/cases"
)

// Defaults applied by DefaultParams.
const (
	DefaultPayeeThreshold  = 0.6
	DefaultAmountTolerance = 0.10
	DefaultSurrounding     = 5
	DefaultLimit           = 30
)

// InvalidParameterError reports a parameter outside its domain. Find returns
// it before doing any work.
type InvalidParameterError struct {
	Name  string
	Value float64
	Want  string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s %v: must be %s", e.Name, e.Value, e.Want)
}

// Params tunes a search.
type Params struct {
	// PayeeThreshold is the minimum payee score in [0,1].
	PayeeThreshold float64
	// AmountTolerance is the fractional amount band in [0,1]; 0.1 means ±10%.
	AmountTolerance float64
	// Surrounding is the number of neighbours on each side.
	Surrounding int
	// Limit caps ByPayee and ByAmount. Zero means no cap.
	Limit int
}

// DefaultParams returns the standard search parameters.
func DefaultParams() Params {
	return Params{
		PayeeThreshold:  DefaultPayeeThreshold,
		AmountTolerance: DefaultAmountTolerance,
		Surrounding:     DefaultSurrounding,
		Limit:           DefaultLimit,
	}
}

// Validate rejects out-of-range parameters. Values are never clamped.
func (p Params) Validate() error {
	if math.IsNaN(p.PayeeThreshold) || p.PayeeThreshold < 0 || p.PayeeThreshold > 1 {
		return &InvalidParameterError{Name: "payee threshold", Value: p.PayeeThreshold, Want: "within [0,1]"}
	}
	if math.IsNaN(p.AmountTolerance) || p.AmountTolerance < 0 || p.AmountTolerance > 1 {
		return &InvalidParameterError{Name: "amount tolerance", Value: p.AmountTolerance, Want: "within [0,1]"}
	}
	if p.Surrounding < 0 {
		return &InvalidParameterError{Name: "surrounding count", Value: float64(p.Surrounding), Want: "non-negative"}
	}
	if p.Limit < 0 {
		return &InvalidParameterError{Name: "limit", Value: float64(p.Limit), Want: "non-negative"}
	}
	return nil
}

// PayeeMatch is a record with its payee similarity score.
type PayeeMatch struct {
	Record model.Record `json:"record"`
	Score  float64      `json:"score"`
}

// AmountMatch is a record with its absolute distance from the reference
// amount.
type AmountMatch struct {
	Record model.Record    `json:"record"`
	Diff   decimal.Decimal `json:"diff"`
}

// Result groups the three kinds of related records. None of them contains
// the reference.
type Result struct {
	ByPayee     []PayeeMatch   `json:"by_payee"`
	ByAmount    []AmountMatch  `json:"by_amount"`
	Surrounding []model.Record `json:"surrounding"`
}

// Find searches corpus for records related to ref. The corpus may span
// every batch; Surrounding only looks at ref's batch.
func Find(ref model.Record, corpus []model.Record, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{
		ByPayee:     byPayee(ref, corpus, p.PayeeThreshold),
		ByAmount:    byAmount(ref, corpus, p.AmountTolerance),
		Surrounding: surrounding(ref, corpus, p.Surrounding),
	}

	if p.Limit > 0 {
		if len(res.ByPayee) > p.Limit {
			res.ByPayee = res.ByPayee[:p.Limit]
		}
		if len(res.ByAmount) > p.Limit {
			res.ByAmount = res.ByAmount[:p.Limit]
		}
	}
	return res, nil
}

// normalizePayee folds case and collapses runs of whitespace.
func normalizePayee(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// PayeeScore rates how alike two payees are, in [0,1]. One payee containing
// the other scores 1; otherwise the score is the Levenshtein ratio
// (len(a)+len(b)-distance)/(len(a)+len(b)) with substitutions costing two.
func PayeeScore(a, b string) float64 {
	return payeeScore(normalizePayee(a), normalizePayee(b))
}

func payeeScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

func byPayee(ref model.Record, corpus []model.Record, threshold float64) []PayeeMatch {
	target := normalizePayee(ref.Payee)
	if target == "" {
		return nil
	}

	var out []PayeeMatch
	for _, rec := range corpus {
		if rec.ID == ref.ID {
			continue
		}
		score := payeeScore(target, normalizePayee(rec.Payee))
		if score > 0 && score >= threshold {
			out = append(out, PayeeMatch{Record: rec, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return newerFirst(out[i].Record, out[j].Record)
	})
	return out
}

func byAmount(ref model.Record, corpus []model.Record, tolerance float64) []AmountMatch {
	refAbs := ref.Amount.Abs()
	tol := decimal.NewFromFloat(tolerance)
	lo := refAbs.Mul(decimal.NewFromInt(1).Sub(tol))
	hi := refAbs.Mul(decimal.NewFromInt(1).Add(tol))

	var out []AmountMatch
	for _, rec := range corpus {
		if rec.ID == ref.ID || rec.Amount.Sign() != ref.Amount.Sign() {
			continue
		}
		abs := rec.Amount.Abs()
		if abs.LessThan(lo) || abs.GreaterThan(hi) {
			continue
		}
		out = append(out, AmountMatch{Record: rec, Diff: abs.Sub(refAbs).Abs()})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Diff.Cmp(out[j].Diff); c != 0 {
			return c < 0
		}
		return newerFirst(out[i].Record, out[j].Record)
	})
	return out
}

// surrounding returns up to n records before and n after ref within ref's
// batch, ordered by date then import order.
func surrounding(ref model.Record, corpus []model.Record, n int) []model.Record {
	if n == 0 {
		return nil
	}

	batch := make([]model.Record, 0, len(corpus)+1)
	for _, rec := range corpus {
		if rec.BatchID == ref.BatchID && rec.ID != ref.ID {
			batch = append(batch, rec)
		}
	}
	batch = append(batch, ref)

	sort.SliceStable(batch, func(i, j int) bool { return chronological(batch[i], batch[j]) })

	pos := 0
	for i, rec := range batch {
		if rec.ID == ref.ID {
			pos = i
			break
		}
	}

	start := pos - n
	if start < 0 {
		start = 0
	}
	end := pos + n + 1
	if end > len(batch) {
		end = len(batch)
	}

	out := make([]model.Record, 0, end-start-1)
	out = append(out, batch[start:pos]...)
	out = append(out, batch[pos+1:end]...)
	return out
}

// chronological orders by date, then import sequence, then ID.
func chronological(a, b model.Record) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// newerFirst is the tie-break for scored results.
func newerFirst(a, b model.Record) bool {
	if a.Date != b.Date {
		return a.Date.After(b.Date)
	}
	return a.ID < b.ID
}
