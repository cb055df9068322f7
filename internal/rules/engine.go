// Package rules evaluates payee pattern rules.
//
// Matching is case-insensitive using Unicode case folding. Every rule that
// matches is reported; there is no precedence between rules.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/model"
	"golang.org/x/text/cases"
)

// DefaultPreviewLimit caps Preview when no limit is given.
const DefaultPreviewLimit = 100

var ErrInvalidRule = errors.New("invalid rule")

// Suggestion is a matched rule and the category it proposes.
type Suggestion struct {
	Rule     model.Rule `json:"rule"`
	Category string     `json:"category"`
}

// fold normalises s for comparison. cases.Caser is not safe for concurrent
// use, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Validate checks a rule before it is stored.
func Validate(r model.Rule) error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidRule)
	}
	if r.Mode != model.MatchContains && r.Mode != model.MatchExact {
		return fmt.Errorf("%w: unknown match mode %q", ErrInvalidRule, r.Mode)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("%w: empty category", ErrInvalidRule)
	}
	return nil
}

// Matches reports whether r applies to payee.
func Matches(r model.Rule, payee string) bool {
	return matchFolded(r.Mode, fold(r.Pattern), fold(payee))
}

func matchFolded(mode, pattern, payee string) bool {
	if pattern == "" {
		return false
	}
	switch mode {
	case model.MatchExact:
		return payee == pattern
	case model.MatchContains:
		return strings.Contains(payee, pattern)
	default:
		return false
	}
}

// Suggest returns every rule in rs that matches payee, in the order given.
// It has no side effects.
func Suggest(payee string, rs []model.Rule) []Suggestion {
	folded := fold(payee)

	var out []Suggestion
	for _, r := range rs {
		if matchFolded(r.Mode, fold(r.Pattern), folded) {
			out = append(out, Suggestion{Rule: r, Category: r.Category})
		}
	}
	return out
}

// Preview returns up to limit records that r would match, in corpus order.
func Preview(r model.Rule, corpus []model.Record, limit int) []model.Record {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}

	pattern := fold(r.Pattern)
	var out []model.Record
	for _, rec := range corpus {
		if matchFolded(r.Mode, pattern, fold(rec.Payee)) {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
