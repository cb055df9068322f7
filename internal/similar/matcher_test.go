package similar

import (
	"errors"
	"math"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, batch int64, day int, payee, amount string) model.Record {
	return model.Record{
		ID:      id,
		BatchID: batch,
		Seq:     int(id),
		Date:    civil.Date{Year: 2024, Month: 5, Day: day},
		Payee:   payee,
		Amount:  decimal.RequireFromString(amount),
	}
}

func ids[T any](items []T, id func(T) int64) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func payeeIDs(m []PayeeMatch) []int64 {
	return ids(m, func(p PayeeMatch) int64 { return p.Record.ID })
}

func amountIDs(m []AmountMatch) []int64 {
	return ids(m, func(a AmountMatch) int64 { return a.Record.ID })
}

func recordIDs(m []model.Record) []int64 {
	return ids(m, func(r model.Record) int64 { return r.ID })
}

func TestPayeeScore(t *testing.T) {
	assert.Equal(t, 1.0, PayeeScore("Netto", "NETTO HEDEHUSE"))
	assert.Equal(t, 1.0, PayeeScore("433 Netto  Hedehuse", "netto hedehuse"))
	assert.Equal(t, 0.0, PayeeScore("", "netto"))

	near := PayeeScore("Netto Hedehuse", "Netto Hedehusene")
	assert.Equal(t, 1.0, near)

	typo := PayeeScore("Starbucks", "Starbukcs")
	assert.Greater(t, typo, 0.6)
	assert.Less(t, typo, 1.0)

	far := PayeeScore("Starbucks", "Shell")
	assert.Less(t, far, 0.6)
}

func TestFind_ByPayee(t *testing.T) {
	ref := rec(1, 1, 10, "IKEA Taastrup", "-100")
	corpus := []model.Record{
		ref,
		rec(2, 2, 1, "ikea taastrup", "-5"),
		rec(3, 1, 12, "IKEA Tastrup", "-7"),
		rec(4, 3, 3, "Netto", "-100"),
		rec(5, 3, 20, "IKEA", "-9"),
	}

	res, err := Find(ref, corpus, DefaultParams())
	require.NoError(t, err)

	// 2 and 5 contain or are contained in the reference; 5 is newer.
	assert.Equal(t, []int64{5, 2, 3}, payeeIDs(res.ByPayee))
	assert.Equal(t, 1.0, res.ByPayee[0].Score)
	assert.Less(t, res.ByPayee[2].Score, 1.0)
}

func TestFind_ByAmount(t *testing.T) {
	ref := rec(1, 1, 10, "Shop", "-100.00")
	corpus := []model.Record{
		ref,
		rec(2, 1, 1, "A", "-95"),
		rec(3, 2, 2, "B", "-110"),
		rec(4, 2, 3, "C", "100"), // income, never matches an expense
		rec(5, 3, 4, "D", "-111"),
		rec(6, 3, 5, "E", "-90"),
		rec(7, 3, 6, "F", "-105"),
		rec(8, 3, 7, "G", "-100"),
	}

	res, err := Find(ref, corpus, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, []int64{8, 7, 2, 6, 3}, amountIDs(res.ByAmount))
	for _, m := range res.ByAmount {
		assert.True(t, m.Record.Amount.IsNegative())
		assert.NotEqual(t, ref.ID, m.Record.ID)
	}
	assert.Equal(t, "5", res.ByAmount[2].Diff.String())
}

func TestFind_ByAmountZeroTolerance(t *testing.T) {
	ref := rec(1, 1, 10, "Shop", "50")
	corpus := []model.Record{ref, rec(2, 1, 1, "A", "50.00"), rec(3, 1, 1, "B", "50.01")}

	res, err := Find(ref, corpus, Params{AmountTolerance: 0, PayeeThreshold: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, amountIDs(res.ByAmount))
}

func TestFind_Surrounding(t *testing.T) {
	ref := rec(6, 1, 10, "Ref", "-1")
	corpus := []model.Record{
		rec(1, 1, 1, "a", "-1"),
		rec(2, 1, 2, "b", "-1"),
		rec(3, 1, 10, "c", "-1"),
		rec(4, 1, 10, "d", "-1"),
		rec(5, 1, 9, "e", "-1"),
		ref,
		rec(7, 1, 10, "f", "-1"),
		rec(8, 1, 11, "g", "-1"),
		rec(9, 2, 10, "other batch", "-1"),
	}

	res, err := Find(ref, corpus, Params{PayeeThreshold: 1, Surrounding: 2})
	require.NoError(t, err)

	// Order: 1,2,5,3,4,6(ref),7,8.
	assert.Equal(t, []int64{3, 4, 7, 8}, recordIDs(res.Surrounding))

	res, err = Find(ref, corpus, Params{PayeeThreshold: 1, Surrounding: 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 5, 3, 4, 7, 8}, recordIDs(res.Surrounding))

	res, err = Find(ref, corpus, Params{PayeeThreshold: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Surrounding)
}

func TestFind_NeverReturnsReference(t *testing.T) {
	ref := rec(1, 1, 10, "Netto", "-10")
	corpus := []model.Record{ref, ref, rec(2, 1, 10, "Netto", "-10")}

	res, err := Find(ref, corpus, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, payeeIDs(res.ByPayee))
	assert.Equal(t, []int64{2}, amountIDs(res.ByAmount))
	assert.Equal(t, []int64{2}, recordIDs(res.Surrounding))
}

func TestFind_Limit(t *testing.T) {
	ref := rec(1, 1, 1, "Netto", "-10")
	corpus := []model.Record{ref}
	for i := int64(2); i < 10; i++ {
		corpus = append(corpus, rec(i, 2, int(i), "Netto", "-10"))
	}

	res, err := Find(ref, corpus, Params{PayeeThreshold: 0.6, AmountTolerance: 0.1, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, res.ByPayee, 3)
	assert.Len(t, res.ByAmount, 3)
}

func TestFind_InvalidParameters(t *testing.T) {
	ref := rec(1, 1, 1, "x", "1")
	tests := []struct {
		name string
		p    Params
	}{
		{"threshold above one", Params{PayeeThreshold: 1.5}},
		{"negative threshold", Params{PayeeThreshold: -0.1}},
		{"tolerance above one", Params{PayeeThreshold: 0.5, AmountTolerance: 2}},
		{"nan tolerance", Params{PayeeThreshold: 0.5, AmountTolerance: math.NaN()}},
		{"negative surrounding", Params{Surrounding: -1}},
		{"negative limit", Params{Limit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Find(ref, nil, tt.p)
			var ipe *InvalidParameterError
			assert.True(t, errors.As(err, &ipe), "got %v", err)
		})
	}
}
