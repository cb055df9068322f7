package store

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(seq, day int, payee, amount, category string) model.Record {
	return model.Record{
		Seq:      seq,
		Date:     civil.Date{Year: 2024, Month: 3, Day: day},
		Payee:    payee,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
	}
}

func seed(t *testing.T, m *Memory) (model.Batch, []model.Record) {
	t.Helper()
	b, recs, err := m.CreateBatch(context.Background(), model.Batch{Name: "march", CreatedBy: "alice"}, []model.Record{
		sample(1, 5, "Netto", "-45.50", ""),
		sample(2, 1, "IKEA", "-1200", "Home:Furniture"),
		sample(3, 5, "Salary", "28500", ""),
	})
	require.NoError(t, err)
	return b, recs
}

func TestMemory_CreateBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b, recs := seed(t, m)
	assert.Equal(t, int64(1), b.ID)
	assert.Equal(t, model.BatchInProgress, b.Status)
	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 1, b.Categorized)
	assert.False(t, b.CreatedAt.IsZero())

	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, b.ID, r.BatchID)
		assert.NotZero(t, r.ID)
	}

	listed, err := m.ListRecords(ctx, b.ID)
	require.NoError(t, err)
	// By date then seq.
	assert.Equal(t, []string{"IKEA", "Netto", "Salary"}, []string{listed[0].Payee, listed[1].Payee, listed[2].Payee})

	_, err = m.ListRecords(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_SetCategoryTracksProgress(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b, recs := seed(t, m)
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	rec, p, err := m.SetCategory(ctx, Assignment{RecordID: recs[0].ID, Category: "Food:Groceries", Note: "weekly", Actor: "bob", At: at})
	require.NoError(t, err)
	assert.Equal(t, "Food:Groceries", rec.Category)
	assert.Equal(t, "weekly", rec.Note)
	assert.Equal(t, "bob", rec.AssignedBy)
	require.NotNil(t, rec.AssignedAt)
	assert.Equal(t, at, *rec.AssignedAt)
	assert.Equal(t, model.Progress{BatchID: b.ID, Done: 2, Total: 3}, p)

	// Reassigning does not double count.
	_, p, err = m.SetCategory(ctx, Assignment{RecordID: recs[0].ID, Category: "Food:Other", Actor: "carol", At: at})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Done)

	rec, p, err = m.SetCategory(ctx, Assignment{RecordID: recs[1].ID, Actor: "bob", At: at})
	require.NoError(t, err)
	assert.Empty(t, rec.Category)
	assert.Empty(t, rec.AssignedBy)
	assert.Nil(t, rec.AssignedAt)
	assert.Equal(t, 1, p.Done)

	got, err := m.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Categorized)

	_, _, err = m.SetCategory(ctx, Assignment{RecordID: 404, Category: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_DeleteBatchCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b, recs := seed(t, m)

	require.NoError(t, m.DeleteBatch(ctx, b.ID))
	_, err := m.GetRecord(ctx, recs[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := m.AllRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, m.DeleteBatch(ctx, b.ID), ErrNotFound)
}

func TestMemory_BatchStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b, _ := seed(t, m)

	got, err := m.SetBatchStatus(ctx, b.ID, model.BatchArchived)
	require.NoError(t, err)
	assert.Equal(t, model.BatchArchived, got.Status)

	_, err = m.SetBatchStatus(ctx, 42, model.BatchArchived)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_MigrateCategories(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, recs := seed(t, m)

	_, err := m.CreateRule(ctx, model.Rule{Pattern: "ikea", Mode: model.MatchContains, Category: "Home:Furniture"})
	require.NoError(t, err)
	_, err = m.CreateRule(ctx, model.Rule{Pattern: "netto", Mode: model.MatchContains, Category: "Food"})
	require.NoError(t, err)

	moved, nRules, err := m.MigrateCategories(ctx, map[string]string{"Home:Furniture": "House:Furniture"})
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, recs[1].ID, moved[0].ID)
	assert.Equal(t, "House:Furniture", moved[0].Category)
	assert.Equal(t, 1, nRules)

	rec, err := m.GetRecord(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "House:Furniture", rec.Category)

	rules, err := m.ListRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, "House:Furniture", rules[0].Category)
	assert.Equal(t, "Food", rules[1].Category)
}

func TestMemory_Categories(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertCategories(ctx,
		model.Category{Name: "Food"},
		model.Category{Parent: "Food", Name: "Groceries", Usage: 2},
	))
	require.NoError(t, m.UpsertCategories(ctx, model.Category{Parent: "Food", Name: "Groceries", Usage: 3}))

	cats, err := m.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Food:Groceries", cats[1].FullPath)
	assert.Equal(t, uint64(3), cats[1].Usage)

	require.NoError(t, m.DeleteCategories(ctx, "Food:Groceries"))
	cats, err = m.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestMemory_Rules(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r, err := m.CreateRule(ctx, model.Rule{Pattern: "ikea", Mode: model.MatchContains, Category: "Home", CreatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ID)

	updated, err := m.UpdateRule(ctx, model.Rule{ID: r.ID, Pattern: "IKEA", Mode: model.MatchExact, Category: "House"})
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.CreatedBy)
	assert.Equal(t, r.CreatedAt, updated.CreatedAt)
	assert.Equal(t, model.MatchExact, updated.Mode)

	_, err = m.UpdateRule(ctx, model.Rule{ID: 9})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeleteRule(ctx, r.ID))
	_, err = m.GetRule(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgConversions(t *testing.T) {
	for _, s := range []string{"-45.5", "28500", "0.01", "-1200"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(fromPgNumeric(toPgNumeric(d))), s)
	}
	assert.True(t, fromPgNumeric(toPgNumeric(decimal.Zero)).IsZero())

	day := civil.Date{Year: 2005, Month: 2, Day: 2}
	assert.Equal(t, day, fromPgDate(toPgDate(day)))
	assert.False(t, toPgDate(civil.Date{}).Valid)
}
