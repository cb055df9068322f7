package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex

	batches    map[int64]*model.Batch
	records    map[int64]*model.Record
	categories map[string]model.Category
	rules      map[int64]model.Rule

	nextBatch  int64
	nextRecord int64
	nextRule   int64

	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		batches:    make(map[int64]*model.Batch),
		records:    make(map[int64]*model.Record),
		categories: make(map[string]model.Category),
		rules:      make(map[int64]model.Rule),
		now:        time.Now,
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateBatch(_ context.Context, b model.Batch, recs []model.Record) (model.Batch, []model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextBatch++
	b.ID = m.nextBatch
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now().UTC()
	}
	if b.Status == "" {
		b.Status = model.BatchInProgress
	}
	b.Total, b.Categorized = 0, 0

	out := make([]model.Record, len(recs))
	for i, rec := range recs {
		m.nextRecord++
		rec.ID = m.nextRecord
		rec.BatchID = b.ID
		stored := rec
		m.records[rec.ID] = &stored
		out[i] = rec

		b.Total++
		if rec.Categorized() {
			b.Categorized++
		}
	}

	stored := b
	m.batches[b.ID] = &stored
	return b, out, nil
}

func (m *Memory) GetBatch(_ context.Context, id int64) (model.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return model.Batch{}, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	return *b, nil
}

func (m *Memory) ListBatches(_ context.Context) ([]model.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) SetBatchStatus(_ context.Context, id int64, status string) (model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return model.Batch{}, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	b.Status = status
	return *b, nil
}

func (m *Memory) DeleteBatch(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[id]; !ok {
		return fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	delete(m.batches, id)
	for rid, rec := range m.records {
		if rec.BatchID == id {
			delete(m.records, rid)
		}
	}
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id int64) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return *rec, nil
}

func (m *Memory) ListRecords(_ context.Context, batchID int64) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.batches[batchID]; !ok {
		return nil, fmt.Errorf("batch %d: %w", batchID, ErrNotFound)
	}

	var out []model.Record
	for _, rec := range m.records {
		if rec.BatchID == batchID {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) AllRecords(_ context.Context) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetCategory(_ context.Context, a Assignment) (model.Record, model.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[a.RecordID]
	if !ok {
		return model.Record{}, model.Progress{}, fmt.Errorf("record %d: %w", a.RecordID, ErrNotFound)
	}
	b := m.batches[rec.BatchID]

	was := rec.Categorized()
	applyAssignment(rec, a)
	switch now := rec.Categorized(); {
	case now && !was:
		b.Categorized++
	case !now && was:
		b.Categorized--
	}

	return *rec, b.Progress(), nil
}

// applyAssignment mutates rec in place.
func applyAssignment(rec *model.Record, a Assignment) {
	rec.Category = a.Category
	rec.Note = a.Note
	if a.Category == "" {
		rec.AssignedBy = ""
		rec.AssignedAt = nil
		return
	}
	at := a.At.UTC()
	rec.AssignedBy = a.Actor
	rec.AssignedAt = &at
}

func (m *Memory) MigrateCategories(_ context.Context, mapping map[string]string) ([]model.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]model.Record, 0)
	for _, rec := range m.records {
		if to, ok := mapping[rec.Category]; ok && rec.Category != "" {
			rec.Category = to
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	rules := 0
	for id, r := range m.rules {
		if to, ok := mapping[r.Category]; ok {
			r.Category = to
			m.rules[id] = r
			rules++
		}
	}
	return records, rules, nil
}

func (m *Memory) ListCategories(_ context.Context) ([]model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullPath < out[j].FullPath })
	return out, nil
}

func (m *Memory) UpsertCategories(_ context.Context, cats ...model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range cats {
		c.FullPath = model.JoinPath(c.Parent, c.Name)
		m.categories[c.FullPath] = c
	}
	return nil
}

func (m *Memory) DeleteCategories(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range paths {
		delete(m.categories, p)
	}
	return nil
}

func (m *Memory) ListRules(_ context.Context) ([]model.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetRule(_ context.Context, id int64) (model.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return model.Rule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) CreateRule(_ context.Context, r model.Rule) (model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRule++
	r.ID = m.nextRule
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	m.rules[r.ID] = r
	return r, nil
}

func (m *Memory) UpdateRule(_ context.Context, r model.Rule) (model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rules[r.ID]
	if !ok {
		return model.Rule{}, fmt.Errorf("rule %d: %w", r.ID, ErrNotFound)
	}
	r.CreatedBy, r.CreatedAt = old.CreatedBy, old.CreatedAt
	m.rules[r.ID] = r
	return r, nil
}

func (m *Memory) DeleteRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	delete(m.rules, id)
	return nil
}

// sortRecords orders by date, import sequence, then ID.
func sortRecords(recs []model.Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
}
