// Package store persists batches, records, categories and rules.
//
// Mutations return the state after the change so callers never need a
// follow-up read. Record updates are last-write-wins.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// ErrNotFound is returned when a batch, record or rule does not exist.
var ErrNotFound = errors.New("not found")

// Assignment is a category change for one record.
type Assignment struct {
	RecordID int64
	Category string
	Note     string
	Actor    string
	At       time.Time
}

// Store is implemented by Memory and Postgres.
type Store interface {
	// CreateBatch stores b and recs atomically, assigning IDs. Record
	// BatchID fields are overwritten.
	CreateBatch(ctx context.Context, b model.Batch, recs []model.Record) (model.Batch, []model.Record, error)
	GetBatch(ctx context.Context, id int64) (model.Batch, error)
	ListBatches(ctx context.Context) ([]model.Batch, error)
	SetBatchStatus(ctx context.Context, id int64, status string) (model.Batch, error)
	// DeleteBatch removes a batch and all its records.
	DeleteBatch(ctx context.Context, id int64) error

	GetRecord(ctx context.Context, id int64) (model.Record, error)
	// ListRecords returns a batch's records by date, then import order.
	ListRecords(ctx context.Context, batchID int64) ([]model.Record, error)
	// AllRecords returns every stored record.
	AllRecords(ctx context.Context) ([]model.Record, error)
	// SetCategory applies a. An empty category clears the assignment.
	SetCategory(ctx context.Context, a Assignment) (model.Record, model.Progress, error)
	// MigrateCategories rewrites record and rule categories from old to new
	// path in one transaction. It returns the rewritten records by id.
	MigrateCategories(ctx context.Context, mapping map[string]string) (records []model.Record, rules int, err error)

	ListCategories(ctx context.Context) ([]model.Category, error)
	UpsertCategories(ctx context.Context, cats ...model.Category) error
	DeleteCategories(ctx context.Context, paths ...string) error

	ListRules(ctx context.Context) ([]model.Rule, error)
	GetRule(ctx context.Context, id int64) (model.Rule, error)
	CreateRule(ctx context.Context, r model.Rule) (model.Rule, error)
	// UpdateRule replaces the pattern, mode and category of rule r.ID.
	UpdateRule(ctx context.Context, r model.Rule) (model.Rule, error)
	DeleteRule(ctx context.Context, id int64) error

	Close()
}
