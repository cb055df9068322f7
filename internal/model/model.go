// Package model holds the record shapes shared by ingestion, categorisation,
// similarity search, storage and the sync hub.
package model

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Record status values. Status is derived from whether a category is assigned.
const (
	StatusUncategorized = "uncategorized"
	StatusCategorized   = "categorized"
)

// Batch status values.
const (
	BatchInProgress = "in_progress"
	BatchComplete   = "complete"
	BatchArchived   = "archived"
)

// Record is one normalized bank transaction.
type Record struct {
	ID      int64           `json:"id"`
	BatchID int64           `json:"batch_id"`
	Seq     int             `json:"seq"`
	Date    civil.Date      `json:"date"`
	Payee   string          `json:"payee"`
	Amount  decimal.Decimal `json:"amount"`

	Category string `json:"category,omitempty"`
	Note     string `json:"note,omitempty"`

	// Values found in the imported file, kept for reference.
	OriginalCategory string `json:"original_category,omitempty"`
	OriginalComment  string `json:"original_comment,omitempty"`

	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

// Status reports whether the record has a category.
func (r Record) Status() string {
	if r.Category != "" {
		return StatusCategorized
	}
	return StatusUncategorized
}

// Categorized is shorthand for Status() == StatusCategorized.
func (r Record) Categorized() bool {
	return r.Category != ""
}

// Batch is a group of records that share one upload.
type Batch struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	CreatedBy   string     `json:"created_by"`
	Status      string     `json:"status"`
	Format      string     `json:"format"`
	DateFrom    civil.Date `json:"date_from"`
	DateTo      civil.Date `json:"date_to"`
	Total       int        `json:"total"`
	Categorized int        `json:"categorized"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Progress returns the batch's categorisation counters.
func (b Batch) Progress() Progress {
	return Progress{BatchID: b.ID, Done: b.Categorized, Total: b.Total}
}

// Progress counts categorised records in a batch.
type Progress struct {
	BatchID int64 `json:"batch_id"`
	Done    int   `json:"done"`
	Total   int   `json:"total"`
}

// Percent returns the completion percentage (0-100).
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}

// Complete is true when every record in a non-empty batch is categorised.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Done >= p.Total
}

// Rule match modes.
const (
	MatchContains = "contains"
	MatchExact    = "exact"
)

// Rule maps a payee pattern to a category. Rules are never edited in place;
// an update replaces the whole rule.
type Rule struct {
	ID        int64     `json:"id"`
	Pattern   string    `json:"pattern"`
	Mode      string    `json:"match_type"`
	Category  string    `json:"category"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// PathSeparator joins parent and child in a canonical category path.
const PathSeparator = ":"

// Category is one node of the two-level category hierarchy.
type Category struct {
	Parent   string `json:"parent,omitempty"`
	Name     string `json:"name"`
	FullPath string `json:"full_path"`
	Usage    uint64 `json:"usage_count"`
}

// JoinPath builds the canonical full path for parent and name.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + PathSeparator + name
}

// SplitPath splits a full path on the first separator.
func SplitPath(fullPath string) (parent, name string) {
	if i := strings.Index(fullPath, PathSeparator); i >= 0 {
		return fullPath[:i], fullPath[i+1:]
	}
	return "", fullPath
}
