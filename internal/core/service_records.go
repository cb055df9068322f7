package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/JonMunkholm/moneyfest/internal/rules"
	"github.com/JonMunkholm/moneyfest/internal/similar"
	"github.com/JonMunkholm/moneyfest/internal/store"
	"github.com/JonMunkholm/moneyfest/internal/synchub"
)

// Records returns a batch's records by date, then file order.
func (s *Service) Records(ctx context.Context, batchID int64) ([]model.Record, error) {
	return s.store.ListRecords(ctx, batchID)
}

// GetRecord returns one record.
func (s *Service) GetRecord(ctx context.Context, id int64) (model.Record, error) {
	return s.store.GetRecord(ctx, id)
}

// Assignment is the outcome of a category change.
type Assignment struct {
	Record   model.Record   `json:"record"`
	Progress model.Progress `json:"progress"`
}

// SetCategory assigns category and note to a record on behalf of the actor
// in ctx. An empty category clears the assignment. Observers of the record's
// batch receive record-mutated followed by progress-changed, plus
// group-complete when this change completed the batch.
func (s *Service) SetCategory(ctx context.Context, recordID int64, category, note string) (Assignment, error) {
	category = strings.TrimSpace(category)
	if category != "" && !s.index.Exists(category) {
		return Assignment{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return s.assign(ctx, recordID, category, note)
}

// BulkSetCategory applies the same category and note to every record in
// ids. The category is validated once up front; a missing record stops the
// run and returns the assignments made so far.
func (s *Service) BulkSetCategory(ctx context.Context, ids []int64, category, note string) ([]Assignment, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no records given", ErrInvalidInput)
	}
	category = strings.TrimSpace(category)
	if category != "" && !s.index.Exists(category) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	out := make([]Assignment, 0, len(ids))
	for _, id := range ids {
		a, err := s.assign(ctx, id, category, note)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Service) assign(ctx context.Context, recordID int64, category, note string) (Assignment, error) {
	actor := ActorFromContext(ctx)

	rec, progress, err := s.store.SetCategory(ctx, store.Assignment{
		RecordID: recordID,
		Category: category,
		Note:     strings.TrimSpace(note),
		Actor:    actor,
		At:       s.now(),
	})
	if err != nil {
		return Assignment{}, err
	}

	if category != "" {
		s.touchCategory(ctx, category)
	}

	s.hub.Publish(rec.BatchID, synchub.RecordMutated(rec))
	progress = s.settleProgress(ctx, rec.BatchID, progress)

	s.logger.Debug("record categorised",
		"record_id", rec.ID,
		"batch_id", rec.BatchID,
		"category", category,
		"actor", actor,
	)
	return Assignment{Record: rec, Progress: progress}, nil
}

// touchCategory bumps usage. Failures only cost ranking accuracy, so they
// are logged and not returned.
func (s *Service) touchCategory(ctx context.Context, path string) {
	if err := s.index.Touch(path); err != nil {
		s.logger.Warn("category usage not recorded", "category", path, "error", err)
		return
	}
	c, ok := s.index.Get(path)
	if !ok {
		return
	}
	if err := s.store.UpsertCategories(ctx, c); err != nil {
		s.logger.Warn("category usage not persisted", "category", path, "error", err)
	}
}

// Suggest returns the categories proposed by every rule matching the
// record's payee.
func (s *Service) Suggest(ctx context.Context, recordID int64) ([]rules.Suggestion, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return s.SuggestPayee(ctx, rec.Payee)
}

// SuggestPayee runs the rule set against an arbitrary payee.
func (s *Service) SuggestPayee(ctx context.Context, payee string) ([]rules.Suggestion, error) {
	rs, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return rules.Suggest(payee, rs), nil
}

// Similar finds records related to recordID across every batch.
func (s *Service) Similar(ctx context.Context, recordID int64, p similar.Params) (similar.Result, error) {
	if err := p.Validate(); err != nil {
		return similar.Result{}, err
	}

	ref, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return similar.Result{}, err
	}
	corpus, err := s.store.AllRecords(ctx)
	if err != nil {
		return similar.Result{}, err
	}
	return similar.Find(ref, corpus, p)
}

// Export writes a batch in the AceMoney layout.
func (s *Service) Export(ctx context.Context, batchID int64, w io.Writer) error {
	recs, err := s.store.ListRecords(ctx, batchID)
	if err != nil {
		return err
	}
	if err := ingest.Export(w, recs); err != nil {
		return fmt.Errorf("export batch %d: %w", batchID, err)
	}
	return nil
}

// IsNotFound reports whether err means the target does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
