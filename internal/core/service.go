package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/JonMunkholm/moneyfest/internal/category"
	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/JonMunkholm/moneyfest/internal/similar"
	"github.com/JonMunkholm/moneyfest/internal/store"
	"github.com/JonMunkholm/moneyfest/internal/synchub"
)

var (
	// ErrEmptyUpload is returned when a file parses but yields no records.
	ErrEmptyUpload = errors.New("upload contains no records")
	// ErrUnknownCategory is returned when assigning a category that is not
	// in the catalog.
	ErrUnknownCategory = errors.New("unknown category")
)

// Options configures a Service.
type Options struct {
	MaxConcurrentUploads int
	UploadWait           time.Duration
	// Similarity holds the defaults for Similar.
	Similarity similar.Params
	Logger     *slog.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Service is the entry point for every batch, record, rule and category
// operation. Mutations are persisted first and then announced to observers
// through the hub.
type Service struct {
	store   store.Store
	hub     *synchub.Hub
	tracker *synchub.Tracker
	index   *category.Index
	limiter *IngestLimiter
	params  similar.Params
	logger  *slog.Logger
	now     func() time.Time

	// catalogMu serialises rename and delete so a failed store write can
	// restore the index.
	catalogMu sync.Mutex
}

// NewService loads the category catalog and batch progress from st.
func NewService(ctx context.Context, st store.Store, hub *synchub.Hub, opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Similarity == (similar.Params{}) {
		opts.Similarity = similar.DefaultParams()
	}
	if err := opts.Similarity.Validate(); err != nil {
		return nil, fmt.Errorf("similarity defaults: %w", err)
	}
	if hub == nil {
		hub = synchub.NewHub(opts.Logger)
	}

	cats, err := st.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	s := &Service{
		store:   st,
		hub:     hub,
		tracker: synchub.NewTracker(hub),
		index:   category.NewIndex(cats...),
		limiter: NewIngestLimiter(opts.MaxConcurrentUploads, opts.UploadWait),
		params:  opts.Similarity,
		logger:  opts.Logger,
		now:     opts.Now,
	}

	batches, err := st.ListBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	for _, b := range batches {
		s.tracker.Seed(b.Progress())
	}

	s.logger.Info("service ready", "categories", s.index.Len(), "batches", len(batches))
	return s, nil
}

// Hub returns the hub events are published on.
func (s *Service) Hub() *synchub.Hub { return s.hub }

// SimilarityDefaults returns the configured search parameters.
func (s *Service) SimilarityDefaults() similar.Params { return s.params }

// LimiterStatus reports upload slot usage.
func (s *Service) LimiterStatus() LimiterStatus { return s.limiter.Status() }

// WaitForUploads blocks until in-flight uploads finish.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// IngestResult is the outcome of a successful upload.
type IngestResult struct {
	Batch   model.Batch               `json:"batch"`
	Format  ingest.Descriptor         `json:"format"`
	Warning *ingest.SkippedRowWarning `json:"warning,omitempty"`
}

// Ingest detects the format of raw, parses it and stores the records as a
// new batch. Structural errors abort the upload and nothing is stored;
// skipped rows are reported on the result.
func (s *Service) Ingest(ctx context.Context, name string, raw []byte) (*IngestResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	actor := ActorFromContext(ctx)
	logger := s.logger.With("batch_name", name, "actor", actor)
	if ip := ClientIPFromContext(ctx); ip != "" {
		logger = logger.With("client_ip", ip)
	}

	desc, res, err := ingest.DetectAndParse(raw)
	if err != nil {
		logger.Warn("upload rejected", "error", err)
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, ErrEmptyUpload
	}

	dates := make([]civil.Date, len(res.Records))
	for i, rec := range res.Records {
		dates[i] = rec.Date
	}
	from, to, _ := ingest.DateRange(dates)

	batch, _, err := s.store.CreateBatch(ctx, model.Batch{
		Name:      name,
		CreatedBy: actor,
		Status:    model.BatchInProgress,
		Format:    string(desc.Kind),
		DateFrom:  from,
		DateTo:    to,
		CreatedAt: s.now().UTC(),
	}, res.Records)
	if err != nil {
		return nil, fmt.Errorf("store batch: %w", err)
	}
	s.tracker.Seed(batch.Progress())

	result := &IngestResult{Batch: batch, Format: desc, Warning: res.Warning()}
	logger.Info("batch imported",
		"batch_id", batch.ID,
		"format", desc.Kind,
		"encoding", desc.Encoding,
		"records", batch.Total,
		"skipped", len(res.Skipped),
	)
	return result, nil
}

// ListBatches returns all batches, newest first.
func (s *Service) ListBatches(ctx context.Context) ([]model.Batch, error) {
	return s.store.ListBatches(ctx)
}

// GetBatch returns one batch with its counters.
func (s *Service) GetBatch(ctx context.Context, id int64) (model.Batch, error) {
	return s.store.GetBatch(ctx, id)
}

// Progress returns the categorisation progress of a batch.
func (s *Service) Progress(ctx context.Context, id int64) (model.Progress, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return model.Progress{}, err
	}
	return b.Progress(), nil
}

// DeleteBatch removes a batch and its records.
func (s *Service) DeleteBatch(ctx context.Context, id int64) error {
	if err := s.store.DeleteBatch(ctx, id); err != nil {
		return err
	}
	s.tracker.Forget(id)
	s.logger.Info("batch deleted", "batch_id", id, "actor", ActorFromContext(ctx))
	return nil
}

// ArchiveBatch hides a batch from the active list. Archived batches keep
// their status when records change.
func (s *Service) ArchiveBatch(ctx context.Context, id int64) (model.Batch, error) {
	return s.store.SetBatchStatus(ctx, id, model.BatchArchived)
}

// UnarchiveBatch restores the status implied by the batch's progress.
func (s *Service) UnarchiveBatch(ctx context.Context, id int64) (model.Batch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return model.Batch{}, err
	}
	return s.store.SetBatchStatus(ctx, id, statusFor(b.Progress()))
}

// settleProgress re-reads a batch after a record change, publishes its
// progress and flips its status between in_progress and complete. Both
// happen under the tracker lock so concurrent changes settle in store
// order. Archived batches keep their status. If the batch cannot be read,
// the snapshot from the write is returned unpublished.
func (s *Service) settleProgress(ctx context.Context, batchID int64, snapshot model.Progress) model.Progress {
	p, completed, err := s.tracker.Refresh(batchID, func() (model.Progress, error) {
		b, err := s.store.GetBatch(ctx, batchID)
		if err != nil {
			return model.Progress{}, err
		}
		s.syncBatchStatus(ctx, b)
		return b.Progress(), nil
	})
	if err != nil {
		s.logger.Warn("batch progress lookup failed", "batch_id", batchID, "error", err)
		return snapshot
	}
	if completed {
		s.logger.Info("batch fully categorised", "batch_id", batchID)
	}
	return p
}

func (s *Service) syncBatchStatus(ctx context.Context, b model.Batch) {
	want := statusFor(b.Progress())
	if b.Status == model.BatchArchived || b.Status == want {
		return
	}
	if _, err := s.store.SetBatchStatus(ctx, b.ID, want); err != nil {
		s.logger.Warn("batch status update failed", "batch_id", b.ID, "error", err)
		return
	}
	s.logger.Info("batch status changed", "batch_id", b.ID, "status", want)
}

func statusFor(p model.Progress) string {
	if p.Complete() {
		return model.BatchComplete
	}
	return model.BatchInProgress
}
