package core

// scheduler.go runs background maintenance.
//
// Currently implements batch archiving: complete batches older than the
// configured age are moved to the archived status so the active list stays
// short. Failures are logged and retried on the next tick; they never stop
// the application.

import (
	"context"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// ArchiveConfig holds configuration for the archive scheduler.
// Zero values fall back to the defaults below.
type ArchiveConfig struct {
	AfterDays     int           // Age of a complete batch before it is archived (default: 90)
	CheckInterval time.Duration // How often to run (default: 24h)
}

const (
	DefaultArchiveAfterDays     = 90
	DefaultArchiveCheckInterval = 24 * time.Hour
)

func (c ArchiveConfig) withDefaults() ArchiveConfig {
	if c.AfterDays <= 0 {
		c.AfterDays = DefaultArchiveAfterDays
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultArchiveCheckInterval
	}
	return c
}

// StartArchiveScheduler archives old complete batches now and then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartArchiveScheduler(ctx context.Context, cfg ArchiveConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("archive scheduler started",
		"after_days", cfg.AfterDays,
		"interval", cfg.CheckInterval,
	)

	s.runArchiveJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("archive scheduler stopped")
			return
		case <-ticker.C:
			s.runArchiveJob(ctx, cfg)
		}
	}
}

func (s *Service) runArchiveJob(ctx context.Context, cfg ArchiveConfig) {
	start := time.Now()
	cutoff := s.now().AddDate(0, 0, -cfg.AfterDays)

	n, err := s.ArchiveCompleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("archive job failed", "error", err, "archived", n)
		return
	}
	s.logger.Info("archive job completed",
		"archived", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ArchiveCompleteBefore archives every complete batch created before cutoff
// and returns how many were archived.
func (s *Service) ArchiveCompleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, b := range batches {
		if b.Status != model.BatchComplete || !b.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := s.store.SetBatchStatus(ctx, b.ID, model.BatchArchived); err != nil {
			return archived, err
		}
		archived++
		s.logger.Debug("batch archived", "batch_id", b.ID, "created_at", b.CreatedAt)
	}
	return archived, nil
}
