package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/JonMunkholm/moneyfest/internal/rules"
	"github.com/JonMunkholm/moneyfest/internal/synchub"
)

// ----------------------------------------------------------------------------
// Categories
// ----------------------------------------------------------------------------

// Categories returns the whole catalog sorted by path.
func (s *Service) Categories() []model.Category {
	return s.index.All()
}

// FrequentCategories returns the most used categories. limit <= 0 uses
// category.DefaultFrequentLimit.
func (s *Service) FrequentCategories(limit int) []model.Category {
	return s.index.Frequent(limit)
}

// AddCategory creates fullPath, and its parent when missing.
func (s *Service) AddCategory(ctx context.Context, fullPath string) (model.Category, error) {
	c, err := s.index.Add(fullPath)
	if err != nil {
		return model.Category{}, err
	}

	toSave := []model.Category{c}
	if c.Parent != "" {
		if p, ok := s.index.Get(c.Parent); ok {
			toSave = append(toSave, p)
		}
	}
	if err := s.store.UpsertCategories(ctx, toSave...); err != nil {
		return model.Category{}, fmt.Errorf("save category: %w", err)
	}

	s.logger.Info("category added", "category", c.FullPath, "actor", ActorFromContext(ctx))
	return c, nil
}

// RenameCategory moves oldPath to newParent:newName. Records and rules
// pointing at the old path, or at a child of it, are rewritten.
func (s *Service) RenameCategory(ctx context.Context, oldPath, newParent, newName string) (model.Category, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	before := s.index.All()
	moved, err := s.index.Rename(oldPath, newParent, newName)
	if err != nil {
		return model.Category{}, err
	}
	newPath := model.JoinPath(strings.TrimSpace(newParent), strings.TrimSpace(newName))
	if len(moved) == 0 {
		c, _ := s.index.Get(newPath)
		return c, nil
	}

	if err := s.persistMigration(ctx, moved); err != nil {
		s.index.Reset(before...)
		return model.Category{}, err
	}

	c, _ := s.index.Get(newPath)
	s.logger.Info("category renamed", "from", oldPath, "to", newPath, "paths", len(moved), "actor", ActorFromContext(ctx))
	return c, nil
}

// DeleteCategory removes fullPath and its children. Records and rules using
// any of them move to replacement.
func (s *Service) DeleteCategory(ctx context.Context, fullPath, replacement string) (int, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	before := s.index.All()
	migrated, err := s.index.Remove(fullPath, strings.TrimSpace(replacement))
	if err != nil {
		return 0, err
	}

	n, err := s.migrate(ctx, migrated)
	if err != nil {
		s.index.Reset(before...)
		return 0, err
	}
	if err := s.store.DeleteCategories(ctx, keys(migrated)...); err != nil {
		s.index.Reset(before...)
		return 0, fmt.Errorf("delete categories: %w", err)
	}

	s.logger.Info("category deleted", "category", fullPath, "replacement", replacement, "records", n, "actor", ActorFromContext(ctx))
	return n, nil
}

// ImportCategories adds every path in a catalog file. Existing paths are
// kept. It returns the number of new categories.
func (s *Service) ImportCategories(ctx context.Context, r io.Reader) (int, error) {
	added, err := s.index.Import(r)
	if err != nil {
		return added, err
	}
	if err := s.store.UpsertCategories(ctx, s.index.All()...); err != nil {
		return added, fmt.Errorf("save categories: %w", err)
	}
	s.logger.Info("categories imported", "added", added, "total", s.index.Len())
	return added, nil
}

// persistMigration rewrites references, then replaces the moved catalog
// entries in the store.
func (s *Service) persistMigration(ctx context.Context, moved map[string]string) error {
	if _, err := s.migrate(ctx, moved); err != nil {
		return err
	}
	if err := s.store.DeleteCategories(ctx, keys(moved)...); err != nil {
		return fmt.Errorf("delete old categories: %w", err)
	}

	var updated []model.Category
	seen := make(map[string]bool)
	for _, to := range moved {
		if c, ok := s.index.Get(to); ok && !seen[to] {
			updated = append(updated, c)
			seen[to] = true
			if c.Parent != "" && !seen[c.Parent] {
				if p, ok := s.index.Get(c.Parent); ok {
					updated = append(updated, p)
					seen[c.Parent] = true
				}
			}
		}
	}
	if err := s.store.UpsertCategories(ctx, updated...); err != nil {
		return fmt.Errorf("save categories: %w", err)
	}
	return nil
}

// migrate rewrites references in the store and announces every moved
// record to its batch. Progress is unchanged since no record is cleared.
func (s *Service) migrate(ctx context.Context, mapping map[string]string) (int, error) {
	recs, rs, err := s.store.MigrateCategories(ctx, mapping)
	if err != nil {
		return 0, fmt.Errorf("migrate categories: %w", err)
	}
	for _, rec := range recs {
		s.hub.Publish(rec.BatchID, synchub.RecordMutated(rec))
	}
	s.logger.Debug("category references migrated", "records", len(recs), "rules", rs)
	return len(recs), nil
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

// ListRules returns every rule in creation order.
func (s *Service) ListRules(ctx context.Context) ([]model.Rule, error) {
	return s.store.ListRules(ctx)
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, id int64) (model.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// CreateRule validates r and stores it. The category must exist.
func (s *Service) CreateRule(ctx context.Context, r model.Rule) (model.Rule, error) {
	r = normalizeRule(r)
	if err := s.validateRule(r); err != nil {
		return model.Rule{}, err
	}
	r.CreatedBy = ActorFromContext(ctx)
	r.CreatedAt = s.now().UTC()

	created, err := s.store.CreateRule(ctx, r)
	if err != nil {
		return model.Rule{}, err
	}
	s.logger.Info("rule created", "rule_id", created.ID, "pattern", created.Pattern, "category", created.Category)
	return created, nil
}

// UpdateRule replaces the pattern, mode and category of rule r.ID.
func (s *Service) UpdateRule(ctx context.Context, r model.Rule) (model.Rule, error) {
	r = normalizeRule(r)
	if err := s.validateRule(r); err != nil {
		return model.Rule{}, err
	}
	return s.store.UpdateRule(ctx, r)
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	return s.store.DeleteRule(ctx, id)
}

// ImportRules creates every rule in rs. Rules pointing at unknown
// categories are rejected before anything is stored.
func (s *Service) ImportRules(ctx context.Context, rs []model.Rule) ([]model.Rule, error) {
	for i := range rs {
		rs[i] = normalizeRule(rs[i])
		if err := s.validateRule(rs[i]); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
	}

	out := make([]model.Rule, 0, len(rs))
	for _, r := range rs {
		created, err := s.CreateRule(ctx, r)
		if err != nil {
			return out, err
		}
		out = append(out, created)
	}
	return out, nil
}

// PreviewRule lists records across all batches that r would match. r need
// not be stored.
func (s *Service) PreviewRule(ctx context.Context, r model.Rule, limit int) ([]model.Record, error) {
	r = normalizeRule(r)
	if r.Category == "" {
		// Category is irrelevant for matching.
		r.Category = "-"
	}
	if err := rules.Validate(r); err != nil {
		return nil, err
	}

	corpus, err := s.store.AllRecords(ctx)
	if err != nil {
		return nil, err
	}
	return rules.Preview(r, corpus, limit), nil
}

func (s *Service) validateRule(r model.Rule) error {
	if err := rules.Validate(r); err != nil {
		return err
	}
	if !s.index.Exists(r.Category) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, r.Category)
	}
	return nil
}

func normalizeRule(r model.Rule) model.Rule {
	r.Pattern = strings.TrimSpace(r.Pattern)
	r.Category = strings.TrimSpace(r.Category)
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	if r.Mode == "" {
		r.Mode = model.MatchContains
	}
	return r
}
