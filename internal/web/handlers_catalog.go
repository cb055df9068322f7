package web

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/JonMunkholm/moneyfest/internal/rules"
)

// maxCatalogFile bounds rule and category imports.
const maxCatalogFile = 4 << 20

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

type ruleRequest struct {
	Pattern  string `json:"pattern" validate:"required,max=256"`
	Mode     string `json:"match_type" validate:"omitempty,oneof=contains exact"`
	Category string `json:"category" validate:"required,max=512"`
}

func (req ruleRequest) rule() model.Rule {
	return model.Rule{Pattern: req.Pattern, Mode: req.Mode, Category: req.Category}
}

type previewRequest struct {
	Pattern string `json:"pattern" validate:"required,max=256"`
	Mode    string `json:"match_type" validate:"omitempty,oneof=contains exact"`
	Limit   int    `json:"limit" validate:"gte=0,lte=1000"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.service.ListRules(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rs == nil {
		rs = []model.Rule{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ruleID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rule, err := s.service.GetRule(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	rule, err := s.service.CreateRule(r.Context(), req.rule())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ruleID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req ruleRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	rule := req.rule()
	rule.ID = id
	updated, err := s.service.UpdateRule(r.Context(), rule)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ruleID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteRule(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreviewRule lists records an unsaved rule would match.
func (s *Server) handlePreviewRule(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = rules.DefaultPreviewLimit
	}

	recs, err := s.service.PreviewRule(r.Context(), model.Rule{Pattern: req.Pattern, Mode: req.Mode}, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(recs),
		"records": recs,
	})
}

// handleExportRules downloads the rule set as YAML.
func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.service.ListRules(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := rules.WriteFile(&buf, rs); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="rules.yaml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleImportRules creates every rule in a YAML body. Nothing is stored
// unless the whole file is valid.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	rs, err := rules.ReadFile(http.MaxBytesReader(w, r.Body, maxCatalogFile))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	created, err := s.service.ImportRules(r.Context(), rs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if created == nil {
		created = []model.Rule{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"imported": len(created),
		"rules":    created,
	})
}

// ----------------------------------------------------------------------------
// Categories
// ----------------------------------------------------------------------------

type addCategoryRequest struct {
	Path string `json:"path" validate:"required,max=512"`
}

// renameCategoryRequest moves From to Parent:Name. An empty Parent makes
// the category top level.
type renameCategoryRequest struct {
	From   string `json:"from" validate:"required,max=512"`
	Parent string `json:"parent" validate:"max=256"`
	Name   string `json:"name" validate:"required,max=256"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats := s.service.Categories()
	if cats == nil {
		cats = []model.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleFrequentCategories(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	cats := s.service.FrequentCategories(limit)
	if cats == nil {
		cats = []model.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req addCategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := s.service.AddCategory(r.Context(), req.Path)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleImportCategories reads a catalog file, one path per line.
func (s *Server) handleImportCategories(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCatalogFile))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	added, err := s.service.ImportCategories(r.Context(), bytes.NewReader(body))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"added": added,
		"total": len(s.service.Categories()),
	})
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req renameCategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := s.service.RenameCategory(r.Context(), req.From, req.Parent, req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteCategory removes ?path= and its children, moving references
// to ?replacement=.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := strings.TrimSpace(q.Get("path"))
	if path == "" {
		s.respondError(w, r, fmt.Errorf("%w: path is required", core.ErrInvalidInput))
		return
	}

	n, err := s.service.DeleteCategory(r.Context(), path, q.Get("replacement"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"records_moved": n})
}
