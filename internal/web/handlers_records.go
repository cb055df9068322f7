package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/rules"
)

// setCategoryRequest assigns or clears a record's category.
type setCategoryRequest struct {
	Category string `json:"category" validate:"max=512"`
	Note     string `json:"note" validate:"max=1024"`
}

type bulkCategoryRequest struct {
	IDs      []int64 `json:"ids" validate:"required,min=1,max=1000,dive,gt=0"`
	Category string  `json:"category" validate:"max=512"`
	Note     string  `json:"note" validate:"max=1024"`
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "recordID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.service.GetRecord(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "recordID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req setCategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	a, err := s.service.SetCategory(r.Context(), id, req.Category, req.Note)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleBulkSetCategory(w http.ResponseWriter, r *http.Request) {
	var req bulkCategoryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	out, err := s.service.BulkSetCategory(r.Context(), req.IDs, req.Category, req.Note)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated":     len(out),
		"assignments": out,
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "recordID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sugg, err := s.service.Suggest(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeSuggestions(w, sugg)
}

// handleSuggestPayee suggests categories for a free-form ?payee=.
func (s *Server) handleSuggestPayee(w http.ResponseWriter, r *http.Request) {
	payee := strings.TrimSpace(r.URL.Query().Get("payee"))
	if payee == "" {
		s.respondError(w, r, fmt.Errorf("%w: payee is required", core.ErrInvalidInput))
		return
	}
	sugg, err := s.service.SuggestPayee(r.Context(), payee)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeSuggestions(w, sugg)
}

func writeSuggestions(w http.ResponseWriter, sugg []rules.Suggestion) {
	if sugg == nil {
		sugg = []rules.Suggestion{}
	}
	writeJSON(w, http.StatusOK, sugg)
}

// handleSimilar finds records similar to one record. Query parameters
// threshold, tolerance, surrounding and limit override the configured
// defaults; out-of-range values are rejected, not clamped.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "recordID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	p := s.service.SimilarityDefaults()
	if p.PayeeThreshold, err = queryFloat(r, "threshold", p.PayeeThreshold); err != nil {
		s.respondError(w, r, err)
		return
	}
	if p.AmountTolerance, err = queryFloat(r, "tolerance", p.AmountTolerance); err != nil {
		s.respondError(w, r, err)
		return
	}
	if p.Surrounding, err = queryInt(r, "surrounding", p.Surrounding); err != nil {
		s.respondError(w, r, err)
		return
	}
	if p.Limit, err = queryInt(r, "limit", p.Limit); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Similar(r.Context(), id, p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
