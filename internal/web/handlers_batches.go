package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/model"
)

// handleUpload stores a statement file as a new batch. The file is sent as
// multipart field "file"; field "name" overrides the batch name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, fmt.Errorf("%w: %v", errFileTooBig, err))
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		s.respondError(w, r, fmt.Errorf("%w: %d bytes", errFileTooBig, header.Size))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(file, maxSize))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}

	result, err := s.service.Ingest(r.Context(), name, raw)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleListBatches lists batches, newest first. ?status= filters.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.ListBatches(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := batches[:0]
		for _, b := range batches {
			if b.Status == status {
				filtered = append(filtered, b)
			}
		}
		batches = filtered
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.service.GetBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteBatch(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.service.ArchiveBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUnarchiveBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.service.UnarchiveBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// progressResponse adds derived fields to model.Progress.
type progressResponse struct {
	model.Progress
	Percent  int  `json:"percent"`
	Complete bool `json:"complete"`
}

func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.service.Progress(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: p, Percent: p.Percent(), Complete: p.Complete()})
}

// handleExportBatch streams the batch as an AceMoney CSV. The export is
// built in memory first so a failure still produces a JSON error.
func (s *Server) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.service.GetBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.service.Export(r.Context(), id, &buf); err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=ISO-8859-1")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(b)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// exportFilename derives a safe file name from the batch name.
func exportFilename(b model.Batch) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, b.Name)
	if name == "" {
		name = fmt.Sprintf("batch-%d", b.ID)
	}
	return name + ".csv"
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "batchID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := s.service.GetBatch(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	recs, err := s.service.Records(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
