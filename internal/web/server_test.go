package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/config"
	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/JonMunkholm/moneyfest/internal/store"
	"github.com/JonMunkholm/moneyfest/internal/synchub"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statementCSV = "transaction,date,payee,category,status,withdrawal,deposit,total,comment\r\n" +
	"1,01.03.2024,Netto Hedehuse,,,45.50,,,\r\n" +
	"2,02.03.2024,IKEA Taastrup,Furniture,,1200.00,,,sofa\r\n" +
	"3,05.03.2024,Lønoverførsel,,,,28500.00,,\r\n"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload: config.UploadConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   100 * time.Millisecond,
			Timeout:       5 * time.Second,
		},
		Rate: config.RateLimitConfig{Enabled: false},
		Sync: config.SyncConfig{
			QueueSize:    16,
			WriteTimeout: time.Second,
			PingInterval: time.Second,
			ReadLimit:    4096,
		},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	require.NoError(t, st.UpsertCategories(ctx,
		model.Category{Name: "Food"},
		model.Category{Parent: "Food", Name: "Groceries"},
		model.Category{Name: "Home"},
		model.Category{Parent: "Home", Name: "Furniture"},
		model.Category{Name: "Income"},
	))

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := core.NewService(ctx, st, synchub.NewHub(nil), core.Options{
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		UploadWait:           cfg.Upload.MaxWaitTime,
	})
	require.NoError(t, err)

	s, err := NewServer(svc, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("name", "march"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/batches", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func upload(t *testing.T, s *Server) (model.Batch, []model.Record) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "march.csv", []byte(statementCSV)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res struct {
		Batch model.Batch `json:"batch"`
	}
	decode(t, rec, &res)

	list := do(t, s, http.MethodGet, "/api/batches/"+itoa(res.Batch.ID)+"/records", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var recs []model.Record
	decode(t, list, &recs)
	require.Len(t, recs, 3)
	return res.Batch, recs
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	decode(t, rec, &e)
	return e.Code
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestUploadAndBrowse(t *testing.T) {
	s := newTestServer(t, nil)
	b, recs := upload(t, s)

	assert.Equal(t, "march", b.Name)
	assert.Equal(t, 3, b.Total)
	assert.Equal(t, model.BatchInProgress, b.Status)
	assert.Equal(t, "Netto Hedehuse", recs[0].Payee)

	list := do(t, s, http.MethodGet, "/api/batches", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var batches []model.Batch
	decode(t, list, &batches)
	assert.Len(t, batches, 1)

	filtered := do(t, s, http.MethodGet, "/api/batches?status="+model.BatchComplete, nil)
	assert.JSONEq(t, "[]", filtered.Body.String())

	prog := do(t, s, http.MethodGet, "/api/batches/"+itoa(b.ID)+"/progress", nil)
	require.Equal(t, http.StatusOK, prog.Code)
	var p progressResponse
	decode(t, prog, &p)
	assert.Equal(t, 0, p.Done)
	assert.Equal(t, 3, p.Total)
	assert.False(t, p.Complete)

	missing := do(t, s, http.MethodGet, "/api/batches/999", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "NF001", errorCode(t, missing))

	bad := do(t, s, http.MethodGet, "/api/batches/abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestUpload_Rejected(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name       string
		filename   string
		content    []byte
		wantStatus int
		wantCode   string
	}{
		{"unrecognised format", "notes.csv", []byte("hello,world\r\n1,2\r\n"), http.StatusUnprocessableEntity, "FMT001"},
		{"header only", "empty.csv", []byte("transaction,date,payee,category,status,withdrawal,deposit,total,comment\r\n"), http.StatusUnprocessableEntity, "FMT003"},
		{"no file", "", nil, http.StatusBadRequest, "UPL003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, uploadRequest(t, tt.filename, tt.content))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}

	list := do(t, s, http.MethodGet, "/api/batches", nil)
	assert.JSONEq(t, "[]", list.Body.String())
}

func TestUpload_RejectedDetails(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("unrecognised format lists columns", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, uploadRequest(t, "odd.csv", []byte("date,payee,amount\n01.03.2024,Netto,-45.50\n")))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

		var e ErrorResponse
		decode(t, rec, &e)
		assert.Equal(t, "FMT001", e.Code)
		require.NotNil(t, e.Details)
		assert.Equal(t, []string{"date", "payee", "amount"}, e.Details.Found)
		assert.Contains(t, e.Details.Expected[ingest.FormatAceMoney], "withdrawal")
		assert.Equal(t, []string{"dato", "tekst", "beløb", "saldo", "status", "afstemt"}, e.Details.Expected[ingest.FormatDanske])
	})

	t.Run("malformed row reports the row", func(t *testing.T) {
		content := "transaction,date,payee,category,status,withdrawal,deposit,total,comment\r\n" +
			"1,01.03.2024,Netto,,,45.50,,,\r\n" +
			"2,02.03.2024,IKEA\r\n"
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, uploadRequest(t, "broken.csv", []byte(content)))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

		var e ErrorResponse
		decode(t, rec, &e)
		assert.Equal(t, "FMT002", e.Code)
		require.NotNil(t, e.Details)
		assert.Equal(t, 2, e.Details.Row)
		assert.Contains(t, e.Details.Raw, "IKEA")
	})

	t.Run("other errors carry no details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, uploadRequest(t, "", nil))
		assert.NotContains(t, rec.Body.String(), "details")
	})
}

func TestUpload_TooLarge(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Upload.MaxFileSize = 64 })

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "big.csv", []byte(statementCSV)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "UPL002", errorCode(t, rec))
}

func TestSetCategory(t *testing.T) {
	s := newTestServer(t, nil)
	b, recs := upload(t, s)
	target := "/api/records/" + itoa(recs[0].ID) + "/category"

	rec := do(t, s, http.MethodPut, target, strings.NewReader(`{"category":"Food:Groceries","note":"weekly"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var a core.Assignment
	decode(t, rec, &a)
	assert.Equal(t, "Food:Groceries", a.Record.Category)
	assert.Equal(t, "weekly", a.Record.Note)
	assert.Equal(t, core.SystemActor, a.Record.AssignedBy)
	assert.Equal(t, 1, a.Progress.Done)

	t.Run("unknown category", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, target, strings.NewReader(`{"category":"Travel"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "CAT001", errorCode(t, rec))
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, target, strings.NewReader(`{"categry":"Food"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VAL003", errorCode(t, rec))
	})

	t.Run("missing record", func(t *testing.T) {
		rec := do(t, s, http.MethodPut, "/api/records/999/category", strings.NewReader(`{"category":"Food"}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bulk completes batch", func(t *testing.T) {
		body := `{"ids":[` + itoa(recs[1].ID) + `,` + itoa(recs[2].ID) + `],"category":"Income"}`
		rec := do(t, s, http.MethodPost, "/api/records/bulk-category", strings.NewReader(body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"updated":2`)

		got := do(t, s, http.MethodGet, "/api/batches/"+itoa(b.ID), nil)
		var batch model.Batch
		decode(t, got, &batch)
		assert.Equal(t, model.BatchComplete, batch.Status)
	})

	t.Run("bulk without ids", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/records/bulk-category", strings.NewReader(`{"ids":[],"category":"Food"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRules(t *testing.T) {
	s := newTestServer(t, nil)
	_, recs := upload(t, s)

	created := do(t, s, http.MethodPost, "/api/rules", strings.NewReader(`{"pattern":"netto","category":"Food:Groceries"}`))
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var rule model.Rule
	decode(t, created, &rule)
	assert.Equal(t, model.MatchContains, rule.Mode)

	badMode := do(t, s, http.MethodPost, "/api/rules", strings.NewReader(`{"pattern":"x","match_type":"regex","category":"Food"}`))
	assert.Equal(t, http.StatusBadRequest, badMode.Code)

	sugg := do(t, s, http.MethodGet, "/api/records/"+itoa(recs[0].ID)+"/suggestions", nil)
	require.Equal(t, http.StatusOK, sugg.Code)
	assert.Contains(t, sugg.Body.String(), `"category":"Food:Groceries"`)

	byPayee := do(t, s, http.MethodGet, "/api/suggestions?payee=NETTO%20Hedehuse", nil)
	assert.Contains(t, byPayee.Body.String(), "Food:Groceries")

	none := do(t, s, http.MethodGet, "/api/suggestions?payee=Shell", nil)
	assert.JSONEq(t, "[]", none.Body.String())

	preview := do(t, s, http.MethodPost, "/api/rules/preview", strings.NewReader(`{"pattern":"ikea"}`))
	require.Equal(t, http.StatusOK, preview.Code, preview.Body.String())
	assert.Contains(t, preview.Body.String(), `"count":1`)

	exported := do(t, s, http.MethodGet, "/api/rules/export", nil)
	require.Equal(t, http.StatusOK, exported.Code)
	assert.Equal(t, "application/yaml", exported.Header().Get("Content-Type"))
	assert.Contains(t, exported.Body.String(), "pattern: netto")

	imported := do(t, s, http.MethodPost, "/api/rules/import", strings.NewReader("rules:\n  - pattern: IKEA\n    category: Home:Furniture\n"))
	require.Equal(t, http.StatusCreated, imported.Code, imported.Body.String())
	assert.Contains(t, imported.Body.String(), `"imported":1`)

	rejected := do(t, s, http.MethodPost, "/api/rules/import", strings.NewReader("rules:\n  - pattern: Shell\n    category: Car\n"))
	assert.Equal(t, http.StatusBadRequest, rejected.Code)

	list := do(t, s, http.MethodGet, "/api/rules", nil)
	var rs []model.Rule
	decode(t, list, &rs)
	assert.Len(t, rs, 2)

	updated := do(t, s, http.MethodPut, "/api/rules/"+itoa(rule.ID), strings.NewReader(`{"pattern":"Netto Hedehuse","match_type":"exact","category":"Food"}`))
	require.Equal(t, http.StatusOK, updated.Code, updated.Body.String())
	assert.Contains(t, updated.Body.String(), `"match_type":"exact"`)

	deleted := do(t, s, http.MethodDelete, "/api/rules/"+itoa(rule.ID), nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)

	gone := do(t, s, http.MethodGet, "/api/rules/"+itoa(rule.ID), nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestSimilar(t *testing.T) {
	s := newTestServer(t, nil)
	_, recs := upload(t, s)
	base := "/api/records/" + itoa(recs[0].ID) + "/similar"

	rec := do(t, s, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"surrounding"`)

	out := do(t, s, http.MethodGet, base+"?threshold=1.5", nil)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	assert.Equal(t, "VAL001", errorCode(t, out))

	nan := do(t, s, http.MethodGet, base+"?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, nan.Code)
}

func TestCategories(t *testing.T) {
	s := newTestServer(t, nil)

	added := do(t, s, http.MethodPost, "/api/categories", strings.NewReader(`{"path":"Car:Fuel"}`))
	require.Equal(t, http.StatusCreated, added.Code, added.Body.String())
	assert.Contains(t, added.Body.String(), `"full_path":"Car:Fuel"`)

	dup := do(t, s, http.MethodPost, "/api/categories", strings.NewReader(`{"path":"Car:Fuel"}`))
	assert.Equal(t, http.StatusConflict, dup.Code)

	renamed := do(t, s, http.MethodPut, "/api/categories/rename", strings.NewReader(`{"from":"Car","name":"Transport"}`))
	require.Equal(t, http.StatusOK, renamed.Code, renamed.Body.String())

	list := do(t, s, http.MethodGet, "/api/categories", nil)
	assert.Contains(t, list.Body.String(), "Transport:Fuel")
	assert.NotContains(t, list.Body.String(), "Car:Fuel")

	imported := do(t, s, http.MethodPost, "/api/categories/import", strings.NewReader("# catalog\nGifts\nGifts:Birthdays\n"))
	require.Equal(t, http.StatusOK, imported.Code, imported.Body.String())
	assert.Contains(t, imported.Body.String(), `"added":2`)

	deleted := do(t, s, http.MethodDelete, "/api/categories?path=Gifts&replacement=Food", nil)
	require.Equal(t, http.StatusOK, deleted.Code, deleted.Body.String())

	noPath := do(t, s, http.MethodDelete, "/api/categories", nil)
	assert.Equal(t, http.StatusBadRequest, noPath.Code)

	freq := do(t, s, http.MethodGet, "/api/categories/frequent?limit=3", nil)
	assert.Equal(t, http.StatusOK, freq.Code)
}

func TestExportBatch(t *testing.T) {
	s := newTestServer(t, nil)
	b, _ := upload(t, s)

	rec := do(t, s, http.MethodGet, "/api/batches/"+itoa(b.ID)+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=ISO-8859-1", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="march.csv"`)
	// Latin-1: ø is a single byte.
	assert.Contains(t, rec.Body.String(), "L\xf8n")
}

func TestBatchLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	b, _ := upload(t, s)
	base := "/api/batches/" + itoa(b.ID)

	archived := do(t, s, http.MethodPost, base+"/archive", nil)
	require.Equal(t, http.StatusOK, archived.Code)
	assert.Contains(t, archived.Body.String(), `"status":"`+model.BatchArchived+`"`)

	restored := do(t, s, http.MethodPost, base+"/unarchive", nil)
	require.Equal(t, http.StatusOK, restored.Code)
	assert.Contains(t, restored.Body.String(), `"status":"`+model.BatchInProgress+`"`)

	deleted := do(t, s, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, deleted.Code)

	gone := do(t, s, http.MethodGet, base+"/records", nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"alice:k-alice"}
	})

	anon := do(t, s, http.MethodGet, "/api/batches", nil)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	req := uploadRequest(t, "march.csv", []byte(statementCSV))
	req.Header.Set("X-API-Key", "k-alice")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"created_by":"alice"`)
}

func TestNewServer_BadKeys(t *testing.T) {
	cfg := testConfig()
	cfg.Security.APIKeys = []string{"nokey"}
	_, err := NewServer(nil, cfg)
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/batches", nil).Code)
	}
	rec := do(t, s, http.MethodGet, "/api/batches", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", errorCode(t, rec))
}

func TestSync_WebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	b, recs := upload(t, s)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() synchub.Message {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m synchub.Message
		require.NoError(t, ws.ReadJSON(&m))
		return m
	}

	require.NoError(t, ws.WriteJSON(synchub.Message{Type: synchub.TypeSubscribe, Group: b.ID}))
	got := read()
	assert.Equal(t, synchub.TypeSubscribed, got.Type)
	assert.Equal(t, b.ID, got.Group)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, synchub.TypeError, read().Type)

	body := strings.NewReader(`{"category":"Food"}`)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/records/"+itoa(recs[0].ID)+"/category", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mutated := read()
	assert.Equal(t, synchub.TypeRecordMutated, mutated.Type)
	require.NotNil(t, mutated.Record)
	assert.Equal(t, "Food", mutated.Record.Category)

	progress := read()
	assert.Equal(t, synchub.TypeProgressChanged, progress.Type)
	require.NotNil(t, progress.Done)
	assert.Equal(t, 1, *progress.Done)

	require.NoError(t, ws.WriteJSON(synchub.Message{Type: synchub.TypePing}))
	assert.Equal(t, synchub.TypePong, read().Type)
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"NF001", http.StatusNotFound},
		{"CAT002", http.StatusConflict},
		{"CAT001", http.StatusBadRequest},
		{"FMT002", http.StatusUnprocessableEntity},
		{"UPL001", http.StatusServiceUnavailable},
		{"UPL002", http.StatusRequestEntityTooLarge},
		{"VAL001", http.StatusBadRequest},
		{"RATE001", http.StatusTooManyRequests},
		{"REQ002", http.StatusGatewayTimeout},
		{"ERR000", http.StatusInternalServerError},
		{"???", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForCode(tt.code); got != tt.want {
			t.Errorf("statusForCode(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestExportFilename(t *testing.T) {
	assert.Equal(t, "March_2024.csv", exportFilename(model.Batch{Name: "March 2024"}))
	assert.Equal(t, "batch-7.csv", exportFilename(model.Batch{ID: 7, Name: "æøå"}))
}
