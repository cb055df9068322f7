package web

// errors.go provides unified error responses for the API.
//
// Every error is:
//   - logged with its technical detail and the request id
//   - mapped through core.MapError to a coded, user-safe message
//   - given an HTTP status derived from that code

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errFileTooBig  = errors.New("file too large")
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Action  string        `json:"action,omitempty"`
	Code    string        `json:"code"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the diagnostics of a rejected file.
type ErrorDetails struct {
	Found    []string                       `json:"found,omitempty"`
	Expected map[ingest.FormatKind][]string `json:"expected,omitempty"`
	Row      int                            `json:"row,omitempty"`
	Raw      string                         `json:"raw,omitempty"`
	Columns  int                            `json:"columns,omitempty"`
}

// errorDetails extracts file diagnostics from err, or nil.
func errorDetails(err error) *ErrorDetails {
	var fe *ingest.UnrecognizedFormatError
	if errors.As(err, &fe) {
		return &ErrorDetails{Found: fe.Found, Expected: fe.Expected}
	}
	var re *ingest.MalformedRowError
	if errors.As(err, &re) {
		return &ErrorDetails{Row: re.Row, Raw: re.Raw, Columns: re.Got}
	}
	return nil
}

// respondError logs err and writes its user-facing form.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusForCode(msg.Code)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	if msg.Code == "UPL001" {
		w.Header().Set("Retry-After", "5")
	}
	resp := newErrorResponse(msg)
	resp.Details = errorDetails(err)
	writeJSON(w, status, resp)
}

func respondMessage(w http.ResponseWriter, status int, msg core.UserMessage) {
	writeJSON(w, status, newErrorResponse(msg))
}

func newErrorResponse(msg core.UserMessage) ErrorResponse {
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// statusForCode maps error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case "NF001":
		return http.StatusNotFound
	case "CAT002", "DB001", "DB002":
		return http.StatusConflict
	case "UPL001", "DB003", "DB004", "DB005":
		return http.StatusServiceUnavailable
	case "UPL002":
		return http.StatusRequestEntityTooLarge
	case "RATE001":
		return http.StatusTooManyRequests
	case "REQ002", "DB006":
		return http.StatusGatewayTimeout
	case "ERR000":
		return http.StatusInternalServerError
	}

	switch {
	case strings.HasPrefix(code, "FMT"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(code, "VAL"), strings.HasPrefix(code, "CAT"),
		strings.HasPrefix(code, "UPL"), strings.HasPrefix(code, "REQ"):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent.
		slog.Error("json encode error", "error", err)
	}
}

// ----------------------------------------------------------------------------
// Request decoding
// ----------------------------------------------------------------------------

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads the body into dst and validates it. Failures wrap
// core.ErrInvalidInput.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", core.ErrInvalidInput, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", core.ErrInvalidInput, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s %q is not a valid id", core.ErrInvalidInput, name, raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", core.ErrInvalidInput, name)
	}
	return i, nil
}

// queryFloat parses an optional float query parameter.
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", core.ErrInvalidInput, name)
	}
	return f, nil
}
