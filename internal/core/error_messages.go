package core

// error_messages.go turns internal errors into short coded messages that are
// safe to show to whoever uploaded a file or edited a record.
//
// Codes by group:
//
//	FMT001-FMT003  file format: unknown layout, broken row, nothing to import
//	VAL001-VAL003  invalid input: search parameters, rules, request fields
//	CAT001-CAT004  category catalog: unknown, duplicate, bad path, bad replacement
//	NF001          batch, record or rule does not exist
//	UPL001-UPL003  uploads: busy, too large, missing file
//	REQ001-REQ002  request cancelled or timed out
//	DB001-DB006    database failures
//	RATE001        throttled
//	ERR000         anything else; the technical error is only in the logs
//
// Typed errors are matched first with errors.Is/As. Errors that only reach us
// as text (driver and network failures) are matched case-insensitively by
// substring; the first pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/moneyfest/internal/category"
	"github.com/JonMunkholm/moneyfest/internal/ingest"
	"github.com/JonMunkholm/moneyfest/internal/rules"
	"github.com/JonMunkholm/moneyfest/internal/similar"
	"github.com/JonMunkholm/moneyfest/internal/store"
)

// UserMessage is a user-facing description of a failure.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var (
	msgUnrecognizedFormat = UserMessage{
		Message: "The file is not a recognised bank export",
		Action:  "Upload an AceMoney or Danske Bank CSV export",
		Code:    "FMT001",
	}
	msgMalformedRow = UserMessage{
		Message: "The file has a row with the wrong number of columns",
		Action:  "Check the reported row in the file and export it again",
		Code:    "FMT002",
	}
	msgEmptyUpload = UserMessage{
		Message: "The file contains no usable transactions",
		Action:  "Check that the export covers the intended period",
		Code:    "FMT003",
	}
	msgInvalidParameter = UserMessage{
		Message: "A search parameter is out of range",
		Action:  "Use a threshold and tolerance between 0 and 1",
		Code:    "VAL001",
	}
	msgInvalidRule = UserMessage{
		Message: "The rule is incomplete or uses an unknown match type",
		Action:  "Give a pattern, a category and a match type of contains or exact",
		Code:    "VAL002",
	}
	msgInvalidInput = UserMessage{
		Message: "The request is missing a required value",
		Action:  "Check the request fields and try again",
		Code:    "VAL003",
	}
	msgUnknownCategory = UserMessage{
		Message: "The category does not exist",
		Action:  "Pick a category from the catalog or create it first",
		Code:    "CAT001",
	}
	msgCategoryExists = UserMessage{
		Message: "A category with that name already exists",
		Action:  "Choose a different name",
		Code:    "CAT002",
	}
	msgInvalidCategoryPath = UserMessage{
		Message: "Categories can only be nested one level deep",
		Action:  "Use Parent:Name or a top-level name",
		Code:    "CAT003",
	}
	msgInvalidReplacement = UserMessage{
		Message: "The replacement category is not valid",
		Action:  "Pick an existing category outside the one being deleted",
		Code:    "CAT004",
	}
	msgNotFound = UserMessage{
		Message: "The requested item was not found",
		Action:  "It may have been deleted; refresh and try again",
		Code:    "NF001",
	}
	msgTooManyUploads = UserMessage{
		Message: "Too many uploads in progress",
		Action:  "Please wait a moment and try again",
		Code:    "UPL001",
	}
	msgRequestCancelled = UserMessage{
		Message: "The request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}
	msgRequestTimeout = UserMessage{
		Message: "The request timed out",
		Action:  "Try again, or upload a smaller file",
		Code:    "REQ002",
	}
)

// ErrInvalidInput marks a request that is missing or has a malformed field.
var ErrInvalidInput = errors.New("invalid input")

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The file exceeds the upload size limit",
			Action:  "Export a shorter period",
			Code:    "UPL002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was attached",
			Action:  "Select a CSV file to upload",
			Code:    "UPL003",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "The item already exists",
			Action:  "Refresh and check for an existing entry",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "A referenced item no longer exists",
			Action:  "Refresh and try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The database was busy with a conflicting change",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The database operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts err to a user-facing message. A nil error maps to the
// zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		unrecognized *ingest.UnrecognizedFormatError
		malformed    *ingest.MalformedRowError
		invalidParam *similar.InvalidParameterError
	)

	switch {
	case errors.As(err, &unrecognized):
		return msgUnrecognizedFormat, true
	case errors.As(err, &malformed):
		return msgMalformedRow, true
	case errors.Is(err, ErrEmptyUpload):
		return msgEmptyUpload, true
	case errors.As(err, &invalidParam):
		return msgInvalidParameter, true
	case errors.Is(err, rules.ErrInvalidRule):
		return msgInvalidRule, true
	case errors.Is(err, ErrInvalidInput):
		return msgInvalidInput, true
	case errors.Is(err, ErrUnknownCategory), errors.Is(err, category.ErrNotFound):
		return msgUnknownCategory, true
	case errors.Is(err, category.ErrExists):
		return msgCategoryExists, true
	case errors.Is(err, category.ErrInvalidPath), errors.Is(err, category.ErrTooDeep):
		return msgInvalidCategoryPath, true
	case errors.Is(err, category.ErrInvalidReplacement):
		return msgInvalidReplacement, true
	case errors.Is(err, store.ErrNotFound):
		return msgNotFound, true
	case errors.Is(err, ErrTooManyUploads):
		return msgTooManyUploads, true
	case errors.Is(err, context.Canceled):
		return msgRequestCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgRequestTimeout, true
	}
	return UserMessage{}, false
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message. Error returns the
// user text; Unwrap exposes the original for logging.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError wraps err. It returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
