package web

// error_messages.go maps errors to user-facing messages with support codes.
//
// # Error Codes Reference
//
// Catalog (CAT001-CAT099):
//
//	CAT001 - Unknown type: the requested data type is not in the catalog
//	CAT002 - Unknown role: the requested role is not in the catalog
//
// Assignment (ASG001-ASG099):
//
//	ASG001 - Locked role: the column (or the role) is locked by registration
//	ASG002 - Column not found: the column is not part of this table
//	ASG003 - Bad request: the request body could not be read
//
// Loading columns (LOAD001-LOAD099):
//
//	LOAD001 - Duplicate column: two columns share an ID, or an ID is empty
//	LOAD002 - Duplicate role: a single-use role appears on two columns
//
// Sessions (SES001-SES099):
//
//	SES001 - Session expired: closed, evicted or never opened
//	SES002 - Too many sessions: the open-session cap is reached
//
// Saving (VAL001, STO001):
//
//	VAL001 - Invalid configuration: backend validation rejected the submit
//	STO001 - Nothing saved: the table has no saved configuration yet
//
// Infrastructure:
//
//	DB001   - Database unavailable (pattern "connection refused")
//	REQ001  - Request timed out (context deadline exceeded)
//	RATE001 - Rate limited (pattern "rate limit")
//	ERR000  - Unknown error: check the server log by request ID
//
// Sentinel errors are matched with errors.Is first, in table order. Plain
// text patterns are a fallback for errors that only carry a message.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
	"github.com/JonMunkholm/colconfig/internal/session"
	"github.com/JonMunkholm/colconfig/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
	Status  int    // HTTP status to answer with
}

var (
	// errBadRequest marks request bodies that could not be decoded.
	errBadRequest = errors.New("bad request")

	errRateLimited = errors.New("rate limit exceeded")
)

type errorTarget struct {
	target error
	msg    UserMessage
}

var errorTargets = []errorTarget{
	{catalog.ErrUnknownType, UserMessage{
		Message: "Unknown data type",
		Action:  "Pick a type from the list",
		Code:    "CAT001",
		Status:  http.StatusBadRequest,
	}},
	{catalog.ErrUnknownRole, UserMessage{
		Message: "Unknown role",
		Action:  "Pick a role from the list",
		Code:    "CAT002",
		Status:  http.StatusBadRequest,
	}},
	{assign.ErrImmutableAssignment, UserMessage{
		Message: "This role is locked and cannot be changed",
		Action:  "Registered columns keep their role; choose another column",
		Code:    "ASG001",
		Status:  http.StatusConflict,
	}},
	{assign.ErrColumnNotFound, UserMessage{
		Message: "Column not found",
		Action:  "Reload the page to refresh the column list",
		Code:    "ASG002",
		Status:  http.StatusNotFound,
	}},
	{errBadRequest, UserMessage{
		Message: "The request could not be read",
		Action:  "Check the request body and try again",
		Code:    "ASG003",
		Status:  http.StatusBadRequest,
	}},
	{assign.ErrDuplicateColumn, UserMessage{
		Message: "Each column needs a unique ID",
		Action:  "Check the column list for repeated or empty IDs",
		Code:    "LOAD001",
		Status:  http.StatusBadRequest,
	}},
	{assign.ErrEmptyColumnID, UserMessage{
		Message: "Each column needs a unique ID",
		Action:  "Check the column list for repeated or empty IDs",
		Code:    "LOAD001",
		Status:  http.StatusBadRequest,
	}},
	{assign.ErrDuplicateRole, UserMessage{
		Message: "A single-use role is assigned to more than one column",
		Action:  "Keep the role on one column only",
		Code:    "LOAD002",
		Status:  http.StatusBadRequest,
	}},
	{session.ErrSessionNotFound, UserMessage{
		Message: "Configuration session expired",
		Action:  "Reopen the table to start a new session",
		Code:    "SES001",
		Status:  http.StatusNotFound,
	}},
	{session.ErrTooManySessions, UserMessage{
		Message: "Too many configuration sessions are open",
		Action:  "Please wait a moment and try again",
		Code:    "SES002",
		Status:  http.StatusServiceUnavailable,
	}},
	{store.ErrValidation, UserMessage{
		Message: "The configuration is not valid",
		Action:  "Fix the marked columns and save again",
		Code:    "VAL001",
		Status:  http.StatusUnprocessableEntity,
	}},
	{store.ErrNoRevision, UserMessage{
		Message: "No saved configuration for this table",
		Action:  "Save a configuration first",
		Code:    "STO001",
		Status:  http.StatusNotFound,
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Please try again",
		Code:    "REQ001",
		Status:  http.StatusGatewayTimeout,
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
		Status:  http.StatusServiceUnavailable,
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
		Status:  http.StatusTooManyRequests,
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts an error to a user-friendly message.
// Returns an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}
