package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. Error is mapped via MapError to a coded message and status
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is rendered as an HTMX fragment, JSON or plain text

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/colconfig/internal/logging"
	"github.com/JonMunkholm/colconfig/internal/store"
	"github.com/JonMunkholm/colconfig/internal/view"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Action  string                 `json:"action,omitempty"`
	Code    string                 `json:"code"`
	Errors  store.ValidationErrors `json:"errors,omitempty"`
}

// respondError logs err and answers with its mapped message and status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := MapError(err)

	level := slog.LevelWarn
	if msg.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"error", err.Error(),
		"code", msg.Code,
	)

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, msg)
	case wantsJSON(r):
		resp := ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		}
		var verrs store.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Errors = verrs
		}
		writeJSONStatus(w, msg.Status, resp)
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", msg.Status)
	}
}

// renderErrorPartial renders an HTMX-compatible error fragment into the
// notices area.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg UserMessage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("HX-Retarget", "#notices")
	w.Header().Set("HX-Reswap", "innerHTML")
	w.WriteHeader(msg.Status)
	if err := view.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		slog.Error("render error alert", "error", err)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
