package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
	"github.com/JonMunkholm/colconfig/internal/logging"
	"github.com/JonMunkholm/colconfig/internal/view"
)

// sessionResponse describes a session and its current columns.
type sessionResponse struct {
	SessionID string                    `json:"sessionId"`
	TableKey  string                    `json:"tableKey"`
	OpenedAt  time.Time                 `json:"openedAt"`
	LastUsed  time.Time                 `json:"lastUsed"`
	Columns   []assign.ColumnAssignment `json:"columns"`
}

type catalogResponse struct {
	Types            []catalog.TypeDefinition `json:"types"`
	Roles            []catalog.RoleDefinition `json:"roles"`
	UnableToReselect []catalog.RoleKey        `json:"unableToReselect"`
	RequiredRoles    []catalog.RoleKey        `json:"requiredRoles"`
}

type disabledRolesResponse struct {
	ColumnID      string            `json:"columnId"`
	DisabledRoles []catalog.RoleKey `json:"disabledRoles"`
	Locked        bool              `json:"locked"`
}

// handleHealth reports liveness and the open-session count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// handleIndex lists open sessions.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, r, http.StatusOK, view.Index(s.sessions.List()))
}

// handleSessionPage renders the configuration table of one session.
func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.sessions.Info(id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var tbl view.Table
	err = s.sessions.Do(id, func(e *assign.Engine) error {
		var err error
		tbl, err = view.NewTable(id, info.TableKey, e)
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	renderHTML(w, r, http.StatusOK, view.Page(tbl))
}

// handleCatalog returns the type and role registries.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.sessions.Catalog()
	writeJSON(w, catalogResponse{
		Types:            cat.Types(),
		Roles:            cat.Roles(),
		UnableToReselect: cat.UnableToReselectRoles(),
		RequiredRoles:    cat.RequiredRoles(),
	})
}

// handleOpenSession loads columns into a new session.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.TableKey = strings.TrimSpace(req.TableKey)
	if req.TableKey == "" {
		respondError(w, r, fmt.Errorf("%w: tableKey is required", errBadRequest))
		return
	}

	info, err := s.sessions.Open(req.TableKey, req.Columns)
	if err != nil {
		respondError(w, r, err)
		return
	}
	openSessions.Set(float64(s.sessions.Count()))

	resp, err := s.sessionSnapshot(info.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+info.ID)
	writeJSONStatus(w, http.StatusCreated, resp)
}

// handleGetSession returns a session and its current columns.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.sessionSnapshot(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

// handleCloseSession discards a session without saving.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	openSessions.Set(float64(s.sessions.Count()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "assign", func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error) {
		return e.Assign(req.ColumnID, req.Type, req.Role)
	})
}

func (s *Server) handleCopyBelow(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "copy_below", func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error) {
		return e.CopyToAllBelow(req.ColumnID)
	})
}

func (s *Server) handleCopyFiltered(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "copy_filtered", func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error) {
		return e.CopyToFilteredSet(req.ColumnID, req.predicate())
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "reset", func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error) {
		return e.ResetToPlainType(req.ColumnID)
	})
}

func (s *Server) handleSetFormat(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "format", func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error) {
		return e.SetFormat(req.ColumnID, req.Format)
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, "rename", func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error) {
		return e.Rename(req.ColumnID, catalog.Names{SystemName: req.SystemName, LocalizedName: req.LocalizedName})
	})
}

// handleDisabledRoles returns the roles a column may not select.
func (s *Server) handleDisabledRoles(w http.ResponseWriter, r *http.Request) {
	id, col := chi.URLParam(r, "id"), chi.URLParam(r, "col")

	resp := disabledRolesResponse{ColumnID: col}
	err := s.sessions.Do(id, func(e *assign.Engine) error {
		roles, err := e.DisabledRoles(col)
		if err != nil {
			return err
		}
		resp.DisabledRoles = roles
		resp.Locked = e.Locked(col)
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if resp.DisabledRoles == nil {
		resp.DisabledRoles = []catalog.RoleKey{}
	}
	writeJSON(w, resp)
}

type operationFunc func(e *assign.Engine, req columnRequest) (assign.CascadeResult, error)

// runOperation applies one engine operation under the session lock and
// answers with the cascade: JSON for API clients, out-of-band row swaps for
// HTMX.
func (s *Server) runOperation(w http.ResponseWriter, r *http.Request, op string, fn operationFunc) {
	id := chi.URLParam(r, "id")
	req, err := decodeColumnRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	info, err := s.sessions.Info(id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var (
		res assign.CascadeResult
		tbl view.Table
	)
	err = s.sessions.Do(id, func(e *assign.Engine) error {
		var err error
		if res, err = fn(e, req); err != nil {
			return err
		}
		if isHTMX(r) {
			tbl, err = view.NewTable(id, info.TableKey, e)
		}
		return err
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, assign.ErrImmutableAssignment) {
			outcome = "rejected"
		}
		engineOperations.WithLabelValues(op, outcome).Inc()
		respondError(w, r, err)
		return
	}

	engineOperations.WithLabelValues(op, "ok").Inc()
	cascadeEffects.WithLabelValues(op).Observe(float64(len(res.Effects)))
	copySkipped.Add(float64(len(res.Skipped)))
	logging.WithSession(r.Context(), id).Debug("operation applied",
		"op", op,
		"column", req.ColumnID,
		"effects", len(res.Effects),
		"skipped", len(res.Skipped),
	)

	if isHTMX(r) {
		renderCascade(w, r, tbl, req.ColumnID, res)
		return
	}
	writeJSON(w, res)
}

// renderCascade re-renders the target row and every row the cascade touched
// as out-of-band swaps. The folded patches ride along in HX-Trigger for
// client-side listeners.
func renderCascade(w http.ResponseWriter, r *http.Request, tbl view.Table, target string, res assign.CascadeResult) {
	ids := []string{target}
	ids = append(ids, res.Columns()...)
	ids = append(ids, res.Skipped...)

	if trigger, err := marshalTrigger("cascade", view.Patches(res)); err == nil {
		w.Header().Set("HX-Trigger", trigger)
	}
	renderHTML(w, r, http.StatusOK,
		view.Rows(tbl, tbl.Select(dedupe(ids))),
		view.SkippedNotice(res.Skipped),
	)
}

// marshalTrigger builds an HX-Trigger header value carrying detail under
// event.
func marshalTrigger(event string, detail any) (string, error) {
	b, err := json.Marshal(map[string]any{event: detail})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sessionSnapshot reads a session's info and columns.
func (s *Server) sessionSnapshot(id string) (sessionResponse, error) {
	info, err := s.sessions.Info(id)
	if err != nil {
		return sessionResponse{}, err
	}
	resp := sessionResponse{
		SessionID: info.ID,
		TableKey:  info.TableKey,
		OpenedAt:  info.OpenedAt,
		LastUsed:  info.LastUsed,
	}
	err = s.sessions.Do(id, func(e *assign.Engine) error {
		resp.Columns = e.Snapshot()
		return nil
	})
	return resp, err
}

// renderHTML writes components in order with the given status.
func renderHTML(w http.ResponseWriter, r *http.Request, status int, components ...templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	for _, c := range components {
		if err := c.Render(r.Context(), w); err != nil {
			slog.Error("render failed", "path", r.URL.Path, "error", err)
			return
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
