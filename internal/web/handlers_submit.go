package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/logging"
	"github.com/JonMunkholm/colconfig/internal/store"
	"github.com/JonMunkholm/colconfig/internal/view"
)

// handleSubmit sends the session's snapshot to the store. The session stays
// open either way so the user can fix validation errors and resubmit.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.sessions.Info(id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var snapshot []assign.ColumnAssignment
	if err := s.sessions.Do(id, func(e *assign.Engine) error {
		snapshot = e.Snapshot()
		return nil
	}); err != nil {
		respondError(w, r, err)
		return
	}

	logger := logging.WithSession(r.Context(), id)
	rev, err := s.store.Submit(r.Context(), info.TableKey, snapshot)

	var verrs store.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		submissions.WithLabelValues("invalid").Inc()
		logger.Info("configuration rejected", "table", info.TableKey, "problems", len(verrs))
		if isHTMX(r) {
			renderHTML(w, r, http.StatusUnprocessableEntity, view.SubmitResult(store.Revision{}, verrs))
			return
		}
		respondError(w, r, err)
	case err != nil:
		submissions.WithLabelValues("error").Inc()
		respondError(w, r, err)
	default:
		submissions.WithLabelValues("saved").Inc()
		logger.Info("configuration submitted", "table", info.TableKey, "revision", rev.ID)
		if isHTMX(r) {
			renderHTML(w, r, http.StatusOK, view.SubmitResult(rev, nil))
			return
		}
		writeJSONStatus(w, http.StatusCreated, rev)
	}
}

// handleLatest returns the most recent saved configuration of a table.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rev, err := s.store.Latest(r.Context(), chi.URLParam(r, "tableKey"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, rev)
}
