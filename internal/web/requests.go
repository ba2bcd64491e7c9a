package web

// requests.go decodes operation requests. The same endpoints serve JSON API
// clients and HTMX form posts from the configuration page, so each request
// type reads either body format.

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/schema"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// maxBodyBytes caps request bodies (1MB).
const maxBodyBytes = 1 << 20

// openSessionRequest loads a table into a new session.
type openSessionRequest struct {
	TableKey string               `json:"tableKey"`
	Columns  []assign.ColumnInput `json:"columns"`
}

// columnRequest carries the arguments of every column operation. Only the
// fields an operation needs are read.
type columnRequest struct {
	ColumnID      string           `json:"columnId" schema:"columnId"`
	Type          catalog.TypeCode `json:"type,omitempty" schema:"type"`
	Role          catalog.RoleKey  `json:"role,omitempty" schema:"role"`
	Format        string           `json:"format,omitempty" schema:"format"`
	SystemName    string           `json:"systemName,omitempty" schema:"systemName"`
	LocalizedName string           `json:"localizedName,omitempty" schema:"localizedName"`

	// copy-filtered: explicit visible column IDs, or a search text matched
	// against column IDs and names.
	Visible []string `json:"visible,omitempty" schema:"visible"`
	Query   string   `json:"query,omitempty" schema:"query"`
}

// formDecoder reads HTMX form posts. Rows include sibling inputs the
// operation does not need, so unknown keys are ignored.
var formDecoder = schema.NewDecoder()

func init() {
	formDecoder.IgnoreUnknownKeys(true)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeColumnRequest(w http.ResponseWriter, r *http.Request) (columnRequest, error) {
	var req columnRequest
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			return req, err
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if err := formDecoder.Decode(&req, r.PostForm); err != nil {
			return req, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}

	req.ColumnID = strings.TrimSpace(req.ColumnID)
	if req.ColumnID == "" {
		return req, fmt.Errorf("%w: columnId is required", errBadRequest)
	}
	return req, nil
}

// predicate builds the copy-filtered target filter. Without visible IDs or a
// query it matches nothing.
func (req columnRequest) predicate() assign.Predicate {
	if len(req.Visible) > 0 {
		visible := make(map[string]bool, len(req.Visible))
		for _, id := range req.Visible {
			visible[strings.TrimSpace(id)] = true
		}
		return func(c assign.ColumnAssignment) bool {
			return visible[c.ColumnID]
		}
	}

	q := strings.ToLower(strings.TrimSpace(req.Query))
	if q == "" {
		return nil
	}
	return func(c assign.ColumnAssignment) bool {
		for _, s := range []string{c.ColumnID, c.Names.SystemName, c.Names.LocalizedName} {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
		return false
	}
}
