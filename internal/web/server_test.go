package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
	"github.com/JonMunkholm/colconfig/internal/config"
	"github.com/JonMunkholm/colconfig/internal/session"
	"github.com/JonMunkholm/colconfig/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 5 * time.Second},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	cat := catalog.MustDefault()
	s := NewServer(session.NewManager(cat, 0), store.NewMemoryStore(cat), cfg)
	t.Cleanup(func() { _ = s.Shutdown(t.Context()) })
	return s
}

func do(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var sampleColumns = []assign.ColumnInput{
	{ColumnID: "c1", InitialType: "DATETIME", SystemName: "ts", LocalizedName: "Timestamp"},
	{ColumnID: "c2", InitialType: "DATETIME", InitialRole: "is_get_date", SystemName: "got", LocalizedName: "Got"},
	{ColumnID: "c3", InitialType: "INTEGER", SystemName: "n", LocalizedName: "Count"},
	{ColumnID: "c4", InitialType: "REAL_SEP", SystemName: "v", LocalizedName: "Value", Format: "#,##0.00"},
}

func openSession(t *testing.T, s *Server, columns []assign.ColumnInput) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/sessions", openSessionRequest{TableKey: "sensor_a", Columns: columns})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[sessionResponse](t, rec)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "/sessions/"+resp.SessionID, rec.Header().Get("Location"))
	assert.Len(t, resp.Columns, len(columns))
	return resp.SessionID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestCatalog(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/api/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[catalogResponse](t, rec)
	assert.NotEmpty(t, resp.Types)
	assert.NotEmpty(t, resp.Roles)
	assert.Contains(t, resp.UnableToReselect, catalog.RoleKey("is_get_date"))
	assert.Equal(t, []catalog.RoleKey{"is_get_date"}, resp.RequiredRoles)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sensor_a", decode[sessionResponse](t, rec).TableKey)

	rec = do(t, s, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SES001", decode[ErrorResponse](t, rec).Code)
}

func TestOpenSession_Rejects(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing table key", openSessionRequest{Columns: sampleColumns}, "ASG003"},
		{"unknown field", map[string]any{"tableKey": "t", "bogus": 1}, "ASG003"},
		{"unknown type", openSessionRequest{TableKey: "t", Columns: []assign.ColumnInput{{ColumnID: "c1", InitialType: "BLOB"}}}, "CAT001"},
		{"duplicate column", openSessionRequest{TableKey: "t", Columns: []assign.ColumnInput{
			{ColumnID: "c1", InitialType: "TEXT"}, {ColumnID: "c1", InitialType: "TEXT"},
		}}, "LOAD001"},
		{"duplicate singleton", openSessionRequest{TableKey: "t", Columns: []assign.ColumnInput{
			{ColumnID: "c1", InitialType: "TEXT", InitialRole: "is_serial_no"},
			{ColumnID: "c2", InitialType: "TEXT", InitialRole: "is_serial_no"},
		}}, "LOAD002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAssign_DemotesPreviousHolder(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/assign",
		columnRequest{ColumnID: "c1", Type: "DATETIME", Role: "is_get_date"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[assign.CascadeResult](t, rec)
	assert.True(t, res.Has("c2", assign.EffectRoleCleared))
	assert.True(t, res.Has("c1", assign.EffectTypeChanged))

	rec = do(t, s, http.MethodGet, "/api/sessions/"+id+"/columns/c2/disabled-roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roles := decode[disabledRolesResponse](t, rec)
	assert.Contains(t, roles.DisabledRoles, catalog.RoleKey("is_get_date"))
	assert.False(t, roles.Locked)
}

func TestAssign_LockedRoleIsConflict(t *testing.T) {
	s := newTestServer(t, testConfig())
	cols := append([]assign.ColumnInput(nil), sampleColumns...)
	cols[1].IsRegistered = true
	id := openSession(t, s, cols)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/assign",
		columnRequest{ColumnID: "c1", Type: "DATETIME", Role: "is_get_date"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ASG001", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodGet, "/api/sessions/"+id+"/columns/c2/disabled-roles", nil)
	assert.True(t, decode[disabledRolesResponse](t, rec).Locked)

	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/reset", columnRequest{ColumnID: "c2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOperation_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", "/api/sessions/nope/assign", columnRequest{ColumnID: "c1", Type: "TEXT"}, http.StatusNotFound, "SES001"},
		{"missing column id", "/api/sessions/" + id + "/assign", columnRequest{Type: "TEXT"}, http.StatusBadRequest, "ASG003"},
		{"unknown column", "/api/sessions/" + id + "/reset", columnRequest{ColumnID: "zz"}, http.StatusNotFound, "ASG002"},
		{"unknown role", "/api/sessions/" + id + "/assign", columnRequest{ColumnID: "c1", Type: "TEXT", Role: "is_nothing"}, http.StatusBadRequest, "CAT002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCopyFiltered_VisibleAndQuery(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/assign", columnRequest{ColumnID: "c3", Type: "INTEGER", Role: "is_judge"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/copy-filtered", columnRequest{ColumnID: "c3", Visible: []string{"c4"}})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[assign.CascadeResult](t, rec)
	assert.True(t, res.Has("c4", assign.EffectTypeChanged))
	assert.Empty(t, res.For("c1"))

	// Query matches on names; "timestamp" only matches c1.
	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/copy-filtered", columnRequest{ColumnID: "c3", Query: "TIMESTAMP"})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[assign.CascadeResult](t, rec)
	assert.Equal(t, []string{"c1"}, res.Columns())

	// Neither visible IDs nor a query: nothing matches.
	rec = do(t, s, http.MethodPost, "/api/sessions/"+id+"/copy-filtered", columnRequest{ColumnID: "c3"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[assign.CascadeResult](t, rec).Empty())
}

func TestFormatAndRename(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)
	base := "/api/sessions/" + id

	rec := do(t, s, http.MethodPost, base+"/format", columnRequest{ColumnID: "c4", Format: "0.0"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"effects":[]}`, rec.Body.String())
	rec = do(t, s, http.MethodPost, base+"/rename", columnRequest{ColumnID: "c3", SystemName: "count", LocalizedName: "Count"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"effects":[]}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, base+"/assign", columnRequest{ColumnID: "c1", Type: "DATE", Role: "is_main_date"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, base+"/rename", columnRequest{ColumnID: "c1", SystemName: "x", LocalizedName: "X"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[assign.CascadeResult](t, rec).Has("c1", assign.EffectNamesFixed))

	cols := decode[sessionResponse](t, do(t, s, http.MethodGet, base, nil)).Columns
	assert.Equal(t, "Date", cols[0].Names.SystemName)
	assert.Equal(t, "count", cols[2].Names.SystemName)
	assert.Equal(t, "0.0", cols[3].Format)
}

func TestAssign_HTMXForm(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	form := url.Values{"columnId": {"c1"}, "type": {"DATETIME"}, "role": {"is_get_date"}}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/assign", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `<tr id="col-c1" data-column="c1" hx-swap-oob="outerHTML"`)
	assert.Contains(t, body, `<tr id="col-c2" data-column="c2" hx-swap-oob="outerHTML"`)
	assert.Equal(t, 1, strings.Count(body, `id="col-c1"`))

	var trigger map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(rec.Header().Get("HX-Trigger")), &trigger))
	assert.NotEmpty(t, trigger["cascade"])
}

func TestAssign_HTMXErrorFragment(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodPost, "/api/sessions/missing/assign",
		columnRequest{ColumnID: "c1", Type: "TEXT"}, "HX-Request", "true")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "#notices", rec.Header().Get("HX-Retarget"))
	assert.Contains(t, rec.Body.String(), "SES001")
}

func TestSubmitAndLatest(t *testing.T) {
	s := newTestServer(t, testConfig())
	cols := append([]assign.ColumnInput(nil), sampleColumns...)
	cols[1].InitialRole = ""
	id := openSession(t, s, cols)
	base := "/api/sessions/" + id

	rec := do(t, s, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "VAL001", errResp.Code)
	require.Len(t, errResp.Errors, 1)
	assert.Equal(t, store.FieldTable, errResp.Errors[0].Field)

	rec = do(t, s, http.MethodGet, "/api/configurations/sensor_a/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "STO001", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodPost, base+"/assign", columnRequest{ColumnID: "c2", Type: "DATETIME", Role: "is_get_date"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decode[store.Revision](t, rec)
	assert.Equal(t, "sensor_a", rev.TableKey)

	rec = do(t, s, http.MethodGet, "/api/configurations/sensor_a/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[store.Revision](t, rec)
	assert.Equal(t, rev.ID, latest.ID)
	assert.Equal(t, catalog.RoleKey("is_get_date"), latest.Columns[1].CurrentRole)
}

func TestSubmit_HTMX(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/submit", nil, "HX-Request", "true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Saved revision")
}

func TestPages(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/sessions/"+id)

	rec = do(t, s, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<tbody id="columns">`)

	rec = do(t, s, http.MethodGet, "/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SES001")
}

func TestPageScripts_AllowedByCSP(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	csp := rec.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "script-src 'self' https://unpkg.com;")
	assert.NotContains(t, csp, "script-src 'self' 'unsafe-inline'")
	assert.Contains(t, rec.Body.String(), `integrity="sha384-`)
	assert.Contains(t, rec.Body.String(), `<script src="/static/app.js">`)

	rec = do(t, s, http.MethodGet, "/static/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "htmx:beforeSwap")
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())
	openSession(t, s, sampleColumns)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "colconfig_open_sessions")
	assert.Contains(t, rec.Body.String(), "colconfig_http_requests_total")
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/catalog", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/catalog", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
	}
	rec := do(t, s, http.MethodGet, "/api/catalog", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := &rateLimiter{visitors: make(map[string]*visitor), rate: 1, window: time.Minute}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"nil", nil, "", 0},
		{"unknown type", fmt.Errorf("load column c1: %w", &catalog.UnknownTypeError{Code: "X"}), "CAT001", http.StatusBadRequest},
		{"immutable", &assign.ImmutableAssignmentError{ColumnID: "c1", RoleKey: "is_get_date"}, "ASG001", http.StatusConflict},
		{"session", fmt.Errorf("%w: abc", session.ErrSessionNotFound), "SES001", http.StatusNotFound},
		{"validation", store.ValidationErrors{{Field: store.FieldTable, Message: "x"}}, "VAL001", http.StatusUnprocessableEntity},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB001", http.StatusServiceUnavailable},
		{"rate limit", errRateLimited, "RATE001", http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), "ERR000", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := MapError(tt.err)
			assert.Equal(t, tt.code, msg.Code)
			assert.Equal(t, tt.status, msg.Status)
		})
	}
}
