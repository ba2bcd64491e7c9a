package view

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
	"github.com/JonMunkholm/colconfig/internal/session"
	"github.com/JonMunkholm/colconfig/internal/store"
)

func newEngine(t *testing.T) *assign.Engine {
	t.Helper()
	e := assign.NewEngine(catalog.MustDefault(), nil)
	require.NoError(t, e.Load([]assign.ColumnInput{
		{ColumnID: "c1", InitialType: "DATETIME", SystemName: "ts", LocalizedName: "Timestamp"},
		{ColumnID: "c2", InitialType: "DATETIME", InitialRole: "is_get_date", IsRegistered: true, SystemName: "got", LocalizedName: "Got"},
		{ColumnID: "c3", InitialType: "REAL_SEP", SystemName: "v", LocalizedName: "Value <raw>", Format: "#,##0.00"},
	}))
	return e
}

func TestPatches_FoldsEffectsPerColumn(t *testing.T) {
	res := assign.CascadeResult{Effects: []assign.Effect{
		{ColumnID: "c1", Kind: assign.EffectTypeChanged, TypeCode: "TEXT", RoleKey: "is_line_name"},
		{ColumnID: "c1", Kind: assign.EffectFormatFieldDisabled},
		{ColumnID: "c2", Kind: assign.EffectRoleCleared},
		{ColumnID: "c2", Kind: assign.EffectNamesRestored, SystemName: "a", LocalizedName: "A"},
		{ColumnID: "c3", Kind: assign.EffectRoleDisabled, RoleKey: "is_line_name"},
		{ColumnID: "c3", Kind: assign.EffectRoleEnabled, RoleKey: "is_line_name"},
	}}

	patches := Patches(res)
	require.Len(t, patches, 3)

	c1 := patches[0]
	assert.Equal(t, "c1", c1.ColumnID)
	require.NotNil(t, c1.Type)
	assert.Equal(t, catalog.TypeCode("TEXT"), *c1.Type)
	assert.Equal(t, catalog.RoleKey("is_line_name"), *c1.Role)
	require.NotNil(t, c1.FormatEnabled)
	assert.False(t, *c1.FormatEnabled)

	c2 := patches[1]
	assert.True(t, c2.RoleCleared)
	require.NotNil(t, c2.Names)
	assert.Equal(t, catalog.Names{SystemName: "a", LocalizedName: "A"}, *c2.Names)
	assert.False(t, *c2.NamesFixed)
	assert.Nil(t, c2.Type)

	c3 := patches[2]
	assert.Empty(t, c3.DisableRoles)
	assert.Equal(t, []catalog.RoleKey{"is_line_name"}, c3.EnableRoles)
}

func TestPatches_FromEngineCascade(t *testing.T) {
	e := newEngine(t)

	res, err := e.Assign("c3", "TEXT", "")
	require.NoError(t, err)

	patches := Patches(res)
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].FormatEnabled)
	assert.False(t, *patches[0].FormatEnabled)

	res, err = e.Assign("c3", "REAL_SEP", "")
	require.NoError(t, err)
	patches = Patches(res)
	require.Len(t, patches, 1)
	assert.True(t, *patches[0].FormatEnabled)
	assert.Equal(t, "#,##0.00", patches[0].Format)
}

func TestNewTable(t *testing.T) {
	e := newEngine(t)

	tbl, err := NewTable("s1", "sensor_a", e)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 3)
	assert.Len(t, tbl.Types, len(catalog.MustDefault().Types()))

	c1, c2, c3 := tbl.Rows[0], tbl.Rows[1], tbl.Rows[2]
	assert.True(t, c1.Disabled["is_get_date"])
	assert.False(t, c2.Disabled["is_get_date"])
	assert.True(t, c2.Locked)
	assert.False(t, c1.Locked)
	assert.True(t, c3.FormatEnabled)
	assert.Equal(t, "#,##0.00", c3.Format)

	rows := tbl.Select([]string{"c3", "missing", "c1"})
	require.Len(t, rows, 2)
	assert.Equal(t, "c3", rows[0].ColumnID)
	assert.Equal(t, "c1", rows[1].ColumnID)
}

func TestNewTable_FixedNaming(t *testing.T) {
	e := newEngine(t)
	_, err := e.Assign("c1", "DATE", "is_main_date")
	require.NoError(t, err)

	tbl, err := NewTable("s1", "sensor_a", e)
	require.NoError(t, err)
	assert.True(t, tbl.Rows[0].NamesFixed)
	assert.Equal(t, "Date", tbl.Rows[0].SystemName)
}

func TestPage_Renders(t *testing.T) {
	e := newEngine(t)
	tbl, err := NewTable("s1", "sensor <a>", e)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Page(tbl).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, `<tr id="col-c1"`)
	assert.Contains(t, html, `sensor &lt;a&gt;`)
	assert.Contains(t, html, `Value &lt;raw&gt;`)
	assert.Contains(t, html, `hx-post="/api/sessions/s1/assign"`)
	assert.Contains(t, html, `<option value="is_get_date" disabled>`)
	assert.Contains(t, html, `<option value="is_get_date" selected>`)
	assert.NotContains(t, html, "hx-swap-oob")
}

func TestRows_OutOfBand(t *testing.T) {
	e := newEngine(t)
	tbl, err := NewTable("s1", "sensor_a", e)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Rows(tbl, tbl.Select([]string{"c2"})).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, `<tr id="col-c2" data-column="c2" hx-swap-oob="outerHTML" data-registered>`)
	assert.NotContains(t, html, `id="col-c1"`)
	// Locked columns cannot change type or be reset.
	assert.Contains(t, html, `<select name="type" hx-post="/api/sessions/s1/assign"`)
	assert.Contains(t, html, ` disabled>`)
}

func TestSkippedNotice(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SkippedNotice(nil).Render(context.Background(), &buf))
	assert.Empty(t, buf.String())

	require.NoError(t, SkippedNotice([]string{"c2", "c4"}).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "2 locked column(s) were not changed: c2, c4")
}

func TestSubmitResult(t *testing.T) {
	var buf bytes.Buffer
	rev := store.Revision{ID: "01J0000000000000000000000", Columns: make([]assign.ColumnAssignment, 3)}
	require.NoError(t, SubmitResult(rev, nil).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "Saved revision 01J0000000000000000000000 (3 columns)")

	buf.Reset()
	verrs := store.ValidationErrors{
		{ColumnID: "c1", Field: store.FieldSystemName, Message: "system name is required"},
		{Field: store.FieldTable, Message: "a column must be assigned <Get date>"},
	}
	require.NoError(t, SubmitResult(store.Revision{}, verrs).Render(context.Background(), &buf))
	html := buf.String()
	assert.Contains(t, html, `data-column="c1"`)
	assert.Contains(t, html, "c1: system name is required")
	assert.Contains(t, html, "&lt;Get date&gt;")
}

func TestErrorAlert(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ErrorAlert("Session expired", "Reload the page", "SES001").Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "Session expired")
	assert.Contains(t, buf.String(), "Reload the page")
	assert.Contains(t, buf.String(), "SES001")
}

func TestIndex(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Index(nil).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "No open sessions")

	buf.Reset()
	opened := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	require.NoError(t, Index([]session.Info{{ID: "abc", TableKey: "line_1", Columns: 4, OpenedAt: opened}}).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), `href="/sessions/abc"`)
	assert.Contains(t, buf.String(), "line_1 (4 columns, opened 2026-03-04 10:30)")
}

func TestPage_LoadsScriptsFromPinnedSources(t *testing.T) {
	e := newEngine(t)
	tbl, err := NewTable("s1", "sensor_a", e)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Page(tbl).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, `<script src="https://unpkg.com/htmx.org@1.9.12" integrity="sha384-`)
	assert.Contains(t, html, `crossorigin="anonymous"`)
	assert.Contains(t, html, `<script src="/static/app.js"></script>`)
	// Every script is external so the page works under script-src 'self'.
	assert.Equal(t, strings.Count(html, "<script"), strings.Count(html, "<script src="))
}

func TestRows_EscapesColumnValues(t *testing.T) {
	tbl := Table{
		SessionID: "s1",
		Rows:      []Row{{ColumnID: `c"1`, SystemName: `a"><b>`}},
	}

	var buf bytes.Buffer
	require.NoError(t, Rows(tbl, tbl.Rows).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, `hx-vals="{&#34;columnId&#34;:&#34;c\&#34;1&#34;}"`)
	assert.Contains(t, html, `value="a&#34;&gt;&lt;b&gt;"`)
	assert.NotContains(t, html, `<b>`)
}
