package view

//go:generate templ generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/colconfig/internal/session"
	"github.com/JonMunkholm/colconfig/internal/store"
)

func apiPath(sessionID, op string) string {
	return "/api/sessions/" + sessionID + "/" + op
}

// vals is the hx-vals payload that names the row's column on every request.
func (r Row) vals() (string, error) {
	b, err := json.Marshal(map[string]string{"columnId": r.ColumnID})
	return string(b), err
}

func sessionLabel(s session.Info) string {
	return fmt.Sprintf("%s (%d columns, opened %s)", s.TableKey, s.Columns, s.OpenedAt.Format("2006-01-02 15:04"))
}

func skippedMessage(skipped []string) string {
	return fmt.Sprintf("%d locked column(s) were not changed: %s", len(skipped), strings.Join(skipped, ", "))
}

func savedMessage(rev store.Revision) string {
	return fmt.Sprintf("Saved revision %s (%d columns)", rev.ID, len(rev.Columns))
}

func problemText(e store.ValidationError) string {
	if e.ColumnID == "" {
		return e.Message
	}
	return e.ColumnID + ": " + e.Message
}
