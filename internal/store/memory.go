package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// MemoryStore keeps revisions in process memory. It is used when no database
// is configured and in tests.
type MemoryStore struct {
	cat *catalog.Catalog
	ids *idSource
	now func() time.Time

	mu        sync.RWMutex
	revisions map[string][]Revision
}

// NewMemoryStore creates an empty store validating against cat.
func NewMemoryStore(cat *catalog.Catalog) *MemoryStore {
	return &MemoryStore{
		cat:       cat,
		ids:       newIDSource(),
		now:       time.Now,
		revisions: make(map[string][]Revision),
	}
}

// Submit validates snapshot and appends it as the newest revision of tableKey.
func (s *MemoryStore) Submit(ctx context.Context, tableKey string, snapshot []assign.ColumnAssignment) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return Revision{}, err
	}
	tableKey = strings.TrimSpace(tableKey)
	if tableKey == "" {
		return Revision{}, ValidationErrors{{Field: FieldTable, Message: "table key is required"}}
	}
	if err := Validate(s.cat, snapshot); err != nil {
		return Revision{}, err
	}

	now := s.now().UTC()
	rev := Revision{
		ID:        s.ids.next(now),
		TableKey:  tableKey,
		Columns:   copyColumns(snapshot),
		CreatedAt: now,
	}

	s.mu.Lock()
	s.revisions[tableKey] = append(s.revisions[tableKey], rev)
	s.mu.Unlock()

	slog.Info("configuration saved", "table", tableKey, "revision", rev.ID, "columns", len(rev.Columns))
	return rev, nil
}

// Latest returns the newest revision of tableKey.
func (s *MemoryStore) Latest(ctx context.Context, tableKey string) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return Revision{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.revisions[tableKey]
	if len(revs) == 0 {
		return Revision{}, fmt.Errorf("%w: %s", ErrNoRevision, tableKey)
	}
	rev := revs[len(revs)-1]
	rev.Columns = copyColumns(rev.Columns)
	return rev, nil
}

func copyColumns(cols []assign.ColumnAssignment) []assign.ColumnAssignment {
	out := make([]assign.ColumnAssignment, len(cols))
	for i, c := range cols {
		if c.PriorNames != nil {
			n := *c.PriorNames
			c.PriorNames = &n
		}
		if c.CachedFormat != nil {
			f := *c.CachedFormat
			c.CachedFormat = &f
		}
		out[i] = c
	}
	return out
}
