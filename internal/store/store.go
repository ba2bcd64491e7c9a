// Package store is the save boundary for column configurations.
//
// A submitted snapshot is validated against the catalog and, when it passes,
// written as a new immutable revision. Revisions are never updated; the most
// recent revision of a table key is its current configuration.
package store

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/JonMunkholm/colconfig/internal/assign"
)

// ErrNoRevision is returned by Latest when a table has never been submitted.
var ErrNoRevision = errors.New("no saved configuration")

// Revision is one saved configuration of a table.
type Revision struct {
	ID        string                    `json:"id"`
	TableKey  string                    `json:"tableKey"`
	Columns   []assign.ColumnAssignment `json:"columns"`
	CreatedAt time.Time                 `json:"createdAt"`
}

// Submitter persists validated snapshots.
type Submitter interface {
	Submit(ctx context.Context, tableKey string, snapshot []assign.ColumnAssignment) (Revision, error)
	Latest(ctx context.Context, tableKey string) (Revision, error)
}

// idSource hands out monotonic ULIDs. ulid.Monotonic is not safe for
// concurrent use, hence the mutex.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &idSource{entropy: ulid.Monotonic(src, 0)}
}

func (s *idSource) next(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}
