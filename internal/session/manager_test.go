package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(maxOpen int) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(catalog.MustDefault(), maxOpen)
	m.now = clock.Now
	return m, clock
}

var testColumns = []assign.ColumnInput{
	{ColumnID: "c1", InitialType: "DATETIME", SystemName: "ts"},
	{ColumnID: "c2", InitialType: "INTEGER", SystemName: "n"},
}

func TestManager_OpenDoClose(t *testing.T) {
	m, _ := newTestManager(0)

	info, err := m.Open("sensor_a", testColumns)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 2, info.Columns)
	assert.Equal(t, 1, m.Count())

	var res assign.CascadeResult
	err = m.Do(info.ID, func(e *assign.Engine) error {
		var err error
		res, err = e.Assign("c1", "DATETIME", "is_get_date")
		return err
	})
	require.NoError(t, err)
	assert.True(t, res.Has("c1", assign.EffectTypeChanged))

	require.NoError(t, m.Close(info.ID))
	assert.ErrorIs(t, m.Close(info.ID), ErrSessionNotFound)
	assert.ErrorIs(t, m.Do(info.ID, func(*assign.Engine) error { return nil }), ErrSessionNotFound)
	_, err = m.Info(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_List(t *testing.T) {
	m, clock := newTestManager(0)

	first, err := m.Open("a", testColumns)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := m.Open("b", testColumns)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, "b", list[1].TableKey)
}

func TestManager_OpenRejectsBadColumns(t *testing.T) {
	m, _ := newTestManager(0)

	_, err := m.Open("t", []assign.ColumnInput{{ColumnID: "c1", InitialType: "BLOB"}})
	assert.ErrorIs(t, err, catalog.ErrUnknownType)
	assert.Zero(t, m.Count())
}

func TestManager_MaxOpen(t *testing.T) {
	m, _ := newTestManager(2)

	for i := 0; i < 2; i++ {
		_, err := m.Open("t", testColumns)
		require.NoError(t, err)
	}
	_, err := m.Open("t", testColumns)
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManager_EvictIdle(t *testing.T) {
	m, clock := newTestManager(0)

	stale, err := m.Open("t", testColumns)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	fresh, err := m.Open("t", testColumns)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, m.EvictIdle(30*time.Minute))
	_, err = m.Info(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Activity refreshes the idle clock.
	require.NoError(t, m.Do(fresh.ID, func(*assign.Engine) error { return nil }))
	clock.Advance(20 * time.Minute)
	assert.Zero(t, m.EvictIdle(30*time.Minute))
	assert.Equal(t, 1, m.Count())
}

func TestManager_ConcurrentDoIsSerialized(t *testing.T) {
	m, _ := newTestManager(0)
	info, err := m.Open("t", testColumns)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Do(info.ID, func(e *assign.Engine) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				role := catalog.RoleKey("is_serial_no")
				target := "c2"
				if i%2 == 0 {
					target = "c1"
				}
				_, err := e.Assign(target, "INTEGER", role)

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
		}(i)
	}
	wg.Wait()

	assert.False(t, overlap)
	require.NoError(t, m.Do(info.ID, func(e *assign.Engine) error {
		holders := 0
		for _, c := range e.Snapshot() {
			if c.CurrentRole == "is_serial_no" {
				holders++
			}
		}
		assert.Equal(t, 1, holders)
		return nil
	}))
}

func TestStartSweeper_StopsOnCancel(t *testing.T) {
	m, _ := newTestManager(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.StartSweeper(ctx, SweepConfig{IdleTimeout: time.Minute, Interval: 10 * time.Millisecond})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
