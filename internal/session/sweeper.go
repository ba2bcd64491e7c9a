package session

// sweeper.go evicts configuration sessions that have been idle too long.
//
// The sweeper is long-running and context-aware for graceful shutdown. It
// runs once on start and then on every interval tick.

import (
	"context"
	"log/slog"
	"time"
)

// SweepConfig controls the idle-session sweeper.
type SweepConfig struct {
	IdleTimeout time.Duration // Sessions untouched this long are evicted (default: 30m)
	Interval    time.Duration // How often to sweep (default: 1m)
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	return c
}

// StartSweeper blocks, evicting idle sessions until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, cfg SweepConfig) {
	cfg = cfg.withDefaults()
	slog.Info("session sweeper started",
		"idle_timeout", cfg.IdleTimeout,
		"interval", cfg.Interval,
	)

	m.sweep(cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			m.sweep(cfg)
		}
	}
}

func (m *Manager) sweep(cfg SweepConfig) {
	start := time.Now()
	evicted := m.EvictIdle(cfg.IdleTimeout)
	if evicted == 0 {
		slog.Debug("session sweep completed", "evicted", 0)
		return
	}
	slog.Info("idle sessions evicted",
		"evicted", evicted,
		"open_sessions", m.Count(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
