package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colconfig_open_sessions",
		Help: "Configuration sessions currently open",
	})

	engineOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colconfig_engine_operations_total",
		Help: "Assignment engine operations by operation and outcome (ok, rejected, error)",
	}, []string{"op", "outcome"})

	cascadeEffects = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colconfig_cascade_effects",
		Help:    "Effects produced by one engine operation",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	}, []string{"op"})

	copySkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colconfig_copy_skipped_total",
		Help: "Bulk-copy targets skipped because their role is locked",
	})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colconfig_submissions_total",
		Help: "Configuration submits by outcome (saved, invalid, error)",
	}, []string{"outcome"})
)
