package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the server's Prometheus collectors. Each server owns its
// registry so tests can spin up independent instances.
type Metrics struct {
	Registry           *prometheus.Registry
	RowsIngested       prometheus.Counter
	ScreensRun         prometheus.Counter
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	BacktestDuration   prometheus.Histogram
}

// NewMetrics creates and registers the server's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_ingested_rows_total",
			Help: "Total price rows accepted through the ingest endpoint.",
		}),
		ScreensRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_screens_total",
			Help: "Total full-market screening runs.",
		}),
		BacktestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backtests_completed_total",
			Help: "Total backtests finished successfully.",
		}),
		BacktestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backtests_failed_total",
			Help: "Total backtests that ended in an error.",
		}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_backtest_duration_seconds",
			Help:    "Wall-clock duration of completed backtests.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	m.Registry.MustRegister(
		m.RowsIngested,
		m.ScreensRun,
		m.BacktestsCompleted,
		m.BacktestsFailed,
		m.BacktestDuration,
	)
	return m
}
