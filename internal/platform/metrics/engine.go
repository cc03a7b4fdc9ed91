package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks rows moving through reconciliation routines.
// A nil *EngineMetrics records nothing.
type EngineMetrics struct {
	rowsTotal   *prometheus.CounterVec   // by routine, status
	rowDuration *prometheus.HistogramVec // by routine
	runsTotal   *prometheus.CounterVec   // by routine, result
	claimedRows *prometheus.GaugeVec     // by routine, rows claimed by the latest run
}

func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.rowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "id3c_etl_rows_total",
			Help: "Receiving rows handled by a routine, by outcome",
		},
		[]string{"routine", "status"}, // status: processed, skipped, failed
	)

	m.rowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "id3c_etl_row_duration_seconds",
			Help:    "Time spent transforming a single receiving row",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"routine"},
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "id3c_etl_runs_total",
			Help: "Routine runs, by result",
		},
		[]string{"routine", "result"}, // result: ok, aborted
	)

	m.claimedRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "id3c_etl_claimed_rows",
			Help: "Rows claimed by the most recent run of a routine",
		},
		[]string{"routine"},
	)
}

func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.rowsTotal.Describe(ch)
	m.rowDuration.Describe(ch)
	m.runsTotal.Describe(ch)
	m.claimedRows.Describe(ch)
}

func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.rowsTotal.Collect(ch)
	m.rowDuration.Collect(ch)
	m.runsTotal.Collect(ch)
	m.claimedRows.Collect(ch)
}

// RecordRow records one row's outcome and the time its transform took.
func (m *EngineMetrics) RecordRow(routine, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.rowsTotal.WithLabelValues(routine, status).Inc()
	m.rowDuration.WithLabelValues(routine).Observe(d.Seconds())
}

func (m *EngineMetrics) RecordClaim(routine string, rows int) {
	if m == nil {
		return
	}
	m.claimedRows.WithLabelValues(routine).Set(float64(rows))
}

func (m *EngineMetrics) RecordRun(routine string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "aborted"
	}
	m.runsTotal.WithLabelValues(routine, result).Inc()
}
