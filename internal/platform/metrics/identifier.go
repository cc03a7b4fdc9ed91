package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IdentifierMetrics tracks barcode minting. A nil *IdentifierMetrics records
// nothing.
type IdentifierMetrics struct {
	mintedTotal   *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	mintDuration  *prometheus.HistogramVec
	lookupsTotal  *prometheus.CounterVec
}

func NewIdentifierMetrics(registry *prometheus.Registry) (*IdentifierMetrics, error) {
	m := &IdentifierMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register identifier metrics: %w", err)
	}
	return m, nil
}

func (m *IdentifierMetrics) initMetrics() {
	m.mintedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "id3c_identifiers_minted_total",
			Help: "Identifiers minted, by identifier set",
		},
		[]string{"set"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "id3c_identifier_mint_retries_total",
			Help: "Barcode candidates rejected by the uniqueness or distance constraint",
		},
		[]string{"set"},
	)

	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "id3c_identifier_mint_failures_total",
			Help: "Mint operations abandoned after too many consecutive failures",
		},
		[]string{"set"},
	)

	m.mintDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "id3c_identifier_mint_duration_seconds",
			Help:    "Wall time of a mint operation",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~160s
		},
		[]string{"set"},
	)

	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "id3c_identifier_lookups_total",
			Help: "Identifier lookups, by result",
		},
		[]string{"result"}, // result: hit, miss, not_found
	)
}

func (m *IdentifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.mintedTotal.Describe(ch)
	m.retriesTotal.Describe(ch)
	m.failuresTotal.Describe(ch)
	m.mintDuration.Describe(ch)
	m.lookupsTotal.Describe(ch)
}

func (m *IdentifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mintedTotal.Collect(ch)
	m.retriesTotal.Collect(ch)
	m.failuresTotal.Collect(ch)
	m.mintDuration.Collect(ch)
	m.lookupsTotal.Collect(ch)
}

// RecordMint records a finished mint. failed marks a mint that ran out of
// retries.
func (m *IdentifierMetrics) RecordMint(set string, minted, retries int, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mintedTotal.WithLabelValues(set).Add(float64(minted))
	m.retriesTotal.WithLabelValues(set).Add(float64(retries))
	m.mintDuration.WithLabelValues(set).Observe(d.Seconds())
	if failed {
		m.failuresTotal.WithLabelValues(set).Inc()
	}
}

func (m *IdentifierMetrics) RecordLookup(result string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(result).Inc()
}
