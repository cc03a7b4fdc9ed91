// Package metrics provides the Prometheus collectors for reconciliation runs,
// identifier minting and the ingestion API.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every collector group behind one registry.
type Metrics struct {
	Registry    *prometheus.Registry
	Engine      *EngineMetrics
	Identifiers *IdentifierMetrics
	HTTP        *HTTPMetrics
}

// New creates a registry with the process and Go runtime collectors plus
// the application groups.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	engine, err := NewEngineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("engine metrics: %w", err)
	}
	identifiers, err := NewIdentifierMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("identifier metrics: %w", err)
	}
	httpMetrics, err := NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	return &Metrics{
		Registry:    registry,
		Engine:      engine,
		Identifiers: identifiers,
		HTTP:        httpMetrics,
	}, nil
}
