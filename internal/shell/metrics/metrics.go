// Package metrics exposes lifecycle activity as Prometheus metrics.
//
// A nil *Collector is a valid no-op, so callers can leave metrics disabled
// without guarding every call site.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/artpar/stackctl/internal/core/lifecycle"
)

// Collector records per-instance operation outcomes and in-flight invocations.
type Collector struct {
	// Operations counts finished instance operations.
	// Labels: verb, status=[ok, no-op, error]
	Operations *prometheus.CounterVec

	// Duration observes how long each applied instance operation took.
	// Labels: verb
	Duration *prometheus.HistogramVec

	// Running is the number of invocations currently executing.
	// Labels: verb
	Running *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates a Collector and registers it with reg. A nil reg gets a
// private registry, which keeps repeated CLI invocations in tests independent.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackctl_instance_operations_total",
				Help: "Total instance operations by verb and outcome",
			},
			[]string{"verb", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stackctl_instance_operation_seconds",
				Help:    "Instance operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb"},
		),
		Running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackctl_invocation_running",
				Help: "Lifecycle invocations currently in progress",
			},
			[]string{"verb"},
		),
		gatherer: reg,
	}

	for _, col := range []prometheus.Collector{c.Operations, c.Duration, c.Running} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// Started implements lifecycle.Reporter.
func (c *Collector) Started(lifecycle.Event) {}

// Finished implements lifecycle.Reporter.
func (c *Collector) Finished(ev lifecycle.Event) {
	if c == nil {
		return
	}
	verb := string(ev.Verb)
	c.Operations.WithLabelValues(verb, string(ev.Status)).Inc()
	if ev.Status != lifecycle.StatusNoop {
		c.Duration.WithLabelValues(verb).Observe(ev.Duration.Seconds())
	}
}

// Invocation marks one invocation of verb as running. The returned func
// marks it done.
func (c *Collector) Invocation(verb string) func() {
	if c == nil {
		return func() {}
	}
	g := c.Running.WithLabelValues(verb)
	g.Inc()
	return g.Dec
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for pickup by the node-exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
