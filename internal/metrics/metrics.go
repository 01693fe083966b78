// Package metrics collects batch run counters in a Prometheus registry that
// can be written out for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Series outcomes.
const (
	OutcomeFilled    = "filled"
	OutcomeSkipped   = "skipped"
	OutcomeIrregular = "irregular"
	OutcomeMalformed = "malformed"
	OutcomeViolation = "violation"
	OutcomeValid     = "valid"
)

// Metrics holds the counters of one tsbatch run.
type Metrics struct {
	registry *prometheus.Registry
	series   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		series: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tsbatch",
			Name:      "series_total",
			Help:      "Parameter values handled, by command and outcome.",
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tsbatch",
			Name:      "database_seconds",
			Help:      "Time spent processing one database.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"command"}),
	}
	m.registry.MustRegister(m.series, m.duration)
	return m
}

// Series counts one value with the given outcome. Nil metrics are a no-op.
func (m *Metrics) Series(command, outcome string) {
	if m == nil {
		return
	}
	m.series.WithLabelValues(command, outcome).Inc()
}

// ObserveDatabase records how long one database took.
func (m *Metrics) ObserveDatabase(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(command).Observe(d.Seconds())
}

// Count returns the current counter value, for summaries.
func (m *Metrics) Count(command, outcome string) float64 {
	if m == nil {
		return 0
	}
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		if mf.GetName() != "tsbatch_series_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchLabels(metric.GetLabel(), command, outcome) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(labels []*dto.LabelPair, command, outcome string) bool {
	found := 0
	for _, l := range labels {
		switch {
		case l.GetName() == "command" && l.GetValue() == command:
			found++
		case l.GetName() == "outcome" && l.GetValue() == outcome:
			found++
		}
	}
	return found == 2
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
