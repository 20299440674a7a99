// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric result labels.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics records plugin lifecycle activity. A nil *Metrics records nothing.
type Metrics struct {
	Active       prometheus.Gauge
	LoadsTotal   *prometheus.CounterVec
	UnloadsTotal *prometheus.CounterVec
	LoadDuration prometheus.Histogram
}

// NewMetrics creates plugin metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modhost_plugins_active",
			Help: "Number of plugins currently active",
		}),
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_plugin_loads_total",
				Help: "Total number of plugin loads by result",
			},
			[]string{"result"},
		),
		UnloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_plugin_unloads_total",
				Help: "Total number of plugin unloads by result",
			},
			[]string{"result"},
		),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modhost_plugin_load_duration_seconds",
			Help:    "Time from load request to active plugin",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.Active, m.LoadsTotal, m.UnloadsTotal, m.LoadDuration)
	return m
}

func (m *Metrics) loaded(start time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LoadsTotal.WithLabelValues(resultFailure).Inc()
		return
	}
	m.LoadsTotal.WithLabelValues(resultSuccess).Inc()
	m.LoadDuration.Observe(time.Since(start).Seconds())
	m.Active.Inc()
}

// unloaded is called once the instance has left the registry, so err only
// describes how cleanly it went.
func (m *Metrics) unloaded(err error) {
	if m == nil {
		return
	}
	m.Active.Dec()
	if err != nil {
		m.UnloadsTotal.WithLabelValues(resultFailure).Inc()
		return
	}
	m.UnloadsTotal.WithLabelValues(resultSuccess).Inc()
}
