// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package metrics exposes the daemon's Prometheus instrumentation:
// per-message-type control-plane counters, mapping/cache population
// gauges, and RLOC reachability transitions. See spec §4.N (the
// non-goal on exporting a full data-plane byte/packet count stands;
// these cover control-plane health only).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lispd"

// Registry groups every metric the daemon registers, so a caller needing
// an isolated registry (tests, multiple daemon instances in one process)
// can build one with NewForRegistry instead of touching the global
// DefaultRegisterer.
type Registry struct {
	ControlMessagesTotal  *prometheus.CounterVec
	ControlErrorsTotal    *prometheus.CounterVec
	RegistrationsTotal    *prometheus.CounterVec
	MapRequestsTotal      *prometheus.CounterVec
	RLOCStateTransitions  *prometheus.CounterVec
	LocalMappingsGauge    prometheus.Gauge
	MapCacheEntriesGauge  prometheus.Gauge
	PendingRequestsGauge  prometheus.Gauge
	RLOCProbeRTT          *prometheus.HistogramVec
}

// NewForRegistry builds the full metric set registered against reg.
func NewForRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ControlMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_messages_total",
			Help:      "Control-plane messages processed, by type and direction.",
		}, []string{"type", "direction"}),

		ControlErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_errors_total",
			Help:      "Control-plane messages rejected, by type and reason.",
		}, []string{"type", "reason"}),

		RegistrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Map-Register attempts sent, by outcome.",
		}, []string{"outcome"}),

		MapRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_requests_total",
			Help:      "Map-Request attempts sent, by kind and outcome.",
		}, []string{"kind", "outcome"}),

		RLOCStateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rloc_state_transitions_total",
			Help:      "RLOC reachability state transitions, by new state.",
		}, []string{"state"}),

		LocalMappingsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_mappings",
			Help:      "Locally registered EID-prefix mappings currently held.",
		}),

		MapCacheEntriesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "map_cache_entries",
			Help:      "Map-cache entries currently cached, positive and negative.",
		}),

		PendingRequestsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Map-Requests currently awaiting a reply.",
		}),

		RLOCProbeRTT: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rloc_probe_rtt_seconds",
			Help:      "RLOC probe round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"locator"}),
	}
}

// New builds the full metric set registered against the global default
// registerer, for the common single-daemon-per-process case.
func New() *Registry {
	return NewForRegistry(prometheus.DefaultRegisterer)
}
