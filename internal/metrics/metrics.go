// Package metrics exposes the build's Prometheus counters: the ones
// spec.md §8 names by name (PinIgnored, Retry) plus the dispatcher/coord
// counters needed to observe a running build. Grounded on
// mattcburns-shoal-provision's client_golang registry-and-counter-vec
// wiring.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry owns every counter this build emits. The zero value is not
// usable; construct with New.
type Registry struct {
	reg *prometheus.Registry

	PinIgnored   prometheus.Counter
	Retry        *prometheus.CounterVec
	PipCompleted *prometheus.CounterVec
	WorkerEvents *prometheus.CounterVec
}

// New constructs a Registry with every counter registered against a
// fresh prometheus.Registry (never the global default registerer, so
// multiple builds in one process don't collide).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		PinIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "contentsession",
			Name:      "pin_ignored_total",
			Help:      "Pins skipped because the node's remaining TTL already exceeded the ignore threshold.",
		}),
		Retry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "contentsession",
			Name:      "retry_total",
			Help:      "Retry attempts issued per content-session operation.",
		}, []string{"operation"}),
		PipCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "dispatcher",
			Name:      "pip_completed_total",
			Help:      "Pips reaching a terminal lifecycle state, by outcome.",
		}, []string{"outcome"}),
		WorkerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "coord",
			Name:      "worker_events_total",
			Help:      "Forwarded worker events, by severity.",
		}, []string{"level"}),
	}

	reg.MustRegister(r.PinIgnored, r.Retry, r.PipCompleted, r.WorkerEvents)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObservePinIgnored satisfies contentsession.PinIgnoredRecorder.
func (r *Registry) ObservePinIgnored() { r.PinIgnored.Inc() }

// ObserveRetry satisfies contentsession.RetryRecorder.
func (r *Registry) ObserveRetry(operation string) { r.Retry.WithLabelValues(operation).Inc() }
