// Package metrics defines the Prometheus collectors shared by the kv store
// and the binding views.
//
// A nil *Metrics is valid and records nothing, so packages can take an
// optional *Metrics without branching at every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config controls collector naming.
type Config struct {
	// Namespace is the Prometheus namespace. Default: "kprefs".
	Namespace string

	// Registry receives the collectors. If nil, a fresh registry is created.
	Registry *prometheus.Registry
}

// DefaultConfig returns the default collector naming.
func DefaultConfig() Config {
	return Config{Namespace: "kprefs"}
}

// Metrics groups the collectors. All methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	commitsTotal        *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	listenerPanicsTotal prometheus.Counter
	registrations       prometheus.Gauge
	emissionsTotal      *prometheus.CounterVec
	subscribers         *prometheus.GaugeVec
}

// New registers the kprefs collectors on cfg.Registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "kprefs"
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "store",
			Name:      "commits_total",
			Help:      "Editor commits by result.",
		}, []string{"namespace", "result"}),
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "store",
			Name:      "notifications_total",
			Help:      "Key change notifications dispatched, by origin (local or external).",
		}, []string{"namespace", "origin"}),
		listenerPanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "store",
			Name:      "listener_panics_total",
			Help:      "Change listeners that panicked during dispatch.",
		}),
		registrations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "store",
			Name:      "registrations",
			Help:      "Change listeners currently registered.",
		}),
		emissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "binding",
			Name:      "emissions_total",
			Help:      "Values emitted by observable views, by view kind.",
		}, []string{"view"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "binding",
			Name:      "subscribers",
			Help:      "Live subscribers and consumers, by view kind.",
		}, []string{"view"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Commit records one editor commit.
func (m *Metrics) Commit(namespace string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commitsTotal.WithLabelValues(namespace, result).Inc()
}

// Notification records one dispatched key change.
func (m *Metrics) Notification(namespace string, external bool) {
	if m == nil {
		return
	}
	origin := "local"
	if external {
		origin = "external"
	}
	m.notificationsTotal.WithLabelValues(namespace, origin).Inc()
}

// ListenerPanic records a recovered listener panic.
func (m *Metrics) ListenerPanic() {
	if m == nil {
		return
	}
	m.listenerPanicsTotal.Inc()
}

// RegistrationAdded and RegistrationRemoved track live listeners.
func (m *Metrics) RegistrationAdded() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

func (m *Metrics) RegistrationRemoved() {
	if m == nil {
		return
	}
	m.registrations.Dec()
}

// Emission records one value handed to a view's subscribers.
func (m *Metrics) Emission(view string) {
	if m == nil {
		return
	}
	m.emissionsTotal.WithLabelValues(view).Inc()
}

// SubscriberDelta adjusts the live subscriber gauge for a view kind.
func (m *Metrics) SubscriberDelta(view string, delta int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(view).Add(float64(delta))
}
