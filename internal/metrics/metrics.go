// Package metrics exposes Prometheus collectors for the polling loop.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whatt"

// Entry outcomes.
const (
	OutcomeDispatched  = "dispatched"
	OutcomeDuplicate   = "duplicate"
	OutcomeNoID        = "no_id"
	OutcomeUnparseable = "unparseable"
)

// Send and flush results.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultNoControl   = "no_control"
	ResultRateLimited = "rate_limited"
)

// Metrics groups the collectors of one client.
type Metrics struct {
	Ticks        prometheus.Counter
	SkippedTicks prometheus.Counter
	TickDuration prometheus.Histogram
	Entries      *prometheus.CounterVec
	Commands     *prometheus.CounterVec
	Panics       prometheus.Counter
	Flushes      *prometheus.CounterVec
	Sends        *prometheus.CounterVec
	SeenSize     prometheus.Gauge
}

// New creates the collectors labelled with clientID and registers them on
// reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer, clientID string) (*Metrics, error) {
	labels := prometheus.Labels{"client": clientID}
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_ticks_total",
			Help: "Poll ticks executed.", ConstLabels: labels,
		}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_ticks_skipped_total",
			Help: "Poll ticks skipped because no conversation was open.", ConstLabels: labels,
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_tick_seconds",
			Help:        "Duration of one poll tick.",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
			ConstLabels: labels,
		}),
		Entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_total",
			Help: "Candidate entries by outcome.", ConstLabels: labels,
		}, []string{"outcome"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Commands dispatched by name.", ConstLabels: labels,
		}, []string{"command"}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handler_panics_total",
			Help: "Recovered panics in handlers and listeners.", ConstLabels: labels,
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "seen_flushes_total",
			Help: "Seen-set persistence attempts by result.", ConstLabels: labels,
		}, []string{"result"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sends_total",
			Help: "SendMessage calls by result.", ConstLabels: labels,
		}, []string{"result"}),
		SeenSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "seen_ids",
			Help: "Identifiers currently held in the seen-set.", ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, fmt.Errorf("metrics for client %q already registered", clientID)
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	m, _ := New(nil, "")
	return m
}

// Unregister removes the collectors from reg.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Ticks, m.SkippedTicks, m.TickDuration, m.Entries, m.Commands,
		m.Panics, m.Flushes, m.Sends, m.SeenSize,
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
