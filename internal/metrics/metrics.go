// Package metrics exposes the engine's operational counters over a Prometheus
// registry. The metrics transport (a scraping Prometheus server) is external;
// only the instrumentation surface lives here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hbomb79/pvplayer/internal/engine"
	"github.com/hbomb79/pvplayer/internal/event"
)

// Metrics bundles every instrument the player registers. Counters are fed by
// subscribing to the engine's event coordinator, so the engine itself stays
// free of any metrics dependency.
type Metrics struct {
	registry *prometheus.Registry

	engineState       prometheus.Gauge
	commandsCompleted *prometheus.CounterVec
	errorEvents       prometheus.Counter
	infoEvents        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		engineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pvplayer",
			Name:      "engine_state",
			Help:      "Current engine state as its enum ordinal (0=Idle ... 16=Error).",
		}),
		commandsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pvplayer",
			Name:      "commands_completed_total",
			Help:      "Completed engine commands, labelled by terminal status.",
		}, []string{"status"}),
		errorEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvplayer",
			Name:      "error_events_total",
			Help:      "Asynchronous error events reported to the client.",
		}),
		infoEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pvplayer",
			Name:      "informational_events_total",
			Help:      "Informational events (underflow, data-ready, position ticks).",
		}),
	}

	m.registry.MustRegister(m.engineState, m.commandsCompleted, m.errorEvents, m.infoEvents)
	return m
}

// Observe subscribes the instruments to the engine's event stream.
func (m *Metrics) Observe(events event.EventHandler) {
	events.RegisterHandlerFunction(event.EngineStateChanged, func(_ event.Event, payload event.Payload) {
		if state, ok := payload.(engine.EngineState); ok {
			m.engineState.Set(float64(state))
		}
	})
	events.RegisterHandlerFunction(event.CommandCompleted, func(_ event.Event, payload event.Payload) {
		if completed, ok := payload.(engine.CommandCompletedPayload); ok {
			m.commandsCompleted.WithLabelValues(completed.Status.String()).Inc()
		}
	})
	events.RegisterHandlerFunction(event.HandleErrorEvent, func(_ event.Event, _ event.Payload) {
		m.errorEvents.Inc()
	})
	events.RegisterHandlerFunction(event.HandleInformationalEvent, func(_ event.Event, _ event.Payload) {
		m.infoEvents.Inc()
	})
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
