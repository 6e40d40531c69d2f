// Package metrics exposes control loop and agent lifecycle counters to
// Prometheus.
package metrics

import (
	"net/http"

	bt "github.com/joeycumines/go-behaviortree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeycumines/safeswitch/internal/event"
)

const namespace = "safeswitch"

// Collector is an event.Sink and tick hook backed by its own registry.
type Collector struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	ticks         *prometheus.CounterVec
	tickErrors    prometheus.Counter
	episodeReward *prometheus.HistogramVec
	episodeSteps  *prometheus.HistogramVec
}

var _ event.Sink = (*Collector)(nil)

// NewCollector registers all metrics on registry, or on a fresh registry if
// registry is nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "events_total",
				Help:      "Lifecycle events by kind and agent",
			},
			[]string{"kind", "agent"},
		),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tree",
				Name:      "ticks_total",
				Help:      "Root ticks by resulting status",
			},
			[]string{"status"},
		),
		tickErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tree",
				Name:      "tick_errors_total",
				Help:      "Root ticks that returned an error",
			},
		),
		episodeReward: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "episode_reward",
				Help:      "Cumulative reward at the end of each episode",
				Buckets:   []float64{-3, -2, -1, -0.5, 0, 0.5, 1, 1.5, 2},
			},
			[]string{"agent"},
		),
		episodeSteps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "episode_steps",
				Help:      "Actions taken in each episode",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"agent"},
		),
	}
	registry.MustRegister(c.events, c.ticks, c.tickErrors, c.episodeReward, c.episodeSteps)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Emit implements event.Sink.
func (c *Collector) Emit(e event.Event) {
	c.events.WithLabelValues(e.Kind.String(), e.Agent).Inc()
	if e.Kind == event.EpisodeEnd {
		c.episodeReward.WithLabelValues(e.Agent).Observe(e.Reward)
		c.episodeSteps.WithLabelValues(e.Agent).Observe(float64(e.LocalStep))
	}
}

// ObserveTick records the outcome of one root tick. It has the signature
// expected by control.WithTickHook.
func (c *Collector) ObserveTick(status bt.Status, err error) {
	if err != nil {
		c.tickErrors.Inc()
		return
	}
	c.ticks.WithLabelValues(status.String()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
