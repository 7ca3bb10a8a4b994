// Package metrics exposes prometheus collectors for guided walks, photo
// reviews and the HTTP API
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/shiftcheck/internal/command"
	"github.com/yegors/shiftcheck/internal/guide"
)

const namespace = "shiftcheck"

// Compile-time interface check
var _ guide.Observer = (*Collector)(nil)

// Collector records metrics on its own registry
type Collector struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	responseWrites *prometheus.CounterVec
	walksActive    prometheus.Gauge
	walksEnded     *prometheus.CounterVec
	photoReviews   *prometheus.CounterVec
	photoDuration  *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	mu     sync.Mutex
	active map[string]bool // sessions currently counted in walksActive
}

// NewCollector creates a collector with every metric registered. Go runtime
// and process collectors are included when withRuntime is set.
func NewCollector(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		active:   make(map[string]bool),

		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Utterances interpreted by the guided walk",
			},
			[]string{"mode", "action"},
		),
		responseWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_writes_total",
				Help:      "Response writes by outcome",
			},
			[]string{"mode", "result"},
		),
		walksActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "walks_active",
				Help:      "Guided walks currently running",
			},
		),
		walksEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "walks_ended_total",
				Help:      "Guided walks that ended, by reason",
			},
			[]string{"mode", "reason"},
		),
		photoReviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "photo_reviews_total",
				Help:      "Photo analyses by provider and outcome",
			},
			[]string{"mode", "provider", "result"},
		),
		photoDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "photo_review_seconds",
				Help:      "Time taken to analyze a photo",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"provider"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	c.registry.MustRegister(
		c.commands,
		c.responseWrites,
		c.walksActive,
		c.walksEnded,
		c.photoReviews,
		c.photoDuration,
		c.httpRequests,
		c.httpDuration,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return c
}

// Registry returns the registry the metrics live on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CommandInterpreted counts one classified utterance
func (c *Collector) CommandInterpreted(mode guide.Mode, action command.Action) {
	c.commands.WithLabelValues(string(mode), string(action)).Inc()
}

// ResponseSaved counts one response write
func (c *Collector) ResponseSaved(mode guide.Mode, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.responseWrites.WithLabelValues(string(mode), result).Inc()
}

// StateChanged keeps walks_active in step with the loop's active flag
func (c *Collector) StateChanged(snap guide.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counted := c.active[snap.SessionID]
	switch {
	case snap.Active && !counted:
		c.active[snap.SessionID] = true
		c.walksActive.Inc()
	case !snap.Active && counted:
		delete(c.active, snap.SessionID)
		c.walksActive.Dec()
	}
}

// SessionEnded counts a finished walk
func (c *Collector) SessionEnded(mode guide.Mode, outcome guide.Outcome) {
	c.walksEnded.WithLabelValues(string(mode), string(outcome.Reason)).Inc()
}

// PhotoReviewed counts one photo analysis and its duration
func (c *Collector) PhotoReviewed(mode guide.Mode, provider string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.photoReviews.WithLabelValues(string(mode), provider, result).Inc()
	c.photoDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// HTTPRequest records one served request
func (c *Collector) HTTPRequest(method, route string, status int, took time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
