// Package metricsvc exposes the platform metrics to Prometheus.
package metricsvc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/core/risk"
)

const namespace = "engage"

type Recorder struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	risksComputed       *prometheus.CounterVec
	nudgesGenerated     *prometheus.CounterVec
	simulationRuns      prometheus.Counter
	simulationLearners  prometheus.Gauge
	simulationDuration  prometheus.Histogram
}

var _ learner.Recorder = (*Recorder)(nil)

// NewRecorder registers the collectors on a new registry, along with the Go & process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		risksComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risks_computed_total",
			Help:      "Risk computations by resulting label.",
		}, []string{"label"}),
		nudgesGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nudges_generated_total",
			Help:      "Nudges generated by channel and whether static fallback content was used.",
		}, []string{"channel", "fallback"}),
		simulationRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_runs_total",
			Help:      "Completed simulation runs.",
		}),
		simulationLearners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulation_last_processed_learners",
			Help:      "Learners processed by the last simulation run.",
		}),
		simulationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      "Simulation run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (r *Recorder) RiskComputed(label risk.Label) {
	r.risksComputed.WithLabelValues(label.String()).Inc()
}

func (r *Recorder) NudgeGenerated(channel string, fallback bool) {
	r.nudgesGenerated.WithLabelValues(channel, strconv.FormatBool(fallback)).Inc()
}

func (r *Recorder) SimulationRun(processed int, duration time.Duration) {
	r.simulationRuns.Inc()
	r.simulationLearners.Set(float64(processed))
	r.simulationDuration.Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts requests and observes their latency per matched route.
func (r *Recorder) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			if err != nil {
				// let the error handler write the response, so its status is recorded
				c.Error(err)
			}
			status := c.Response().Status

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			r.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			r.httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
