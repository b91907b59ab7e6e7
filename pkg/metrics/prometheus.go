package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "genforge"

// PrometheusRecorder implements Recorder with a private registry.
type PrometheusRecorder struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	coderSteps      *prometheus.CounterVec
	fileEvents      *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its own registry, including
// Go runtime, process and build-info collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector(Namespace),
	)
	f := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of LLM requests by model, run, stage, and status",
			},
			[]string{"model", "run_id", "stage", "status", "error_type"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "llm_tokens_total",
				Help:      "Estimated tokens used in LLM requests",
			},
			[]string{"model", "run_id", "stage", "type"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of LLM requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "stage"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "runs_total",
				Help:      "Finished generation runs by terminal status",
			},
			[]string{"status"},
		),
		coderSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "coder_steps_total",
				Help:      "Coder steps by outcome",
			},
			[]string{"outcome"},
		),
		fileEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "file_events_total",
				Help:      "Relayed file mutations by kind",
			},
			[]string{"kind"},
		),
	}
}

func (p *PrometheusRecorder) ObserveRequest(model, runID, stage string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.requestsTotal.WithLabelValues(model, runID, stage, status, errorType).Inc()
	if success {
		p.tokensTotal.WithLabelValues(model, runID, stage, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, runID, stage, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(model, stage).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRun(status string) {
	p.runsTotal.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncCoderStep(outcome string) {
	p.coderSteps.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncFileEvent(kind string) {
	p.fileEvents.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry for tests and custom exposition.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
