package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace          = "apigw"
	promProcessorSubsystem = "processor"
	promBackendSubsystem   = "backend"
	promServeSubsystem     = "serve"
	promEndpointSubsystem  = "endpoint"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	// Metrics.
	stageM               *prometheus.HistogramVec
	chainM               *prometheus.HistogramVec
	backendM             *prometheus.HistogramVec
	serveM               *prometheus.HistogramVec
	errorsM              *prometheus.CounterVec
	endpointUnavailableM *prometheus.CounterVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	if len(opts.HistogramBuckets) == 0 {
		opts.HistogramBuckets = prometheus.DefBuckets
	}

	stage := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promProcessorSubsystem,
		Name:      "stage_duration_seconds",
		Help:      "Duration in seconds of a processor stage.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"chain", "stage"})

	chain := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promProcessorSubsystem,
		Name:      "chain_duration_seconds",
		Help:      "Duration in seconds of a processor chain.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"api", "chain"})

	backend := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promBackendSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds until a backend endpoint responded.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"api", "endpoint"})

	serve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promServeSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of serving a request.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"api", "method", "code"})

	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promServeSubsystem,
		Name:      "error_total",
		Help:      "The total of failures rendered to the clients.",
	}, []string{"api", "key"})

	endpointUnavailable := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promEndpointSubsystem,
		Name:      "unavailable_total",
		Help:      "The total of requests without a usable endpoint.",
	}, []string{"api"})

	p := &Prometheus{
		stageM:               stage,
		chainM:               chain,
		backendM:             backend,
		serveM:               serve,
		errorsM:              errors,
		endpointUnavailableM: endpointUnavailable,

		opts:     opts,
		registry: prometheus.NewRegistry(),
	}

	// Register all metrics.
	p.registerMetrics()
	return p
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.stageM)
	p.registry.MustRegister(p.chainM)
	p.registry.MustRegister(p.backendM)
	p.registry.MustRegister(p.serveM)
	p.registry.MustRegister(p.errorsM)
	p.registry.MustRegister(p.endpointUnavailableM)

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler satisfies Metrics interface.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	promHandler := p.getHandler()
	mux.Handle(path, promHandler)
}

// MeasureStage satisfies Metrics interface.
func (p *Prometheus) MeasureStage(chain, stage string, start time.Time) {
	p.stageM.WithLabelValues(chain, stage).Observe(p.sinceS(start))
}

// MeasureChain satisfies Metrics interface.
func (p *Prometheus) MeasureChain(api, chain string, start time.Time) {
	p.chainM.WithLabelValues(api, chain).Observe(p.sinceS(start))
}

// MeasureBackend satisfies Metrics interface.
func (p *Prometheus) MeasureBackend(api, endpoint string, start time.Time) {
	p.backendM.WithLabelValues(api, endpoint).Observe(p.sinceS(start))
}

// MeasureServe satisfies Metrics interface.
func (p *Prometheus) MeasureServe(api, method string, code int, start time.Time) {
	p.serveM.WithLabelValues(api, measuredMethod(method), fmt.Sprint(code)).Observe(p.sinceS(start))
}

// IncErrors satisfies Metrics interface.
func (p *Prometheus) IncErrors(api, key string) {
	p.errorsM.WithLabelValues(api, key).Inc()
}

// IncEndpointUnavailable satisfies Metrics interface.
func (p *Prometheus) IncEndpointUnavailable(api string) {
	p.endpointUnavailableM.WithLabelValues(api).Inc()
}
