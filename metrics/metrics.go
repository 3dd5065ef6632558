package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind selects the metrics format.
type Kind int

const (
	UnkownKind     Kind = 0
	CodaHaleKind   Kind = 1 << iota
	PrometheusKind Kind = 1 << iota
	AllKind             = CodaHaleKind | PrometheusKind
)

func (k Kind) String() string {
	switch k {
	case AllKind:
		return "all"
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses the metrics flavour names, e.g. "codahale" or
// "codahale,prometheus".
func ParseMetricsKind(t string) (Kind, error) {
	var k Kind
	for _, s := range strings.Split(t, ",") {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "codahale":
			k |= CodaHaleKind
		case "prometheus":
			k |= PrometheusKind
		case "":
		default:
			return UnkownKind, fmt.Errorf("invalid metrics flavour: %s", s)
		}
	}

	if k == UnkownKind {
		return CodaHaleKind, nil
	}

	return k, nil
}

// Options for initializing metrics collection.
type Options struct {
	// The format of the collected metrics.
	Format Kind

	// Common prefix for the keys of the different collected metrics. In
	// Prometheus format it replaces the default namespace.
	Prefix string

	// If set, Go runtime metrics are collected in addition to the http
	// traffic metrics.
	EnableRuntimeMetrics bool

	// Histogram buckets of the Prometheus format. Defaults to
	// prometheus.DefBuckets.
	HistogramBuckets []float64

	// Use exponentially decaying samples in the Coda Hale timers,
	// instead of uniform ones.
	UseExpDecaySample bool
}

// Metrics is the generic interface of the collectors of the gateway.
type Metrics interface {
	// MeasureStage records the duration of a processor stage.
	MeasureStage(chain, stage string, start time.Time)

	// MeasureChain records the duration of a whole processor chain of
	// an API.
	MeasureChain(api, chain string, start time.Time)

	// MeasureBackend records the time until the backend responded with
	// its headers.
	MeasureBackend(api, endpoint string, start time.Time)

	// MeasureServe records the total time of serving a request.
	MeasureServe(api, method string, code int, start time.Time)

	// IncErrors counts the failures rendered to the clients, by error
	// key.
	IncErrors(api, key string)

	// IncEndpointUnavailable counts the requests that found no usable
	// endpoint.
	IncEndpointUnavailable(api string)

	RegisterHandler(path string, mux *http.ServeMux)
}

// New creates the collector for the configured format.
func New(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case PrometheusKind:
		return NewPrometheus(o)
	default:
		return NewCodaHale(o)
	}
}

// Void discards every metric.
var Void Metrics = void{}

type void struct{}

func (void) MeasureStage(string, string, time.Time)      {}
func (void) MeasureChain(string, string, time.Time)      {}
func (void) MeasureBackend(string, string, time.Time)    {}
func (void) MeasureServe(string, string, int, time.Time) {}
func (void) IncErrors(string, string)                    {}
func (void) IncEndpointUnavailable(string)               {}
func (void) RegisterHandler(string, *http.ServeMux)      {}
