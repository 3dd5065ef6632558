// Package tracing handles opentracing support for the gateway.
//
// The tracer is selected by name, with optional arguments, e.g.:
//
//	-opentracing noop
//	-opentracing "basic sample-modulo=10 max-logs-per-span=20"
//
// Every request gets an ingress span, extracted from the incoming
// headers when present, with request_chain, response_chain, error_chain
// and backend child spans.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"

	"github.com/zalando/apigw/tracing/tracers/basic"
)

var (
	// ErrUnsupportedTracer is returned when an unsupported opentracing
	// implementation was requested as tracer
	ErrUnsupportedTracer error = errors.New("invalid argument, not a supported tracer")
	// ErrMissingArguments is returned when an empty list is passed to Init()
	ErrMissingArguments error = errors.New("no arguments passed")
)

// These constants are based on semantic convention and are compatible with
// the tags in: github.com/opentracing/opentracing-go/ext/tags.go
const (
	ClientRequestStateTag = "client.request"
	ComponentTag          = "component"
	ErrorTag              = "error"
	FlowIDTag             = "flowid"
	HTTPMethodTag         = "http.method"
	HTTPPathTag           = "http.path"
	HTTPUrlTag            = "http.url"
	HTTPStatusCodeTag     = "http.status_code"
	SpanKindTag           = "span.kind"
	APITag                = "apigw.api"
	EndpointTag           = "apigw.endpoint"
	ErrorKeyTag           = "apigw.error_key"

	ClientRequestCanceled = "canceled"
	SpanKindClient        = "client"
	SpanKindServer        = "server"

	ComponentName = "apigw"

	IngressSpanName       = "ingress"
	RequestChainSpanName  = "request_chain"
	ResponseChainSpanName = "response_chain"
	ErrorChainSpanName    = "error_chain"
	BackendSpanName       = "backend"
)

// Init creates the tracer selected by the first argument. The rest of
// the arguments are passed to the tracer implementation.
func Init(opts []string) (ot.Tracer, error) {
	if len(opts) == 0 {
		return nil, ErrMissingArguments
	}

	impl, opts := opts[0], opts[1:]
	switch impl {
	case "noop":
		return &ot.NoopTracer{}, nil
	case "mock":
		return mocktracer.New(), nil
	case "basic":
		t, err := basic.InitTracer(opts)
		if err != nil {
			return nil, fmt.Errorf("tracer %s: %w", impl, err)
		}

		return t, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTracer, impl)
	}
}

// Close releases the resources of the tracer, when it holds any.
func Close(t ot.Tracer) {
	switch c := t.(type) {
	case interface{ Close() }:
		c.Close()
	case io.Closer:
		c.Close()
	}
}

// CreateSpan starts a span as the child of the span found in the
// context, or a root span when there is none.
func CreateSpan(name string, ctx context.Context, tracer ot.Tracer) ot.Span {
	parentSpan := ot.SpanFromContext(ctx)
	if parentSpan == nil {
		return tracer.StartSpan(name)
	}

	return tracer.StartSpan(name, ot.ChildOf(parentSpan.Context()))
}

// StartIngressSpan starts the server span of an incoming request,
// continuing the trace propagated in its headers.
func StartIngressSpan(tracer ot.Tracer, r *http.Request) ot.Span {
	var opts []ot.StartSpanOption
	wireContext, err := tracer.Extract(ot.HTTPHeaders, ot.HTTPHeadersCarrier(r.Header))
	if err == nil {
		opts = append(opts, ot.ChildOf(wireContext))
	}

	span := tracer.StartSpan(IngressSpanName, opts...)
	span.SetTag(ComponentTag, ComponentName)
	span.SetTag(SpanKindTag, SpanKindServer)
	span.SetTag(HTTPMethodTag, r.Method)
	span.SetTag(HTTPPathTag, r.URL.Path)
	return span
}

// Inject propagates the span in the headers of an outgoing request.
func Inject(span ot.Span, h http.Header) error {
	return span.Tracer().Inject(span.Context(), ot.HTTPHeaders, ot.HTTPHeadersCarrier(h))
}

// LogKV logs event to the span found in the context, if any.
func LogKV(k, v string, ctx context.Context) {
	if span := ot.SpanFromContext(ctx); span != nil {
		span.LogKV(k, v)
	}
}

// SetError marks the span failed.
func SetError(span ot.Span, err error) {
	if span == nil {
		return
	}

	span.SetTag(ErrorTag, true)
	if err != nil {
		span.LogKV("event", "error", "message", err.Error())
	}
}
