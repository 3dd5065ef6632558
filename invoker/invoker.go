// Package invoker opens the backend connections of the requests, to the
// endpoints selected by the endpoint manager of the API.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	ot "github.com/opentracing/opentracing-go"

	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/endpoint"
	"github.com/zalando/apigw/metrics"
	"github.com/zalando/apigw/reactor"
	"github.com/zalando/apigw/tracing"
)

// ErrNoEndpoint is returned when no started endpoint is available.
var ErrNoEndpoint = errors.New("no endpoint available")

// Selector returns the next endpoint to send a request to, or nil.
// Implemented by endpoint.Manager.
type Selector interface {
	Next() *endpoint.ManagedEndpoint
}

type Options struct {
	API       string
	Endpoints Selector
	Metrics   metrics.Metrics
}

// Invoker implements reactor.Invoker.
type Invoker struct {
	api       string
	endpoints Selector
	metrics   metrics.Metrics
}

var _ reactor.Invoker = (*Invoker)(nil)

func New(o Options) *Invoker {
	if o.Metrics == nil {
		o.Metrics = metrics.Void
	}

	return &Invoker{
		api:       o.API,
		endpoints: o.Endpoints,
		metrics:   o.Metrics,
	}
}

// Invoke selects the endpoint, and opens the connection with the
// request mapped to the path relative to the context path of the API.
func (i *Invoker) Invoke(ctx context.Context, c *reactor.Context) (connector.Connection, error) {
	e := i.endpoints.Next()
	if e == nil {
		i.metrics.IncEndpointUnavailable(i.api)
		return nil, ErrNoEndpoint
	}

	c.Endpoint = e.Group() + "/" + e.Name()

	r := backendRequest(ctx, c)
	if span := ot.SpanFromContext(ctx); span != nil {
		if err := tracing.Inject(span, r.Header); err != nil {
			c.Log.Debugf("Failed to inject the span: %v", err)
		}
	}

	conn, err := e.Connector().Connect(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", c.Endpoint, err)
	}

	return conn, nil
}

func backendRequest(ctx context.Context, c *reactor.Context) *http.Request {
	r := c.Request.Clone(ctx)
	r.URL.Path = c.Path
	r.URL.RawPath = ""
	r.RequestURI = ""

	if ip, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		if prior := r.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}

		r.Header.Set("X-Forwarded-For", ip)
	}

	if r.Header.Get("X-Forwarded-Host") == "" && c.Request.Host != "" {
		r.Header.Set("X-Forwarded-Host", c.Request.Host)
	}

	return r
}
