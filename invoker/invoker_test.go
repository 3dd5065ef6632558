package invoker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/definition"
	"github.com/zalando/apigw/endpoint"
	"github.com/zalando/apigw/logging"
	"github.com/zalando/apigw/metrics/metricstest"
	"github.com/zalando/apigw/reactor"
)

type fakeConnector struct {
	request *http.Request
	err     error
}

func (*fakeConnector) Start(context.Context) error     { return nil }
func (*fakeConnector) Stop(context.Context) error      { return nil }
func (*fakeConnector) SupportedModes() connector.Modes { return connector.RequestResponse }
func (*fakeConnector) SupportedApi() connector.ApiType { return connector.Proxy }

func (c *fakeConnector) Connect(_ context.Context, r *http.Request) (connector.Connection, error) {
	c.request = r
	if c.err != nil {
		return nil, c.err
	}

	return nopConnection{}, nil
}

type nopConnection struct{}

func (nopConnection) Write([]byte) error { return nil }
func (nopConnection) End() error         { return nil }
func (nopConnection) Close() error       { return nil }

func (nopConnection) Response(context.Context) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: http.NoBody}, nil
}

type selectorFunc func() *endpoint.ManagedEndpoint

func (f selectorFunc) Next() *endpoint.ManagedEndpoint { return f() }

func single(c connector.Connector) Selector {
	e := endpoint.NewManagedEndpoint("default", definition.Endpoint{Name: "e1"}, c)
	return selectorFunc(func() *endpoint.ManagedEndpoint { return e })
}

func newContext(r *http.Request, path string) *reactor.Context {
	return &reactor.Context{
		Request:  r,
		Path:     path,
		Response: &reactor.Response{Header: make(http.Header)},
		Log:      logging.New(),
	}
}

func TestNoEndpoint(t *testing.T) {
	m := &metricstest.MockMetrics{}
	i := New(Options{
		API:       "users",
		Endpoints: selectorFunc(func() *endpoint.ManagedEndpoint { return nil }),
		Metrics:   m,
	})

	_, err := i.Invoke(context.Background(), newContext(httptest.NewRequest("GET", "/users", nil), "/"))
	assert.ErrorIs(t, err, ErrNoEndpoint)

	v, ok := m.Counter("endpoint.unavailable.users")
	assert.True(t, ok)
	assert.EqualValues(t, 1, v)
}

func TestBackendRequest(t *testing.T) {
	for _, tt := range []struct {
		name          string
		path          string
		forwardedFor  string
		forwardedHost string
		expectedFor   string
		expectedHost  string
		expectedPath  string
	}{{
		name:         "relative path",
		path:         "/42",
		expectedFor:  "192.0.2.1",
		expectedHost: "example.com",
		expectedPath: "/42",
	}, {
		name:          "forwarded headers kept",
		path:          "/",
		forwardedFor:  "203.0.113.7",
		forwardedHost: "public.example.org",
		expectedFor:   "203.0.113.7, 192.0.2.1",
		expectedHost:  "public.example.org",
		expectedPath:  "/",
	}} {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://example.com/users"+tt.path+"?q=1", nil)
			if tt.forwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}

			if tt.forwardedHost != "" {
				r.Header.Set("X-Forwarded-Host", tt.forwardedHost)
			}

			conn := &fakeConnector{}
			c := newContext(r, tt.path)
			_, err := New(Options{API: "users", Endpoints: single(conn)}).Invoke(context.Background(), c)
			require.NoError(t, err)

			require.NotNil(t, conn.request)
			assert.Equal(t, tt.expectedPath, conn.request.URL.Path)
			assert.Equal(t, "q=1", conn.request.URL.RawQuery)
			assert.Empty(t, conn.request.RequestURI)
			assert.Equal(t, tt.expectedFor, conn.request.Header.Get("X-Forwarded-For"))
			assert.Equal(t, tt.expectedHost, conn.request.Header.Get("X-Forwarded-Host"))
			assert.Equal(t, "default/e1", c.Endpoint)

			assert.Equal(t, "/users"+tt.path, r.URL.Path, "incoming request modified")
		})
	}
}

func TestConnectError(t *testing.T) {
	conn := &fakeConnector{err: errors.New("breaker open")}
	c := newContext(httptest.NewRequest("GET", "/users", nil), "/")

	_, err := New(Options{API: "users", Endpoints: single(conn)}).Invoke(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, conn.err)
	assert.Contains(t, err.Error(), "default/e1")
}

func TestSpanInjected(t *testing.T) {
	tr := mocktracer.New()
	span := tr.StartSpan("backend")
	defer span.Finish()

	conn := &fakeConnector{}
	c := newContext(httptest.NewRequest("GET", "/users", nil), "/")
	ctx := ot.ContextWithSpan(context.Background(), span)

	_, err := New(Options{API: "users", Endpoints: single(conn)}).Invoke(ctx, c)
	require.NoError(t, err)

	sc, err := tr.Extract(ot.HTTPHeaders, ot.HTTPHeadersCarrier(conn.request.Header))
	require.NoError(t, err)
	assert.Equal(t, span.Context().(mocktracer.MockSpanContext).SpanID, sc.(mocktracer.MockSpanContext).SpanID)
}
