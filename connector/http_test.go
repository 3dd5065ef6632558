package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/apigw/definition"
)

func endpointDef(name string, config string) definition.Endpoint {
	return definition.Endpoint{
		Name:          name,
		Type:          HTTPProxyType,
		Configuration: json.RawMessage(config),
	}
}

func startConnector(t *testing.T, config string) Connector {
	t.Helper()

	c, err := NewHTTPFactory(HTTPOptions{}).Create(definition.EndpointGroup{Name: "default"}, endpointDef("e1", config))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

func TestHTTPConnectorStreamsRequestAndResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Path", r.URL.Path)
		w.Header().Set("X-Query", r.URL.RawQuery)
		w.Header().Set("X-Connection", r.Header.Get("Connection"))
		w.WriteHeader(http.StatusCreated)
		w.Write(b)
	}))
	defer backend.Close()

	c := startConnector(t, `{"target":"`+backend.URL+`/base"}`)
	assert.Equal(t, RequestResponse, c.SupportedModes())
	assert.Equal(t, Proxy, c.SupportedApi())

	r := httptest.NewRequest("POST", "/users?q=1", nil)
	r.ContentLength = -1
	r.Header.Set("Connection", "keep-alive")

	conn, err := c.Connect(context.Background(), r)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Write([]byte("hello ")))
	require.NoError(t, conn.Write([]byte("world")))
	require.NoError(t, conn.End())

	rsp, err := conn.Response(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rsp.StatusCode)
	assert.Equal(t, "/base/users", rsp.Header.Get("X-Path"))
	assert.Equal(t, "q=1", rsp.Header.Get("X-Query"))
	assert.Equal(t, "", rsp.Header.Get("X-Connection"))

	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestHTTPConnectorWithoutBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Method))
	}))
	defer backend.Close()

	c := startConnector(t, `{"target":"`+backend.URL+`"}`)
	conn, err := c.Connect(context.Background(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer conn.Close()

	assert.NoError(t, conn.Write(nil))
	assert.Error(t, conn.Write([]byte("x")))
	require.NoError(t, conn.End())

	rsp, err := conn.Response(context.Background())
	require.NoError(t, err)
	b, _ := io.ReadAll(rsp.Body)
	assert.Equal(t, "GET", string(b))
}

func TestHTTPConnectorResponseCanceled(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(release)

	c := startConnector(t, `{"target":"`+backend.URL+`"}`)
	conn, err := c.Connect(context.Background(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = conn.Response(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPConnectorBackendDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	c := startConnector(t, `{"target":"`+url+`","breaker":{"failures":1,"timeout":"1m"}}`)

	conn, err := c.Connect(context.Background(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	_, err = conn.Response(context.Background())
	assert.Error(t, err)
	conn.Close()

	_, err = c.Connect(context.Background(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, errors.Is(err, ErrBreakerOpen), "got: %v", err)
}

func TestHTTPConnectorNotStarted(t *testing.T) {
	c, err := NewHTTPFactory(HTTPOptions{}).Create(definition.EndpointGroup{}, endpointDef("e1", `{"target":"http://localhost"}`))
	require.NoError(t, err)

	_, err = c.Connect(context.Background(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, errors.Is(err, ErrNotStarted))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))

	_, err = c.Connect(context.Background(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestHTTPFactoryConfiguration(t *testing.T) {
	f := NewHTTPFactory(HTTPOptions{})
	group := definition.EndpointGroup{
		Name:                "default",
		SharedConfiguration: json.RawMessage(`{"target":"http://shared.internal","readTimeout":250}`),
	}

	t.Run("inherited target", func(t *testing.T) {
		c, err := f.Create(group, definition.Endpoint{Name: "e1"})
		require.NoError(t, err)

		hc := c.(*httpConnector)
		assert.Equal(t, "shared.internal", hc.target.Host)
		assert.Equal(t, 250*time.Millisecond, hc.options.ResponseHeaderTimeout)
	})

	t.Run("no inheritance", func(t *testing.T) {
		inherit := false
		_, err := f.Create(group, definition.Endpoint{Name: "e1", InheritConfiguration: &inherit})
		assert.Error(t, err)
	})

	t.Run("own values win", func(t *testing.T) {
		c, err := f.Create(group, endpointDef("e1", `{"target":"https://own.internal","readTimeout":"2s","maxConnectionsPerHost":3}`))
		require.NoError(t, err)

		hc := c.(*httpConnector)
		assert.Equal(t, "own.internal", hc.target.Host)
		assert.Equal(t, 2*time.Second, hc.options.ResponseHeaderTimeout)
		assert.Equal(t, 3, hc.options.IdleConnectionsPerHost)
		assert.Equal(t, "none", hc.breaker.Settings().String())
	})

	for _, config := range []string{
		`{"target":"ftp://x"}`,
		`{"target":"http://x","readTimeout":"soon"}`,
		`{"target":"http://x","readTimeout":true}`,
		`{"target":"http://x","breaker":{"type":"rate"}}`,
	} {
		t.Run(config, func(t *testing.T) {
			_, err := f.Create(definition.EndpointGroup{}, endpointDef("e1", config))
			assert.Error(t, err)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewHTTPFactory(HTTPOptions{}))

	c, err := r.Create(definition.EndpointGroup{Type: HTTPProxyType}, definition.Endpoint{
		Name:          "e1",
		Configuration: json.RawMessage(`{"target":"http://localhost"}`),
	})
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = r.Create(definition.EndpointGroup{}, definition.Endpoint{Name: "e1", Type: "kafka"})
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = r.Create(definition.EndpointGroup{}, endpointDef("e1", `{}`))
	assert.True(t, strings.Contains(err.Error(), "e1"))
}

func TestModes(t *testing.T) {
	m := RequestResponse.Union(Subscribe)
	assert.True(t, m.Has(RequestResponse))
	assert.True(t, m.Has(Subscribe))
	assert.False(t, m.Has(Publish))
	assert.False(t, m.Has(Subscribe|Publish))
	assert.Equal(t, "REQUEST_RESPONSE,SUBSCRIBE", m.String())
	assert.Empty(t, Modes(0).List())
}
