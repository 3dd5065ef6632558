package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/apigw/circuit"
	"github.com/zalando/apigw/definition"
)

// HTTPProxyType is the endpoint type served by the HTTP proxy connector.
const HTTPProxyType = "http-proxy"

const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAlive             = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultExpectContinueTimeout = 30 * time.Second
	DefaultIdleConnsPerHost      = 64
)

var (
	ErrNotStarted      = errors.New("connector not started")
	ErrBreakerOpen     = errors.New("circuit breaker open")
	errNoRequestBody   = errors.New("request declared no body")
	errConnectionClose = errors.New("connection closed")

	hopHeaders = map[string]bool{
		"Te":                  true,
		"Connection":          true,
		"Proxy-Connection":    true,
		"Keep-Alive":          true,
		"Proxy-Authenticate":  true,
		"Proxy-Authorization": true,
		"Trailer":             true,
		"Transfer-Encoding":   true,
		"Upgrade":             true,
	}
)

// HTTPOptions are the defaults of the HTTP proxy connectors. Every
// field can be overridden by the endpoint configuration.
type HTTPOptions struct {
	// Dial timeout of the backend connections.
	Timeout time.Duration

	KeepAlive              time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
	ExpectContinueTimeout  time.Duration
	IdleConnectionsPerHost int

	// When set, the idle connections are closed periodically, to fade
	// out old backend addresses on DNS changes.
	CloseIdleConnsPeriod time.Duration

	// Default circuit breaker settings.
	Breaker circuit.BreakerSettings
}

// HTTPFactory creates HTTP proxy connectors.
type HTTPFactory struct {
	options HTTPOptions
}

type httpConnector struct {
	name    string
	target  *url.URL
	options HTTPOptions
	breaker *circuit.Breaker

	mu        sync.Mutex
	transport *http.Transport
	quit      chan struct{}
}

type httpConnection struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	resp   *http.Response
	err    error
}

func NewHTTPFactory(o HTTPOptions) *HTTPFactory {
	if o.Timeout == 0 {
		o.Timeout = DefaultDialTimeout
	}

	if o.KeepAlive == 0 {
		o.KeepAlive = DefaultKeepAlive
	}

	if o.TLSHandshakeTimeout == 0 {
		o.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}

	if o.ExpectContinueTimeout == 0 {
		o.ExpectContinueTimeout = DefaultExpectContinueTimeout
	}

	if o.IdleConnectionsPerHost == 0 {
		o.IdleConnectionsPerHost = DefaultIdleConnsPerHost
	}

	return &HTTPFactory{options: o}
}

func (f *HTTPFactory) Type() string { return HTTPProxyType }

func (f *HTTPFactory) Create(group definition.EndpointGroup, endpoint definition.Endpoint) (Connector, error) {
	cfg := newEndpointConfig(group, endpoint)

	target, err := url.Parse(cfg.str("target"))
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	if target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
		return nil, fmt.Errorf("invalid target: %q", target)
	}

	o := f.options
	if o.Timeout, err = cfg.duration("connectTimeout", o.Timeout); err != nil {
		return nil, err
	}

	if o.ResponseHeaderTimeout, err = cfg.duration("readTimeout", o.ResponseHeaderTimeout); err != nil {
		return nil, err
	}

	if o.CloseIdleConnsPeriod, err = cfg.duration("idleTimeout", o.CloseIdleConnsPeriod); err != nil {
		return nil, err
	}

	o.IdleConnectionsPerHost = cfg.integer("maxConnectionsPerHost", o.IdleConnectionsPerHost)

	bs, err := cfg.breaker()
	if err != nil {
		return nil, err
	}

	bs = bs.Merge(f.options.Breaker)
	bs.Endpoint = group.Name + "/" + endpoint.Name

	return &httpConnector{
		name:    endpoint.Name,
		target:  target,
		options: o,
		breaker: circuit.NewBreaker(bs),
	}, nil
}

func (c *httpConnector) SupportedModes() Modes { return RequestResponse }

func (c *httpConnector) SupportedApi() ApiType { return Proxy }

func (c *httpConnector) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return nil
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.options.Timeout,
			KeepAlive: c.options.KeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   c.options.TLSHandshakeTimeout,
		ResponseHeaderTimeout: c.options.ResponseHeaderTimeout,
		ExpectContinueTimeout: c.options.ExpectContinueTimeout,
		MaxIdleConnsPerHost:   c.options.IdleConnectionsPerHost,
		IdleConnTimeout:       c.options.CloseIdleConnsPeriod,
	}

	quit := make(chan struct{})
	if c.options.CloseIdleConnsPeriod > 0 {
		go func() {
			ticker := time.NewTicker(c.options.CloseIdleConnsPeriod)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					tr.CloseIdleConnections()
				case <-quit:
					return
				}
			}
		}()
	}

	c.transport = tr
	c.quit = quit
	log.Debugf("http connector %s started, target: %s, breaker: %s", c.name, c.target, c.breaker.Settings())
	return nil
}

func (c *httpConnector) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return nil
	}

	close(c.quit)
	c.transport.CloseIdleConnections()
	c.transport = nil
	c.quit = nil
	return nil
}

func (c *httpConnector) getTransport() *http.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}

	return a + b
}

func cloneHeaderExcluding(h http.Header, exclude map[string]bool) http.Header {
	hh := make(http.Header, len(h))
	for k, v := range h {
		if exclude[k] {
			continue
		}

		hh[k] = append([]string(nil), v...)
	}

	return hh
}

func (c *httpConnector) mapRequest(ctx context.Context, r *http.Request, body io.Reader) (*http.Request, error) {
	u := *c.target
	u.Path = singleJoiningSlash(c.target.Path, r.URL.Path)
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery
	if c.target.RawQuery != "" && r.URL.RawQuery != "" {
		u.RawQuery = c.target.RawQuery + "&" + r.URL.RawQuery
	} else if c.target.RawQuery != "" {
		u.RawQuery = c.target.RawQuery
	}

	rr, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	rr.ContentLength = r.ContentLength
	rr.Header = cloneHeaderExcluding(r.Header, hopHeaders)
	return rr, nil
}

func (c *httpConnector) Connect(ctx context.Context, r *http.Request) (Connection, error) {
	tr := c.getTransport()
	if tr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, c.name)
	}

	done, ok := c.breaker.Allow()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, c.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	conn := &httpConnection{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var body io.Reader = http.NoBody
	if r.ContentLength != 0 {
		pr, pw := io.Pipe()
		body = pr
		conn.pw = pw
	}

	rr, err := c.mapRequest(ctx, r, body)
	if err != nil {
		cancel()
		done(false)
		return nil, err
	}

	go func() {
		rsp, err := tr.RoundTrip(rr)
		done(err == nil && rsp.StatusCode < http.StatusInternalServerError)
		conn.setResult(rsp, err)
	}()

	return conn, nil
}

func (c *httpConnection) setResult(rsp *http.Response, err error) {
	c.mu.Lock()
	c.resp, c.err = rsp, err
	closed := c.closed
	c.mu.Unlock()
	close(c.done)

	if closed && rsp != nil {
		rsp.Body.Close()
	}
}

func (c *httpConnection) Write(b []byte) error {
	if c.pw == nil {
		if len(b) == 0 {
			return nil
		}

		return errNoRequestBody
	}

	_, err := c.pw.Write(b)
	return err
}

func (c *httpConnection) End() error {
	if c.pw == nil {
		return nil
	}

	return c.pw.Close()
}

func (c *httpConnection) Response(ctx context.Context) (*http.Response, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errConnectionClose
	}

	return c.resp, c.err
}

func (c *httpConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	rsp := c.resp
	c.mu.Unlock()

	if c.pw != nil {
		c.pw.CloseWithError(errConnectionClose)
	}

	c.cancel()
	if rsp != nil {
		return rsp.Body.Close()
	}

	return nil
}
