/*
Package reactor handles the requests of a single API.

For every request, the handler runs the request chain, opens the
connection to the backend endpoint through the Invoker, streams the
request body to the backend in the order the chunks arrive, runs the
response chain on the backend response, and streams the response body
back to the client, flushing every chunk.

Any failure, of a chain or of the backend, is passed to the error chain,
which decides how the failure is rendered. When the error chain itself
fails, a fixed Internal Server Error is sent. The client response is
ended exactly once, the backend connection is released exactly once,
and the OnDone callback is called exactly once for every request,
including the ones where a stage panicked.

When the client goes away, the backend connection is closed, and the
request is recorded with the status 499.
*/
package reactor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	ot "github.com/opentracing/opentracing-go"

	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/logging"
	"github.com/zalando/apigw/metrics"
	"github.com/zalando/apigw/processor"
	"github.com/zalando/apigw/stream"
	"github.com/zalando/apigw/tracing"
)

// Invoker opens the connection to the backend endpoint of a request.
// It sets the selected endpoint in the context.
type Invoker interface {
	Invoke(ctx context.Context, c *Context) (connector.Connection, error)
}

// Lifecycle is implemented by the managers started and stopped with
// the handler.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Chain is the processor chain type of the handler.
type Chain = processor.Chain[*Context]

// Stage is the processor stage type of the handler.
type Stage = processor.Stage[*Context]

// Params of a handler.
type Params struct {
	// API is the id of the API.
	API string

	// ContextPath is the path prefix of the API. It is stripped from
	// the request path before forwarding.
	ContextPath string

	RequestChain  *Chain
	ResponseChain *Chain
	ErrorChain    *Chain

	Invoker Invoker

	// The managers are started in this order, and stopped in reverse.
	// Nil managers are skipped.
	PolicyManager   Lifecycle
	GroupManager    Lifecycle
	ResourceManager Lifecycle

	// Log defaults to the standard logger.
	Log logging.Logger

	// Metrics defaults to metrics.Void.
	Metrics metrics.Metrics

	// Tracer defaults to the noop tracer.
	Tracer ot.Tracer

	// OnDone is called once the request is completed.
	OnDone func(*Context)
}

var errNoInvoker = errors.New("no invoker")

// Handler serves the requests of an API.
type Handler struct {
	params Params
}

var hopHeaders = map[string]bool{
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

func New(p Params) *Handler {
	if p.RequestChain == nil {
		p.RequestChain = processor.New[*Context]("request", nil, processor.Options{API: p.API})
	}

	if p.ResponseChain == nil {
		p.ResponseChain = processor.New[*Context]("response", nil, processor.Options{API: p.API})
	}

	if p.ErrorChain == nil {
		p.ErrorChain = processor.New[*Context]("error", nil, processor.Options{API: p.API})
	}

	if p.Log == nil {
		p.Log = logging.New()
	}

	if p.Metrics == nil {
		p.Metrics = metrics.Void
	}

	if p.Tracer == nil {
		p.Tracer = &ot.NoopTracer{}
	}

	return &Handler{params: p}
}

func (h *Handler) API() string { return h.params.API }

func (h *Handler) ContextPath() string { return h.params.ContextPath }

func (h *Handler) lifecycles() []Lifecycle {
	var l []Lifecycle
	for _, m := range []Lifecycle{h.params.PolicyManager, h.params.GroupManager, h.params.ResourceManager} {
		if m != nil {
			l = append(l, m)
		}
	}

	return l
}

// Start starts the managers of the API. When one of them fails, the
// ones already started are stopped.
func (h *Handler) Start(ctx context.Context) error {
	var started []Lifecycle
	for _, l := range h.lifecycles() {
		if err := l.Start(ctx); err != nil {
			for _, s := range slices.Backward(started) {
				if serr := s.Stop(ctx); serr != nil {
					h.params.Log.Errorf("Failed to stop %T after failed start: %v", s, serr)
				}
			}

			return fmt.Errorf("failed to start API %s: %w", h.params.API, err)
		}

		started = append(started, l)
	}

	return nil
}

// Stop stops the managers of the API in reverse order.
func (h *Handler) Stop(ctx context.Context) error {
	var errs []error
	for _, l := range slices.Backward(h.lifecycles()) {
		if err := l.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// exchange holds the client side of a request.
type exchange struct {
	h        *Handler
	c        *Context
	w        *logging.LoggingWriter
	span     ot.Span
	conn     connector.Connection
	release  sync.Once
	status   int
	finished bool

	// closed when the request body forwarding returned
	forwarded chan struct{}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lw := logging.NewLoggingWriter(w)
	span := tracing.StartIngressSpan(h.params.Tracer, r)
	span.SetTag(tracing.APITag, h.params.API)
	ctx := ot.ContextWithSpan(r.Context(), span)

	x := &exchange{
		h:    h,
		c:    newContext(h.params.API, h.params.ContextPath, r, h.params.Log),
		w:    lw,
		span: span,
	}

	defer x.done()
	x.serve(ctx)
}

func (x *exchange) serve(ctx context.Context) {
	x.c.setState(RequestProcessing)
	o := x.h.params.RequestChain.Handle(ctx, x.c)
	switch o.Kind() {
	case processor.OutcomeExit:
		x.flush()
		return
	case processor.OutcomeFailure:
		x.fail(ctx, o.Failure())
		return
	}

	x.c.setState(Invoking)
	rsp, err := x.invoke(ctx)
	if err != nil {
		x.fail(ctx, processor.ProxyError(err))
		return
	}

	x.c.BackendResponse = rsp
	x.c.Response.StatusCode = rsp.StatusCode
	copyHeader(x.c.Response.Header, rsp.Header)

	x.c.setState(ResponseProcessing)
	o = x.h.params.ResponseChain.Handle(ctx, x.c)
	switch o.Kind() {
	case processor.OutcomeExit:
		x.releaseBackend()
		x.flush()
		return
	case processor.OutcomeFailure:
		x.fail(ctx, o.Failure())
		return
	}

	x.c.setState(Completing)
	x.writeHeader(x.c.Response.StatusCode)
	if _, err := stream.Copy(ctx, x.w, rsp.Body); err != nil {
		x.streamFailed(ctx, err)
	}

	x.releaseBackend()
}

func (x *exchange) invoke(ctx context.Context) (*http.Response, error) {
	start := time.Now()
	span := tracing.CreateSpan(tracing.BackendSpanName, ctx, x.h.params.Tracer)
	span.SetTag(tracing.SpanKindTag, tracing.SpanKindClient)
	defer span.Finish()

	if x.h.params.Invoker == nil {
		return nil, errNoInvoker
	}

	conn, err := x.h.params.Invoker.Invoke(ot.ContextWithSpan(ctx, span), x.c)
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	x.conn = conn
	span.SetTag(tracing.EndpointTag, x.c.Endpoint)

	x.forwarded = make(chan struct{})
	go x.forwardBody(ctx, conn)

	rsp, err := conn.Response(ctx)
	x.h.params.Metrics.MeasureBackend(x.h.params.API, x.c.Endpoint, start)
	if err == nil && rsp == nil {
		err = errors.New("no response from backend")
	}

	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}

	span.SetTag(tracing.HTTPStatusCodeTag, rsp.StatusCode)
	return rsp, nil
}

type connectionSink struct {
	conn connector.Connection
}

func (s connectionSink) Write(p []byte) error { return s.conn.Write(p) }
func (s connectionSink) End() error           { return s.conn.End() }
func (s connectionSink) Abort(error)          { s.conn.Close() }

func (x *exchange) forwardBody(ctx context.Context, conn connector.Connection) {
	defer close(x.forwarded)

	body := x.c.Request.Body
	if body == nil {
		body = http.NoBody
	}

	if err := stream.Forward(ctx, body, stream.New(connectionSink{conn})); err != nil {
		x.c.Log.Debugf("Forwarding the request body stopped: %v", err)
	}
}

// awaitForwarder returns once the request body is not read anymore. The
// backend connection must be released before, so that the forwarder
// can't block on it.
func (x *exchange) awaitForwarder() {
	if x.forwarded == nil {
		return
	}

	select {
	case <-x.forwarded:
		return
	default:
	}

	rc := http.NewResponseController(x.w)
	if err := rc.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, http.ErrNotSupported) {
		x.c.Log.Debugf("Failed to interrupt reading the request body: %v", err)
	}

	if x.c.Request.Body != nil {
		x.c.Request.Body.Close()
	}

	<-x.forwarded
}

func (x *exchange) releaseBackend() {
	x.release.Do(func() {
		if x.conn == nil {
			return
		}

		if err := x.conn.Close(); err != nil {
			x.c.Log.Debugf("Failed to release the backend connection: %v", err)
		}
	})
}

func (x *exchange) fail(ctx context.Context, f *processor.Failure) {
	x.releaseBackend()
	x.c.Failure = f

	if ctx.Err() != nil {
		x.cancelled()
		return
	}

	x.h.params.Metrics.IncErrors(x.h.params.API, f.Key)
	x.span.SetTag(tracing.ErrorKeyTag, f.Key)
	x.c.setState(ErrorProcessing)

	o := x.h.params.ErrorChain.Handle(ctx, x.c)
	switch o.Kind() {
	case processor.OutcomeSuccess:
		x.render(x.c.Failure)
	case processor.OutcomeExit:
		x.flush()
	default:
		x.c.Log.Errorf("Error chain failed: %v", o.Failure())
		x.render(processor.InternalError(processor.KeyInternalError, o.Failure()))
	}
}

func (x *exchange) cancelled() {
	x.status = processor.StatusClientClosedRequest
	x.span.SetTag(tracing.ClientRequestStateTag, tracing.ClientRequestCanceled)
	x.c.setState(Completing)
}

// streamFailed handles the failures after the response headers were
// sent. The status can't change anymore, the response is truncated. The
// error chain still runs, but nothing it prepares is written.
func (x *exchange) streamFailed(ctx context.Context, err error) {
	x.releaseBackend()
	if ctx.Err() != nil {
		x.c.Failure = processor.Cancelled(err)
		x.cancelled()
		return
	}

	x.c.Failure = processor.ProxyError(err)
	x.h.params.Metrics.IncErrors(x.h.params.API, x.c.Failure.Key)
	tracing.SetError(x.span, err)
	x.c.Log.Errorf("Error while copying the response stream: %v", err)

	x.c.setState(ErrorProcessing)
	if o := x.h.params.ErrorChain.Handle(ctx, x.c); o.Kind() == processor.OutcomeFailure {
		x.c.Log.Errorf("Error chain failed after the response was committed: %v", o.Failure())
	}

	x.c.setState(Completing)
}

func (x *exchange) writeHeader(code int) {
	if x.w.HeaderWritten() {
		return
	}

	if code == 0 {
		code = http.StatusOK
	}

	copyHeader(x.w.Header(), x.c.Response.Header)
	x.w.WriteHeader(code)
}

// flush sends the response prepared by the stages.
func (x *exchange) flush() {
	x.c.setState(Completing)
	x.writeHeader(x.c.Response.StatusCode)
	if x.c.Response.Body.Len() > 0 {
		x.w.Write(x.c.Response.Body.Bytes())
	}
}

// render sends a failure. The headers set by the stages are kept.
func (x *exchange) render(f *processor.Failure) {
	x.c.setState(Completing)
	if x.w.HeaderWritten() {
		return
	}

	if f == nil {
		f = processor.InternalError(processor.KeyInternalError, nil)
	}

	h := x.c.Response.Header
	h.Del("Content-Length")
	h.Del("Content-Encoding")
	if f.ContentType != "" {
		h.Set("Content-Type", f.ContentType)
	}

	if f.Message != "" {
		h.Set("Content-Length", strconv.Itoa(len(f.Message)))
	}

	x.writeHeader(f.StatusCode)
	if f.Message != "" {
		x.w.Write([]byte(f.Message))
	}
}

func (x *exchange) done() {
	if err := recover(); err != nil {
		x.releaseBackend()
		x.c.Log.Errorf("Request handling panicked: %v", err)
		x.c.Failure = processor.InternalError(processor.KeyStagePanic, fmt.Errorf("%v", err))
		x.h.params.Metrics.IncErrors(x.h.params.API, x.c.Failure.Key)
		x.render(x.c.Failure)
	}

	x.releaseBackend()
	x.awaitForwarder()
	x.finish()
}

func (x *exchange) finish() {
	if x.finished {
		return
	}

	x.finished = true
	x.c.setState(Done)

	status := x.status
	if status == 0 {
		status = x.w.StatusCode()
	}

	if status == 0 {
		status = http.StatusOK
	}

	x.span.SetTag(tracing.HTTPStatusCodeTag, status)
	if x.c.Endpoint != "" {
		x.span.SetTag(tracing.EndpointTag, x.c.Endpoint)
	}

	if status >= http.StatusInternalServerError {
		x.span.SetTag(tracing.ErrorTag, true)
	}

	x.span.Finish()

	x.h.params.Metrics.MeasureServe(x.h.params.API, x.c.Request.Method, status, x.c.Start)

	entry := &logging.AccessEntry{
		Request:      x.c.Request,
		StatusCode:   status,
		ResponseSize: x.w.Bytes(),
		Duration:     time.Since(x.c.Start),
		RequestTime:  x.c.Start,
		API:          x.h.params.API,
		Endpoint:     x.c.Endpoint,
		RequestID:    x.c.ID,
	}

	if x.c.Failure != nil {
		entry.ErrorKey = x.c.Failure.Key
	}

	logging.LogAccess(entry)

	if x.h.params.OnDone != nil {
		x.h.params.OnDone(x.c)
	}
}

func copyHeader(to, from http.Header) {
	for k, v := range from {
		if hopHeaders[k] {
			continue
		}

		to[k] = slices.Clone(v)
	}
}
