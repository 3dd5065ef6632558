package reactor

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zalando/apigw/flow"
	"github.com/zalando/apigw/logging"
	"github.com/zalando/apigw/processor"
)

// State of a request in its lifecycle.
type State int32

const (
	Received State = iota
	RequestProcessing
	Invoking
	ResponseProcessing
	ErrorProcessing
	Completing
	Done
)

func (s State) String() string {
	switch s {
	case Received:
		return "RECEIVED"
	case RequestProcessing:
		return "REQUEST_PROCESSING"
	case Invoking:
		return "INVOKING"
	case ResponseProcessing:
		return "RESPONSE_PROCESSING"
	case ErrorProcessing:
		return "ERROR_PROCESSING"
	case Completing:
		return "COMPLETING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Response is the client facing response prepared by the stages. It is
// sent as is when a chain exits, and its headers are sent with the
// backend response or with a rendered failure.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       bytes.Buffer
}

// Context holds the state of a single request.
type Context struct {
	// ID identifies the request in the logs and in the headers sent to
	// the backend and the client.
	ID string

	// API is the id of the API serving the request.
	API string

	// Request is the incoming client request.
	Request *http.Request

	// Path is the path of the request relative to the context path of
	// the API. It is forwarded to the backend.
	Path string

	// Response is the client facing response.
	Response *Response

	// Endpoint is the name of the endpoint selected for the request.
	Endpoint string

	// BackendResponse is set once the backend responded.
	BackendResponse *http.Response

	// Failure is set when a chain failed, or the backend could not be
	// reached. The error stages may replace it with the one to render.
	Failure *processor.Failure

	// Log writes entries with the request fields.
	Log logging.Logger

	// Start is the time the request was received.
	Start time.Time

	mu         sync.Mutex
	attributes map[string]interface{}
	state      atomic.Int32
}

func newContext(api, contextPath string, r *http.Request, log logging.Logger) *Context {
	id := uuid.NewString()
	return &Context{
		ID:       id,
		API:      api,
		Request:  r,
		Path:     relativePath(r.URL.Path, contextPath),
		Response: &Response{Header: make(http.Header)},
		Log:      log.WithFields(map[string]interface{}{"api": api, "request": id}),
		Start:    time.Now(),
	}
}

// relativePath strips the context path from the normalized request
// path, the same path the API was selected by.
func relativePath(p, contextPath string) string {
	p = flow.NormalizePath(p)
	cp := strings.TrimSuffix(flow.NormalizePath(contextPath), "/")
	if cp != "" && (p == cp || strings.HasPrefix(p, cp+"/")) {
		p = p[len(cp):]
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}

// State returns the current lifecycle state of the request.
func (c *Context) State() State { return State(c.state.Load()) }

func (c *Context) setState(s State) { c.state.Store(int32(s)) }

// Set stores an attribute of the request, shared between the stages.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attributes == nil {
		c.attributes = make(map[string]interface{})
	}

	c.attributes[key] = value
}

// Get returns an attribute of the request.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attributes[key]
	return v, ok
}
