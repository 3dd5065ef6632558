/*
Package stages provides the built-in processor stages of the API
handlers.

The default request chain identifies the request, normalizes its path
and selects the flows matching it. The default response chain sets the
configured response headers. The default error chain renders the
failures as JSON, or as plain text for clients not accepting JSON.
*/
package stages

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/zalando/apigw/flow"
	"github.com/zalando/apigw/processor"
	"github.com/zalando/apigw/reactor"
)

const (
	RequestIDName       = "request-id"
	NormalizePathName   = "normalize-path"
	SelectFlowsName     = "select-flows"
	ResponseHeadersName = "response-headers"
	RenderErrorName     = "render-error"

	// FlowsAttribute holds the flows selected for the request.
	FlowsAttribute = "apigw.flows"
)

// RequestID identifies the request. When reuse is set, a valid incoming
// id is kept. The id is sent to the backend and to the client.
func RequestID(g Generator, reuse bool) reactor.Stage {
	return processor.NewStage(RequestIDName, func(_ context.Context, c *reactor.Context) processor.Result {
		id := c.Request.Header.Get(FlowIDHeader)
		if !reuse || !g.IsValid(id) {
			var err error
			id, err = g.Generate()
			if err != nil {
				return processor.Fail(processor.InternalError(processor.KeyInternalError, err))
			}
		}

		c.ID = id
		c.Request.Header.Set(FlowIDHeader, id)
		c.Response.Header.Set(FlowIDHeader, id)
		return processor.Continue()
	})
}

// NormalizePath collapses the repeated slashes in the path forwarded to
// the backend.
func NormalizePath() reactor.Stage {
	return processor.NewStage(NormalizePathName, func(_ context.Context, c *reactor.Context) processor.Result {
		c.Path = flow.NormalizePath(c.Path)
		return processor.Continue()
	})
}

// SelectFlows stores the enabled flows matching the method and the path
// of the request in the FlowsAttribute.
func SelectFlows(flows []flow.Flow) reactor.Stage {
	return processor.NewStage(SelectFlowsName, func(_ context.Context, c *reactor.Context) processor.Result {
		selected := flow.Select(flows, c.Request.Method, c.Path)
		c.Set(FlowsAttribute, selected)
		if len(selected) > 0 {
			c.Log.Debugf("Selected %d flows for %s %s", len(selected), c.Request.Method, c.Path)
		}

		return processor.Continue()
	})
}

// Flows returns the flows selected for the request.
func Flows(c *reactor.Context) []flow.Flow {
	v, ok := c.Get(FlowsAttribute)
	if !ok {
		return nil
	}

	flows, _ := v.([]flow.Flow)
	return flows
}

// ResponseHeaders sets headers on the client response. An empty value
// removes the header.
func ResponseHeaders(h map[string]string) reactor.Stage {
	return processor.NewStage(ResponseHeadersName, func(_ context.Context, c *reactor.Context) processor.Result {
		for k, v := range h {
			if v == "" {
				c.Response.Header.Del(k)
				continue
			}

			c.Response.Header.Set(k, v)
		}

		return processor.Continue()
	})
}

type errorDocument struct {
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"http_status_code"`
}

// RenderError formats the failure of the request. JSON is used, unless
// the client accepts only other media types, when the message is sent
// as plain text.
func RenderError() reactor.Stage {
	return processor.NewStage(RenderErrorName, func(_ context.Context, c *reactor.Context) processor.Result {
		f := c.Failure
		if f == nil {
			f = processor.InternalError(processor.KeyInternalError, nil)
		}

		message := f.Message
		if message == "" {
			message = http.StatusText(f.StatusCode)
		}

		rendered := *f
		if acceptsJSON(c.Request) {
			b, err := json.Marshal(errorDocument{Message: message, HTTPStatusCode: f.StatusCode})
			if err != nil {
				return processor.Fail(processor.InternalError(processor.KeyInternalError, err))
			}

			rendered.ContentType = "application/json"
			rendered.Message = string(b)
		} else {
			rendered.ContentType = "text/plain; charset=utf-8"
			rendered.Message = message
		}

		c.Failure = &rendered
		return processor.Continue()
	})
}

func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Values("Accept")
	if len(accept) == 0 {
		return true
	}

	for _, a := range accept {
		for _, part := range strings.Split(a, ",") {
			mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				continue
			}

			switch {
			case mt == "*/*", mt == "application/*", mt == "application/json", strings.HasSuffix(mt, "+json"):
				return true
			}
		}
	}

	return false
}
