/*
Package apigw provides the request execution core of an API gateway.

The gateway serves a set of APIs. Every API is deployed under its own
context path, and forwards the requests to the endpoints of its endpoint
groups. The requests are routed to the API with the longest context path
matching the request path. Requests not matching any API receive a 404
JSON response.

For every request, the API handler runs three processor chains:

  - the request chain, before the backend is invoked: it sets the
    request id, normalizes the path and selects the matching flows,
  - the response chain, on the backend response headers: it sets the
    configured response headers,
  - the error chain, when a chain failed or the backend could not be
    reached: it renders the failure as JSON or plain text.

The request and response bodies are streamed between the client and the
backend, and are never buffered as a whole.

# Sharding tags

A gateway instance can be restricted to a subset of the APIs and
endpoints with the sharding tags, e.g. -tags=internal,!partner. APIs and
endpoints carrying an excluded tag, or none of the included tags, are
not deployed.

# Endpoint discovery

Besides the endpoints defined in the API definitions file, endpoints can
be added and removed at runtime from etcd or from redis sets, see the
discovery package.

# Metrics and tracing

The request, chain, stage and backend durations are collected in the
Coda Hale or the Prometheus format, and served on the support listener
under /metrics. Every request creates an ingress span, with child spans
for the chains and the backend call.
*/
package apigw
