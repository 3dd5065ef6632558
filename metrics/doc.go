/*
Package metrics implements collection of the performance metrics of the
gateway.

The collected metrics include the time spent with every processor stage
and with every processor chain, the time waiting for the backend
endpoints, the total time of serving a request, the failures by error key,
and the requests that found no usable endpoint.

Two formats are supported: Prometheus, and the Coda Hale format of the
dropwizard metrics library:

https://github.com/dropwizard/metrics

Options

To enable metrics, the gateway needs to be started with a support
listener address. The current values can be downloaded from the /metrics
path of the support listener.
*/
package metrics
