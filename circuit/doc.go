/*
Package circuit implements the circuit breakers guarding the backend
endpoints of the gateway.

Every endpoint connector owns its own breaker, so that the failures of one
backend never affect the traffic sent to another one.

Breaker Type - Consecutive Failures

The breaker opens when the connector couldn't connect to the backend or
received a >=500 status code at least N times in a row. When open, the
connector refuses to open new connections during the configured timeout,
and the gateway answers with 502 - Bad Gateway. After the timeout, the
breaker goes half-open and lets M requests through. If any of them fails,
it opens again, otherwise it closes.

Usage

The settings can be defined globally, as command line flags, or per
endpoint in the endpoint configuration. The endpoint settings override the
global ones field by field:

	apigw -breaker-failures 5 -breaker-timeout 10s

	endpoints:
	- name: users
	  type: http-proxy
	  configuration:
	    target: http://users.internal
	    breaker:
	      failures: 3
*/
package circuit
