/*
Package endpoint manages the backend endpoints of the deployed APIs.

Every API owns a Manager, holding one Group per endpoint group of the API
definition. A Group holds the managed endpoints in two tiers: primary and
secondary. Secondary endpoints are selected only when no primary endpoint
is usable. Within a tier, the endpoints are selected round-robin.

Endpoints can be added and removed while the API is serving traffic. The
groups publish an immutable snapshot of their endpoints on every change,
so that the selection on the request path never takes a lock and never
observes a partially applied change.
*/
package endpoint

import (
	"sync/atomic"

	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/definition"
)

// Status of a managed endpoint.
type Status int32

const (
	// Down endpoints are registered but never selected.
	Down Status = iota

	// Up endpoints have a started connector.
	Up
)

func (s Status) String() string {
	if s == Up {
		return "UP"
	}

	return "DOWN"
}

// ManagedEndpoint is the runtime wrapper of an endpoint definition,
// binding it to its connector.
type ManagedEndpoint struct {
	definition definition.Endpoint
	group      string
	connector  connector.Connector
	status     atomic.Int32
}

// NewManagedEndpoint wraps an endpoint definition. The endpoint is Down
// until its group starts the connector.
func NewManagedEndpoint(group string, d definition.Endpoint, c connector.Connector) *ManagedEndpoint {
	return &ManagedEndpoint{
		definition: d,
		group:      group,
		connector:  c,
	}
}

func (e *ManagedEndpoint) Definition() definition.Endpoint { return e.definition }
func (e *ManagedEndpoint) Name() string                    { return e.definition.Name }
func (e *ManagedEndpoint) Group() string                   { return e.group }
func (e *ManagedEndpoint) Connector() connector.Connector  { return e.connector }
func (e *ManagedEndpoint) Secondary() bool                 { return e.definition.Secondary }
func (e *ManagedEndpoint) Status() Status                  { return Status(e.status.Load()) }

// Started tells whether the connector of the endpoint was started
// successfully.
func (e *ManagedEndpoint) Started() bool { return e.Status() == Up }

func (e *ManagedEndpoint) setStatus(s Status) { e.status.Store(int32(s)) }
