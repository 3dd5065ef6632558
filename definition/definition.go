/*
Package definition contains the deployable description of the APIs served
by the gateway: their context paths, sharding tags, flows, and endpoint
groups.

Definitions are read from YAML documents of the form:

	apis:
	- id: users
	  contextPath: /users
	  tags: [public]
	  endpointGroups:
	  - name: default
	    loadBalancer:
	      type: ROUND_ROBIN
	    endpoints:
	    - name: users-1
	      type: http-proxy
	      configuration:
	        target: http://users-1.internal:8080
	    - name: users-fallback
	      type: http-proxy
	      secondary: true
	      configuration:
	        target: http://users-fallback.internal:8080

The endpoint configuration is opaque to this package. It is kept as raw
JSON and interpreted by the connector of the endpoint type.
*/
package definition

import (
	"encoding/json"

	"github.com/zalando/apigw/flow"
)

// LoadBalancerType names the selection algorithm of an endpoint group.
type LoadBalancerType string

const RoundRobin LoadBalancerType = "ROUND_ROBIN"

type LoadBalancer struct {
	Type LoadBalancerType `json:"type,omitempty"`
}

// Endpoint is one backend target.
type Endpoint struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`

	// Raw connector configuration.
	Configuration json.RawMessage `json:"configuration,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// Secondary endpoints receive traffic only when no primary endpoint
	// of the group is usable.
	Secondary bool `json:"secondary,omitempty"`

	// When set, the group shared configuration is used as the base of
	// the endpoint configuration.
	InheritConfiguration *bool `json:"inheritConfiguration,omitempty"`
}

// Inherits tells whether the endpoint inherits the shared configuration
// of its group. Defaults to true.
func (e *Endpoint) Inherits() bool {
	return e.InheritConfiguration == nil || *e.InheritConfiguration
}

// EndpointGroup is a logical backend group.
type EndpointGroup struct {
	Name string `json:"name"`

	// Default connector type of the endpoints.
	Type string `json:"type,omitempty"`

	LoadBalancer        LoadBalancer    `json:"loadBalancer,omitempty"`
	SharedConfiguration json.RawMessage `json:"sharedConfiguration,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	Endpoints           []Endpoint      `json:"endpoints,omitempty"`
}

// API is the deployable unit of the gateway.
type API struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	ContextPath    string          `json:"contextPath"`
	Tags           []string        `json:"tags,omitempty"`
	Flows          []flow.Flow     `json:"flows,omitempty"`
	EndpointGroups []EndpointGroup `json:"endpointGroups,omitempty"`
}

// EndpointType returns the connector type of an endpoint, falling back to
// the group type.
func (g *EndpointGroup) EndpointType(e Endpoint) string {
	if e.Type != "" {
		return e.Type
	}

	return g.Type
}
