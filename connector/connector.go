/*
Package connector defines the contract between the gateway and the
protocol specific clients that open connections to backend endpoints.

A connector is created per endpoint, started when the endpoint joins its
group, and stopped when it leaves. It advertises the interaction modes and
the API type it supports, which the endpoint groups aggregate.
*/
package connector

import (
	"context"
	"net/http"
	"strings"
)

// Modes is a set of interaction modes.
type Modes uint8

const (
	RequestResponse Modes = 1 << iota
	Subscribe
	Publish
)

var modeNames = []struct {
	mode Modes
	name string
}{
	{RequestResponse, "REQUEST_RESPONSE"},
	{Subscribe, "SUBSCRIBE"},
	{Publish, "PUBLISH"},
}

// Has tells whether every mode of m is in the set.
func (s Modes) Has(m Modes) bool { return s&m == m }

// Union returns the modes present in either set.
func (s Modes) Union(o Modes) Modes { return s | o }

// List returns the names of the modes in the set.
func (s Modes) List() []string {
	var l []string
	for _, mn := range modeNames {
		if s.Has(mn.mode) {
			l = append(l, mn.name)
		}
	}

	return l
}

func (s Modes) String() string { return strings.Join(s.List(), ",") }

// ApiType is the kind of API a connector can serve. The empty value means
// undefined.
type ApiType string

const (
	Proxy   ApiType = "proxy"
	Message ApiType = "message"
	Native  ApiType = "native"
)

// Connection is one exchange with a backend. The request body is written
// chunk by chunk, in order, and terminated with End. Response blocks
// until the backend answered with its headers, or the context was
// canceled. Close releases the connection and may be called more than
// once.
type Connection interface {
	Write([]byte) error
	End() error
	Response(context.Context) (*http.Response, error)
	Close() error
}

// Connector opens connections to a single backend endpoint.
type Connector interface {
	Start(context.Context) error
	Stop(context.Context) error
	SupportedModes() Modes
	SupportedApi() ApiType

	// Connect opens a connection for the inbound request. Only the
	// method, the URL and the header of the request are used, the body
	// is written to the returned connection.
	Connect(context.Context, *http.Request) (Connection, error)
}
