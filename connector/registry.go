package connector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/apigw/definition"
)

// ErrUnknownType is returned when no factory is registered for the type
// of an endpoint.
var ErrUnknownType = errors.New("unknown connector type")

// Factory creates the connectors of one endpoint type.
type Factory interface {
	Type() string
	Create(group definition.EndpointGroup, endpoint definition.Endpoint) (Connector, error)
}

// Registry holds the connector factories by endpoint type. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the given factories.
func NewRegistry(f ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, fi := range f {
		r.Register(fi)
	}

	return r
}

// Register adds a factory, replacing any previous factory of the same
// type.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Type()] = f
}

// Create creates the connector for an endpoint of a group.
func (r *Registry) Create(group definition.EndpointGroup, endpoint definition.Endpoint) (Connector, error) {
	t := group.EndpointType(endpoint)

	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q for endpoint %s", ErrUnknownType, t, endpoint.Name)
	}

	c, err := f.Create(group, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector for endpoint %s: %w", endpoint.Name, err)
	}

	return c, nil
}
