package endpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/definition"
	"github.com/zalando/apigw/tags"
)

// snapshot is the immutable state of a group, replaced on every
// mutation.
type snapshot struct {
	// registered endpoints, in insertion order
	endpoints []*ManagedEndpoint

	primaries   []*ManagedEndpoint
	secondaries []*ManagedEndpoint
	modes       connector.Modes
	api         connector.ApiType
}

// Group is a managed endpoint group. Selection and capability reads are
// lock-free, mutations are serialized.
type Group struct {
	definition definition.EndpointGroup
	connectors *connector.Registry
	tags       *tags.Configuration

	mu       sync.Mutex
	stopped  bool
	current  atomic.Pointer[snapshot]
	primary  atomic.Uint64
	fallback atomic.Uint64
}

// NewGroup creates a group for a definition. The connectors registry is
// used when the group starts, to create the connectors of the defined
// endpoints. Endpoints not matching the gateway sharding tags are
// skipped.
func NewGroup(d definition.EndpointGroup, connectors *connector.Registry, gatewayTags *tags.Configuration) *Group {
	g := &Group{
		definition: d,
		connectors: connectors,
		tags:       gatewayTags,
	}

	g.current.Store(&snapshot{})
	return g
}

func (g *Group) Name() string                         { return g.definition.Name }
func (g *Group) Definition() definition.EndpointGroup { return g.definition }

func newSnapshot(endpoints []*ManagedEndpoint) *snapshot {
	s := &snapshot{endpoints: endpoints}
	for _, e := range endpoints {
		s.modes = s.modes.Union(e.connector.SupportedModes())
		if !e.Started() {
			continue
		}

		if s.api == "" {
			s.api = e.connector.SupportedApi()
		}

		if e.Secondary() {
			s.secondaries = append(s.secondaries, e)
		} else {
			s.primaries = append(s.primaries, e)
		}
	}

	return s
}

func (g *Group) publish(endpoints []*ManagedEndpoint) {
	g.current.Store(newSnapshot(endpoints))
}

// AddEndpoint starts the connector of the endpoint and registers it in
// the group. When the connector fails to start, the endpoint is
// registered with status Down. An endpoint with the same name is
// replaced and stopped. A stopped group doesn't accept endpoints anymore:
// the connector is stopped again and the endpoint is not registered.
func (g *Group) AddEndpoint(ctx context.Context, e *ManagedEndpoint) *ManagedEndpoint {
	if err := e.connector.Start(ctx); err != nil {
		log.Errorf("Failed to start connector of endpoint %s/%s: %v", g.Name(), e.Name(), err)
		e.setStatus(Down)
	} else {
		e.setStatus(Up)
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		log.Warnf("Endpoint %s/%s not added, the group is stopped", g.Name(), e.Name())
		stopEndpoint(ctx, e)
		return e
	}

	endpoints := slices.Clone(g.current.Load().endpoints)
	var replaced *ManagedEndpoint
	if i := indexOf(endpoints, e.Name()); i >= 0 {
		replaced = endpoints[i]
		endpoints = slices.Delete(endpoints, i, i+1)
	}

	endpoints = append(endpoints, e)
	g.publish(endpoints)
	g.mu.Unlock()

	if replaced != nil {
		log.Infof("Endpoint %s/%s replaced", g.Name(), e.Name())
		stopEndpoint(ctx, replaced)
	}

	return e
}

// RemoveEndpoint unregisters the endpoint and stops its connector. It
// returns nil when the group has no endpoint with the name.
func (g *Group) RemoveEndpoint(ctx context.Context, name string) *ManagedEndpoint {
	g.mu.Lock()
	endpoints := g.current.Load().endpoints
	i := indexOf(endpoints, name)
	if i < 0 {
		g.mu.Unlock()
		return nil
	}

	removed := endpoints[i]
	g.publish(slices.Delete(slices.Clone(endpoints), i, i+1))
	g.mu.Unlock()

	stopEndpoint(ctx, removed)
	return removed
}

func indexOf(endpoints []*ManagedEndpoint, name string) int {
	return slices.IndexFunc(endpoints, func(e *ManagedEndpoint) bool { return e.Name() == name })
}

func stopEndpoint(ctx context.Context, e *ManagedEndpoint) error {
	wasUp := e.Started()
	e.setStatus(Down)
	if !wasUp {
		return nil
	}

	if err := e.connector.Stop(ctx); err != nil {
		log.Errorf("Failed to stop connector of endpoint %s/%s: %v", e.group, e.Name(), err)
		return err
	}

	return nil
}

func roundRobin(endpoints []*ManagedEndpoint, cursor *atomic.Uint64) *ManagedEndpoint {
	i := cursor.Add(1) - 1
	return endpoints[i%uint64(len(endpoints))]
}

// Next selects the next started primary endpoint, or, if there is none,
// the next started secondary endpoint. It returns nil when no endpoint
// is usable.
func (g *Group) Next() *ManagedEndpoint {
	s := g.current.Load()
	switch {
	case len(s.primaries) > 0:
		return roundRobin(s.primaries, &g.primary)
	case len(s.secondaries) > 0:
		return roundRobin(s.secondaries, &g.fallback)
	default:
		return nil
	}
}

// SupportedModes returns the union of the modes of the registered
// endpoints.
func (g *Group) SupportedModes() connector.Modes {
	return g.current.Load().modes
}

// SupportedApi returns the API type of the first started endpoint, or
// the empty type when no endpoint is started.
func (g *Group) SupportedApi() connector.ApiType {
	return g.current.Load().api
}

// Endpoints returns the registered endpoints in insertion order.
func (g *Group) Endpoints() []*ManagedEndpoint {
	return slices.Clone(g.current.Load().endpoints)
}

// Endpoint returns the registered endpoint with the name, or nil.
func (g *Group) Endpoint(name string) *ManagedEndpoint {
	endpoints := g.current.Load().endpoints
	if i := indexOf(endpoints, name); i >= 0 {
		return endpoints[i]
	}

	return nil
}

// CreateEndpoint creates the managed endpoint for a definition, without
// adding it. It returns ErrFiltered when the endpoint tags don't match
// the gateway sharding tags.
func (g *Group) CreateEndpoint(d definition.Endpoint) (*ManagedEndpoint, error) {
	if !g.tags.Matches(d.Tags) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFiltered, g.Name(), d.Name)
	}

	if g.connectors == nil {
		return nil, fmt.Errorf("no connectors registry for group %s", g.Name())
	}

	c, err := g.connectors.Create(g.definition, d)
	if err != nil {
		return nil, err
	}

	return NewManagedEndpoint(g.Name(), d, c), nil
}

// Start creates and adds the endpoints of the definition. Connectors
// failing to start leave their endpoints Down, but connectors that can't
// be created fail the start, and the endpoints added so far are
// released.
func (g *Group) Start(ctx context.Context) error {
	for _, d := range g.definition.Endpoints {
		e, err := g.CreateEndpoint(d)
		if errors.Is(err, ErrFiltered) {
			log.Debugf("Endpoint skipped by sharding tags: %v", err)
			continue
		}

		if err != nil {
			g.Stop(ctx)
			return err
		}

		g.AddEndpoint(ctx, e)
	}

	return nil
}

// Stop removes and stops every endpoint of the group.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	g.stopped = true
	endpoints := g.current.Load().endpoints
	g.publish(nil)
	g.mu.Unlock()

	var errs []error
	for _, e := range endpoints {
		if err := stopEndpoint(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
