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

// State of a Manager.
type State int32

const (
	Created State = iota
	Starting
	Started
	Stopping
	Stopped
)

var stateNames = [...]string{"CREATED", "STARTING", "STARTED", "STOPPING", "STOPPED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", s)
	}

	return stateNames[s]
}

var (
	// ErrInvalidState is returned by the lifecycle operations called in
	// the wrong state.
	ErrInvalidState = errors.New("invalid endpoint manager state")

	// ErrGroupNotFound is returned for operations on unknown groups.
	ErrGroupNotFound = errors.New("endpoint group not found")

	// ErrGroupExists is returned when adding a group with a name already
	// in use.
	ErrGroupExists = errors.New("endpoint group already exists")

	// ErrFiltered is returned when an endpoint is not served by this
	// gateway because of its tags.
	ErrFiltered = errors.New("endpoint filtered by sharding tags")
)

// Options of a Manager.
type Options struct {
	// API is the identifier of the API owning the endpoint groups.
	API string

	// Groups are the endpoint groups created on start, in order.
	Groups []definition.EndpointGroup

	// Connectors creates the endpoint connectors.
	Connectors *connector.Registry

	// Tags are the sharding tags of the gateway, used to select the
	// default group and to filter the endpoints.
	Tags *tags.Configuration
}

type groupSet struct {
	ordered []*Group
	dflt    *Group
}

// Manager is the per API aggregate of the endpoint groups. Next and the
// group lookups are lock-free, the lifecycle and the mutations are
// serialized.
type Manager struct {
	options Options
	state   atomic.Int32
	mu      sync.Mutex
	groups  atomic.Pointer[groupSet]
}

func NewManager(o Options) *Manager {
	m := &Manager{options: o}
	m.groups.Store(&groupSet{})
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

// resolveDefault returns the first group whose tags match the gateway
// sharding tags, or, when none matches, the first group.
func (m *Manager) resolveDefault(groups []*Group) *Group {
	for _, g := range groups {
		if m.options.Tags.Matches(g.definition.Tags) {
			return g
		}
	}

	if len(groups) > 0 {
		return groups[0]
	}

	return nil
}

func (m *Manager) publish(groups []*Group) {
	gs := &groupSet{ordered: groups, dflt: m.resolveDefault(groups)}
	m.groups.Store(gs)
	if gs.dflt != nil {
		log.Debugf("Default endpoint group of %s: %s", m.options.API, gs.dflt.Name())
	}
}

// Start creates and starts the groups of the definition. When a group
// fails to start, the groups started so far are stopped, and the manager
// returns to Created, so that the deployment can be retried.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CompareAndSwap(int32(Created), int32(Starting)) {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, m.State())
	}

	var groups []*Group
	for _, d := range m.options.Groups {
		g := NewGroup(d, m.options.Connectors, m.options.Tags)
		if err := g.Start(ctx); err != nil {
			for _, gi := range slices.Backward(groups) {
				gi.Stop(ctx)
			}

			m.state.Store(int32(Created))
			return fmt.Errorf("failed to start endpoint group %s/%s: %w", m.options.API, d.Name, err)
		}

		groups = append(groups, g)
	}

	m.publish(groups)
	m.state.Store(int32(Started))
	return nil
}

// Stop stops every group and its endpoints.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CompareAndSwap(int32(Started), int32(Stopping)) {
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, m.State())
	}

	groups := m.groups.Load().ordered
	m.groups.Store(&groupSet{})

	var errs []error
	for _, g := range slices.Backward(groups) {
		if err := g.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.state.Store(int32(Stopped))
	return errors.Join(errs...)
}

// Next selects an endpoint from the default group. It returns nil when
// the manager is not started, when there is no default group, or when
// the default group has no usable endpoint.
func (m *Manager) Next() *ManagedEndpoint {
	if m.State() != Started {
		return nil
	}

	g := m.groups.Load().dflt
	if g == nil {
		return nil
	}

	return g.Next()
}

// DefaultGroup returns the default group, or nil.
func (m *Manager) DefaultGroup() *Group {
	return m.groups.Load().dflt
}

// Group returns the group with the name, or nil.
func (m *Manager) Group(name string) *Group {
	for _, g := range m.groups.Load().ordered {
		if g.Name() == name {
			return g
		}
	}

	return nil
}

// Groups returns the groups in creation order.
func (m *Manager) Groups() []*Group {
	return slices.Clone(m.groups.Load().ordered)
}

// AddGroup creates and starts a group, and resolves the default group
// again.
func (m *Manager) AddGroup(ctx context.Context, d definition.EndpointGroup) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Started {
		return nil, fmt.Errorf("%w: add group in %s", ErrInvalidState, m.State())
	}

	groups := m.groups.Load().ordered
	if slices.ContainsFunc(groups, func(g *Group) bool { return g.Name() == d.Name }) {
		return nil, fmt.Errorf("%w: %s/%s", ErrGroupExists, m.options.API, d.Name)
	}

	g := NewGroup(d, m.options.Connectors, m.options.Tags)
	if err := g.Start(ctx); err != nil {
		return nil, err
	}

	m.publish(append(slices.Clone(groups), g))
	return g, nil
}

// RemoveGroup stops and removes a group, and resolves the default group
// again. It returns nil when there is no group with the name.
func (m *Manager) RemoveGroup(ctx context.Context, name string) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := m.groups.Load().ordered
	i := slices.IndexFunc(groups, func(g *Group) bool { return g.Name() == name })
	if i < 0 {
		return nil
	}

	g := groups[i]
	m.publish(slices.Delete(slices.Clone(groups), i, i+1))
	g.Stop(ctx)
	return g
}

// AddEndpoint adds an endpoint to a group of a started manager. It
// returns ErrFiltered, without changing the group, when the endpoint
// tags don't match the gateway sharding tags. Stop waits for an addition
// in progress.
func (m *Manager) AddEndpoint(ctx context.Context, group string, d definition.Endpoint) (*ManagedEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Started {
		return nil, fmt.Errorf("%w: add endpoint in %s", ErrInvalidState, m.State())
	}

	g := m.Group(group)
	if g == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrGroupNotFound, m.options.API, group)
	}

	e, err := g.CreateEndpoint(d)
	if err != nil {
		return nil, err
	}

	return g.AddEndpoint(ctx, e), nil
}

// RemoveEndpoint removes an endpoint from a group. It returns nil when
// the group or the endpoint doesn't exist.
func (m *Manager) RemoveEndpoint(ctx context.Context, group, name string) *ManagedEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.Group(group)
	if g == nil {
		return nil
	}

	return g.RemoveEndpoint(ctx, name)
}
