/*
Package discovery updates the endpoint groups of the running APIs from
external registries.

A source watches or polls a registry, and turns its changes into
events, that the Dispatcher passes to the endpoint manager of the API.
Two sources are available:

  - EtcdSource watches the keys <prefix>/<api>/<group>/<endpoint>, with
    the YAML endpoint definitions as values.
  - RedisSource polls the sets <prefix>:<api>:<group>, with the target
    URLs of the HTTP endpoints as members.

Endpoints that don't match the sharding tags of the gateway are ignored
by the endpoint manager.
*/
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/apigw/definition"
	"github.com/zalando/apigw/endpoint"
)

// ErrUnknownAPI is returned when an event refers to an API that is not
// registered.
var ErrUnknownAPI = errors.New("unknown API")

type EventType int

const (
	Added EventType = iota
	Removed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a change of an endpoint in a registry. For Removed events,
// only the name of the endpoint is set.
type Event struct {
	Type     EventType
	API      string
	Group    string
	Endpoint definition.Endpoint
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s/%s/%s", e.Type, e.API, e.Group, e.Endpoint.Name)
}

// Target receives the endpoint changes of an API. Implemented by
// endpoint.Manager.
type Target interface {
	AddEndpoint(ctx context.Context, group string, d definition.Endpoint) (*endpoint.ManagedEndpoint, error)
	RemoveEndpoint(ctx context.Context, group, name string) *endpoint.ManagedEndpoint
}

// Handler processes the events of a source.
type Handler interface {
	Dispatch(ctx context.Context, e Event) error
}

// Source delivers registry changes to a handler until the context is
// canceled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// Dispatcher routes the events to the target registered for their API.
type Dispatcher struct {
	mu      sync.RWMutex
	targets map[string]Target
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{targets: make(map[string]Target)}
}

// Register sets the target of an API, replacing the previous one.
func (d *Dispatcher) Register(api string, t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets[api] = t
}

func (d *Dispatcher) Unregister(api string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.targets, api)
}

func (d *Dispatcher) target(api string) Target {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.targets[api]
}

// Dispatch applies an event to the target of its API. Endpoints
// filtered by the sharding tags, and removals of unknown endpoints, are
// not errors.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	t := d.target(e.API)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAPI, e.API)
	}

	switch e.Type {
	case Added:
		if _, err := t.AddEndpoint(ctx, e.Group, e.Endpoint); err != nil {
			if errors.Is(err, endpoint.ErrFiltered) {
				log.Debugf("Endpoint ignored, %s: %v", e, err)
				return nil
			}

			return fmt.Errorf("failed to apply %s: %w", e, err)
		}
	case Removed:
		if t.RemoveEndpoint(ctx, e.Group, e.Endpoint.Name) == nil {
			log.Debugf("Endpoint not found, %s", e)
			return nil
		}
	default:
		return fmt.Errorf("invalid event type: %d", e.Type)
	}

	log.Infof("Endpoint %s", e)
	return nil
}

// Run runs the sources until the context is canceled, or one of them
// fails. It returns the first error that is not a cancellation.
func Run(ctx context.Context, h Handler, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sources {
		g.Go(func() error {
			if err := s.Run(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})
	}

	return g.Wait()
}
