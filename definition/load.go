package definition

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// ErrInvalid wraps every validation error of the definitions.
var ErrInvalid = errors.New("invalid API definition")

type document struct {
	APIs []API `json:"apis"`
}

// Parse parses and validates a definitions document.
func Parse(data []byte) ([]API, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse API definitions: %w", err)
	}

	if err := validate(doc.APIs); err != nil {
		return nil, err
	}

	return doc.APIs, nil
}

// LoadFile reads and parses a definitions file.
func LoadFile(path string) ([]API, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API definitions: %w", err)
	}

	return Parse(data)
}

// ParseEndpoint parses a single endpoint definition, as it is received
// from the discovery sources.
func ParseEndpoint(data []byte) (Endpoint, error) {
	var e Endpoint
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Endpoint{}, fmt.Errorf("failed to parse endpoint: %w", err)
	}

	if e.Name == "" {
		return Endpoint{}, fmt.Errorf("%w: endpoint without name", ErrInvalid)
	}

	return e, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validate(apis []API) error {
	ids := make(map[string]bool)
	for _, api := range apis {
		if api.ID == "" {
			return invalid("API without id")
		}

		if ids[api.ID] {
			return invalid("duplicate API id %s", api.ID)
		}

		ids[api.ID] = true

		if !strings.HasPrefix(api.ContextPath, "/") {
			return invalid("context path of %s must start with '/': %q", api.ID, api.ContextPath)
		}

		groups := make(map[string]bool)
		for _, g := range api.EndpointGroups {
			if g.Name == "" {
				return invalid("endpoint group without name in %s", api.ID)
			}

			if groups[g.Name] {
				return invalid("duplicate endpoint group %s in %s", g.Name, api.ID)
			}

			groups[g.Name] = true

			if g.LoadBalancer.Type != "" && g.LoadBalancer.Type != RoundRobin {
				return invalid("unsupported load balancer %s in %s/%s", g.LoadBalancer.Type, api.ID, g.Name)
			}

			endpoints := make(map[string]bool)
			for _, e := range g.Endpoints {
				if e.Name == "" {
					return invalid("endpoint without name in %s/%s", api.ID, g.Name)
				}

				if endpoints[e.Name] {
					return invalid("duplicate endpoint %s in %s/%s", e.Name, api.ID, g.Name)
				}

				endpoints[e.Name] = true

				if g.EndpointType(e) == "" {
					return invalid("endpoint %s in %s/%s has no type", e.Name, api.ID, g.Name)
				}
			}
		}
	}

	return nil
}
