package connector

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zalando/apigw/circuit"
	"github.com/zalando/apigw/definition"
)

// endpointConfig reads the raw JSON configuration of an endpoint. Keys
// missing from the endpoint are looked up in the shared configuration of
// the group, unless the endpoint opted out of inheriting it.
type endpointConfig struct {
	endpoint []byte
	shared   []byte
	inherit  bool
}

func newEndpointConfig(group definition.EndpointGroup, endpoint definition.Endpoint) endpointConfig {
	return endpointConfig{
		endpoint: endpoint.Configuration,
		shared:   group.SharedConfiguration,
		inherit:  endpoint.Inherits(),
	}
}

func (c endpointConfig) get(path string) gjson.Result {
	r := gjson.GetBytes(c.endpoint, path)
	if !r.Exists() && c.inherit {
		r = gjson.GetBytes(c.shared, path)
	}

	return r
}

func (c endpointConfig) str(path string) string {
	return c.get(path).String()
}

func (c endpointConfig) integer(path string, dflt int) int {
	r := c.get(path)
	if !r.Exists() {
		return dflt
	}

	return int(r.Int())
}

// duration accepts Go duration strings, or numbers in milliseconds.
func (c endpointConfig) duration(path string, dflt time.Duration) (time.Duration, error) {
	r := c.get(path)
	switch r.Type {
	case gjson.Null:
		return dflt, nil
	case gjson.Number:
		return time.Duration(r.Int()) * time.Millisecond, nil
	case gjson.String:
		d, err := time.ParseDuration(r.Str)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", path, err)
		}

		return d, nil
	default:
		return 0, fmt.Errorf("invalid %s: %s", path, r.Raw)
	}
}

func (c endpointConfig) breaker() (circuit.BreakerSettings, error) {
	var (
		s   circuit.BreakerSettings
		err error
	)

	if s.Type, err = circuit.ParseBreakerType(c.str("breaker.type")); err != nil {
		return s, err
	}

	s.Failures = c.integer("breaker.failures", 0)
	s.HalfOpenRequests = c.integer("breaker.halfOpenRequests", 0)
	s.Timeout, err = c.duration("breaker.timeout", 0)
	return s, err
}
