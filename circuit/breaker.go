package circuit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BreakerType defines the type of the used breaker: consecutive or disabled.
type BreakerType int

const (
	BreakerNone BreakerType = iota
	ConsecutiveFailures
	BreakerDisabled
)

// ParseBreakerType parses the name of a breaker type.
func ParseBreakerType(value string) (BreakerType, error) {
	switch value {
	case "", "none":
		return BreakerNone, nil
	case "consecutive":
		return ConsecutiveFailures, nil
	case "disabled":
		return BreakerDisabled, nil
	default:
		return BreakerNone, fmt.Errorf("invalid breaker type %v (allowed values are: consecutive or disabled)", value)
	}
}

func (b *BreakerType) UnmarshalYAML(unmarshal func(any) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}

	t, err := ParseBreakerType(value)
	if err != nil {
		return err
	}

	*b = t
	return nil
}

// BreakerSettings contains the settings for individual circuit breakers.
type BreakerSettings struct {
	Type             BreakerType   `yaml:"type"`
	Endpoint         string        `yaml:"endpoint"`
	Failures         int           `yaml:"failures"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenRequests int           `yaml:"half-open-requests"`
}

type breakerImplementation interface {
	Allow() (func(bool), bool)
	Closed() bool
}

type voidBreaker struct{}

// Breaker represents a single circuit breaker for a particular set of settings.
type Breaker struct {
	settings BreakerSettings
	impl     breakerImplementation
}

// Merge fills the unset fields of the settings from the defaults. A
// failure count without a type implies the consecutive breaker.
func (to BreakerSettings) Merge(from BreakerSettings) BreakerSettings {
	if to.Type == BreakerNone {
		if to.Failures > 0 {
			to.Type = ConsecutiveFailures
		} else {
			to.Type = from.Type
			to.Failures = from.Failures
		}
	}

	if to.Type == ConsecutiveFailures && to.Failures == 0 {
		to.Failures = from.Failures
	}

	if to.Timeout == 0 {
		to.Timeout = from.Timeout
	}

	if to.HalfOpenRequests == 0 {
		to.HalfOpenRequests = from.HalfOpenRequests
	}

	return to
}

// String returns the string representation of a particular set of settings.
//
//lint:ignore ST1016 "s" makes sense here and Merge has "to"
func (s BreakerSettings) String() string {
	var ss []string

	switch s.Type {
	case ConsecutiveFailures:
		ss = append(ss, "type=consecutive")
	case BreakerDisabled:
		return "disabled"
	default:
		return "none"
	}

	if s.Endpoint != "" {
		ss = append(ss, "endpoint="+s.Endpoint)
	}

	if s.Failures > 0 {
		ss = append(ss, "failures="+strconv.Itoa(s.Failures))
	}

	if s.Timeout > 0 {
		ss = append(ss, "timeout="+s.Timeout.String())
	}

	if s.HalfOpenRequests > 0 {
		ss = append(ss, "half-open-requests="+strconv.Itoa(s.HalfOpenRequests))
	}

	return strings.Join(ss, ",")
}

func (b voidBreaker) Allow() (func(bool), bool) {
	return func(bool) {}, true
}

func (b voidBreaker) Closed() bool { return true }

// NewBreaker creates a breaker for the settings. Settings without a type,
// or with the disabled type, create a breaker that never opens.
func NewBreaker(s BreakerSettings) *Breaker {
	var impl breakerImplementation
	switch {
	case s.Type == ConsecutiveFailures && s.Failures > 0:
		impl = newConsecutive(s)
	default:
		impl = voidBreaker{}
	}

	return &Breaker{
		settings: s,
		impl:     impl,
	}
}

// Allow returns true if the breaker is in the closed state and a callback function for reporting the outcome of
// the operation. The callback expects true values if the outcome of the request was successful. Allow may not
// return a callback function when the state is open.
func (b *Breaker) Allow() (func(bool), bool) {
	return b.impl.Allow()
}

// Closed tells whether the breaker currently lets the requests through
// without restriction.
func (b *Breaker) Closed() bool {
	return b.impl.Closed()
}

// Settings returns the settings the breaker was created with.
func (b *Breaker) Settings() BreakerSettings {
	return b.settings
}
