/*
Package flow selects the flows of an API that apply to a request.

A flow is matched by its condition against the normalized request path,
so that "/api//users" and "/api/users" select the same flows.
*/
package flow

import (
	"fmt"
	"strings"
)

// Operator defines how the path of a condition is compared.
type Operator string

const (
	Equals     Operator = "EQUALS"
	StartsWith Operator = "STARTS_WITH"
)

// UnmarshalText accepts the operator names case-insensitively.
func (o *Operator) UnmarshalText(b []byte) error {
	switch Operator(strings.ToUpper(string(b))) {
	case Equals:
		*o = Equals
	case StartsWith, "":
		*o = StartsWith
	default:
		return fmt.Errorf("invalid path operator: %s", b)
	}

	return nil
}

// Condition selects requests by path and method. Empty methods match
// every method.
type Condition struct {
	Path     string   `json:"path"`
	Operator Operator `json:"operator,omitempty"`
	Methods  []string `json:"methods,omitempty"`
}

// Flow is a named, conditional part of the processing of an API.
type Flow struct {
	Name      string    `json:"name"`
	Enabled   *bool     `json:"enabled,omitempty"`
	Condition Condition `json:"condition"`
}

// IsEnabled returns true unless the flow was explicitly disabled.
func (f *Flow) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Matches evaluates the condition. Both the condition path and the
// request path are normalized before the comparison.
func (c *Condition) Matches(method, path string) bool {
	if len(c.Methods) > 0 {
		found := false
		for _, m := range c.Methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	cp := NormalizePath(c.Path)
	if cp == "" {
		cp = "/"
	}

	path = NormalizePath(path)
	if c.Operator == Equals {
		return path == cp || path == cp+"/"
	}

	if cp == "/" {
		return true
	}

	cp = strings.TrimSuffix(cp, "/")
	return path == cp || strings.HasPrefix(path, cp+"/")
}

// Select returns the enabled flows matching the method and the path
// relative to the context path of the API, in definition order.
func Select(flows []Flow, method, path string) []Flow {
	var selected []Flow
	for _, f := range flows {
		if f.IsEnabled() && f.Condition.Matches(method, path) {
			selected = append(selected, f)
		}
	}

	return selected
}
