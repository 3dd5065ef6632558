/*
Package tags implements the sharding tag matching that decides whether an
API or an endpoint group is reachable from a gateway instance.

A gateway is configured with a comma separated list of tags. Tags prefixed
with '!' are exclusions, all other tags are inclusions:

	-tags 'public,eu-west,!internal'

A resource carrying any excluded tag is never served. When inclusions are
configured, a resource is served only when it carries at least one of
them. Resources without tags and gateways without tags are unrestricted.

Matching is exact and case-sensitive.
*/
package tags

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ExclusionMarker prefixes the excluded tags in the configuration
// property.
const ExclusionMarker = "!"

// ErrIncludedAndExcluded is returned when the same tag is configured
// both as an inclusion and as an exclusion.
var ErrIncludedAndExcluded = errors.New("tag must not be included and excluded")

// Configuration holds the sharding tags of a gateway instance. It is
// immutable after parsing and safe for concurrent use. A nil
// *Configuration is unrestricted.
type Configuration struct {
	inclusions map[string]struct{}
	exclusions map[string]struct{}
}

// Parse parses the tags property. Whitespace around the tokens is
// trimmed and empty tokens are ignored.
func Parse(property string) (*Configuration, error) {
	c := &Configuration{
		inclusions: make(map[string]struct{}),
		exclusions: make(map[string]struct{}),
	}

	for _, token := range strings.Split(property, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if strings.HasPrefix(token, ExclusionMarker) {
			tag := strings.TrimSpace(strings.TrimPrefix(token, ExclusionMarker))
			if tag != "" {
				c.exclusions[tag] = struct{}{}
			}

			continue
		}

		c.inclusions[token] = struct{}{}
	}

	for tag := range c.inclusions {
		if _, ok := c.exclusions[tag]; ok {
			return nil, fmt.Errorf("%w: %s", ErrIncludedAndExcluded, tag)
		}
	}

	return c, nil
}

// MustParse is like Parse but panics on invalid input. Meant for tests
// and static initialization.
func MustParse(property string) *Configuration {
	c, err := Parse(property)
	if err != nil {
		panic(err)
	}

	return c
}

// Restricted tells whether the configuration contains any tags.
func (c *Configuration) Restricted() bool {
	return c != nil && (len(c.inclusions) > 0 || len(c.exclusions) > 0)
}

// Matches decides whether a resource carrying resourceTags can be
// served by this gateway. Exclusions always take precedence over
// inclusions.
func (c *Configuration) Matches(resourceTags []string) bool {
	if !c.Restricted() {
		return true
	}

	if len(resourceTags) == 0 {
		return true
	}

	for _, t := range resourceTags {
		if _, ok := c.exclusions[t]; ok {
			return false
		}
	}

	if len(c.inclusions) == 0 {
		return true
	}

	for _, t := range resourceTags {
		if _, ok := c.inclusions[t]; ok {
			return true
		}
	}

	return false
}

// Inclusions returns the included tags in sorted order.
func (c *Configuration) Inclusions() []string {
	if c == nil {
		return nil
	}

	return sortedKeys(c.inclusions)
}

// Exclusions returns the excluded tags, without the marker, in sorted
// order.
func (c *Configuration) Exclusions() []string {
	if c == nil {
		return nil
	}

	return sortedKeys(c.exclusions)
}

// String returns the canonical property form of the configuration.
func (c *Configuration) String() string {
	if c == nil {
		return ""
	}

	ss := c.Inclusions()
	for _, e := range c.Exclusions() {
		ss = append(ss, ExclusionMarker+e)
	}

	return strings.Join(ss, ",")
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}
