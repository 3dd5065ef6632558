package tags

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tt := range []struct {
		name       string
		property   string
		inclusions []string
		exclusions []string
		restricted bool
	}{{
		name: "empty",
	}, {
		name:     "only separators and spaces",
		property: " , ,, ",
	}, {
		name:       "inclusions",
		property:   "public, eu-west",
		inclusions: []string{"eu-west", "public"},
		restricted: true,
	}, {
		name:       "exclusions",
		property:   "!internal,! private",
		exclusions: []string{"internal", "private"},
		restricted: true,
	}, {
		name:       "mixed",
		property:   "public,!internal",
		inclusions: []string{"public"},
		exclusions: []string{"internal"},
		restricted: true,
	}, {
		name:       "lone marker ignored",
		property:   "!,public",
		inclusions: []string{"public"},
		restricted: true,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.property)
			require.NoError(t, err)

			if d := cmp.Diff(tt.inclusions, c.Inclusions()); d != "" {
				t.Errorf("invalid inclusions: %s", d)
			}

			if d := cmp.Diff(tt.exclusions, c.Exclusions()); d != "" {
				t.Errorf("invalid exclusions: %s", d)
			}

			assert.Equal(t, tt.restricted, c.Restricted())
		})
	}

	t.Run("included and excluded", func(t *testing.T) {
		_, err := Parse("public,!public")
		assert.True(t, errors.Is(err, ErrIncludedAndExcluded))
	})
}

func TestString(t *testing.T) {
	assert.Equal(t, "a,b,!c", MustParse(" b,!c ,a").String())
	assert.Equal(t, "", MustParse("").String())

	var c *Configuration
	assert.Equal(t, "", c.String())
}

func TestMatches(t *testing.T) {
	for _, tt := range []struct {
		name         string
		gateway      string
		resourceTags []string
		expected     bool
	}{{
		name:         "unrestricted gateway",
		resourceTags: []string{"private"},
		expected:     true,
	}, {
		name:     "untagged resource",
		gateway:  "public",
		expected: true,
	}, {
		name:         "empty resource tags",
		gateway:      "public",
		resourceTags: []string{},
		expected:     true,
	}, {
		name:         "included",
		gateway:      "public",
		resourceTags: []string{"public", "other"},
		expected:     true,
	}, {
		name:         "not included",
		gateway:      "public",
		resourceTags: []string{"private"},
	}, {
		name:         "excluded",
		gateway:      "!private",
		resourceTags: []string{"private"},
	}, {
		name:         "exclusion only, other tag",
		gateway:      "!private",
		resourceTags: []string{"public"},
		expected:     true,
	}, {
		name:         "exclusion wins over inclusion",
		gateway:      "public,!private",
		resourceTags: []string{"public", "private"},
	}, {
		name:         "case sensitive",
		gateway:      "public",
		resourceTags: []string{"Public"},
	}} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MustParse(tt.gateway).Matches(tt.resourceTags))
		})
	}

	t.Run("nil configuration", func(t *testing.T) {
		var c *Configuration
		assert.True(t, c.Matches([]string{"any"}))
	})
}

func TestApplicableTo(t *testing.T) {
	tag := &Tag{ID: "public", Name: "Public", ReferenceID: "acme", ReferenceType: ReferenceOrganization}

	assert.False(t, tag.ApplicableTo(nil))
	assert.True(t, tag.ApplicableTo(DefaultOrganization()))
	assert.True(t, tag.ApplicableTo(&Organization{ID: "acme"}))
	assert.False(t, tag.ApplicableTo(&Organization{ID: "other"}))

	org := &Organization{ID: "acme"}
	assert.True(t, org.HasTag(tag))
	assert.False(t, org.HasTag(nil))
}
