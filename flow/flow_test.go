package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	for _, tt := range []struct {
		path     string
		expected string
	}{
		{"", ""},
		{"/", "/"},
		{"///", "/"},
		{"/a/b", "/a/b"},
		{"//a///b//", "/a/b/"},
		{"a//b", "a/b"},
		{"/a/./b", "/a/./b"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.path))
		})
	}
}

func TestNormalizePathPtr(t *testing.T) {
	assert.Nil(t, NormalizePathPtr(nil))

	p := "//x"
	n := NormalizePathPtr(&p)
	require.NotNil(t, n)
	assert.Equal(t, "/x", *n)
	assert.Equal(t, "//x", p)
}

func TestConditionMatches(t *testing.T) {
	for _, tt := range []struct {
		name      string
		condition Condition
		method    string
		path      string
		expected  bool
	}{{
		name:      "root prefix matches everything",
		condition: Condition{Path: "/", Operator: StartsWith},
		method:    "GET",
		path:      "/anything",
		expected:  true,
	}, {
		name:      "prefix",
		condition: Condition{Path: "/users", Operator: StartsWith},
		method:    "GET",
		path:      "/users/1",
		expected:  true,
	}, {
		name:      "prefix is segment based",
		condition: Condition{Path: "/users", Operator: StartsWith},
		method:    "GET",
		path:      "/usersx",
	}, {
		name:      "duplicate separators",
		condition: Condition{Path: "/users", Operator: Equals},
		method:    "GET",
		path:      "//users",
		expected:  true,
	}, {
		name:      "equals with trailing slash",
		condition: Condition{Path: "/users", Operator: Equals},
		method:    "GET",
		path:      "/users/",
		expected:  true,
	}, {
		name:      "equals rejects sub path",
		condition: Condition{Path: "/users", Operator: Equals},
		method:    "GET",
		path:      "/users/1",
	}, {
		name:      "method mismatch",
		condition: Condition{Path: "/", Methods: []string{"POST"}},
		method:    "GET",
		path:      "/",
	}, {
		name:      "method match ignores case",
		condition: Condition{Path: "/", Methods: []string{"post"}},
		method:    "POST",
		path:      "/",
		expected:  true,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.condition.Matches(tt.method, tt.path))
		})
	}
}

func TestSelect(t *testing.T) {
	disabled := false
	flows := []Flow{
		{Name: "all", Condition: Condition{Path: "/"}},
		{Name: "off", Enabled: &disabled, Condition: Condition{Path: "/"}},
		{Name: "users", Condition: Condition{Path: "/users"}},
		{Name: "orders", Condition: Condition{Path: "/orders"}},
	}

	var names []string
	for _, f := range Select(flows, "GET", "/users//42") {
		names = append(names, f.Name)
	}

	assert.Equal(t, []string{"all", "users"}, names)
}

func TestOperatorUnmarshal(t *testing.T) {
	var o Operator
	require.NoError(t, o.UnmarshalText([]byte("equals")))
	assert.Equal(t, Equals, o)
	require.NoError(t, o.UnmarshalText([]byte("")))
	assert.Equal(t, StartsWith, o)
	assert.Error(t, o.UnmarshalText([]byte("regex")))
}
