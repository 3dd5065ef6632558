package definition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apisYAML = `
apis:
- id: users
  name: Users
  contextPath: /users
  tags: [public]
  flows:
  - name: all
    condition:
      path: /
      operator: starts_with
  endpointGroups:
  - name: default
    type: http-proxy
    sharedConfiguration:
      timeout: 3s
    endpoints:
    - name: users-1
      configuration:
        target: http://users-1.internal:8080
      tags: [eu]
    - name: users-fallback
      type: http-proxy
      secondary: true
      inheritConfiguration: false
      configuration:
        target: http://users-fallback.internal:8080
`

func TestParse(t *testing.T) {
	apis, err := Parse([]byte(apisYAML))
	require.NoError(t, err)
	require.Len(t, apis, 1)

	api := apis[0]
	assert.Equal(t, "users", api.ID)
	assert.Equal(t, "/users", api.ContextPath)
	assert.Equal(t, []string{"public"}, api.Tags)
	require.Len(t, api.Flows, 1)
	assert.Equal(t, "all", api.Flows[0].Name)

	require.Len(t, api.EndpointGroups, 1)
	g := api.EndpointGroups[0]
	assert.JSONEq(t, `{"timeout":"3s"}`, string(g.SharedConfiguration))
	require.Len(t, g.Endpoints, 2)

	primary, secondary := g.Endpoints[0], g.Endpoints[1]
	assert.Equal(t, "http-proxy", g.EndpointType(primary))
	assert.JSONEq(t, `{"target":"http://users-1.internal:8080"}`, string(primary.Configuration))
	assert.False(t, primary.Secondary)
	assert.True(t, primary.Inherits())
	assert.True(t, secondary.Secondary)
	assert.False(t, secondary.Inherits())
}

func TestParseInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
	}{{
		name: "missing id",
		doc:  "apis:\n- contextPath: /a\n",
	}, {
		name: "duplicate id",
		doc:  "apis:\n- id: a\n  contextPath: /a\n- id: a\n  contextPath: /b\n",
	}, {
		name: "relative context path",
		doc:  "apis:\n- id: a\n  contextPath: a\n",
	}, {
		name: "duplicate group",
		doc:  "apis:\n- id: a\n  contextPath: /a\n  endpointGroups:\n  - name: g\n  - name: g\n",
	}, {
		name: "duplicate endpoint",
		doc:  "apis:\n- id: a\n  contextPath: /a\n  endpointGroups:\n  - name: g\n    type: http-proxy\n    endpoints:\n    - name: e\n    - name: e\n",
	}, {
		name: "endpoint without type",
		doc:  "apis:\n- id: a\n  contextPath: /a\n  endpointGroups:\n  - name: g\n    endpoints:\n    - name: e\n",
	}, {
		name: "unsupported load balancer",
		doc:  "apis:\n- id: a\n  contextPath: /a\n  endpointGroups:\n  - name: g\n    loadBalancer:\n      type: RANDOM\n",
	}} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.True(t, errors.Is(err, ErrInvalid), "got: %v", err)
		})
	}

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse([]byte("apis: ["))
		assert.Error(t, err)
	})
}

func TestLoadFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "apis.yaml")
	require.NoError(t, os.WriteFile(f, []byte(apisYAML), 0o644))

	apis, err := LoadFile(f)
	require.NoError(t, err)
	assert.Len(t, apis, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint([]byte("name: e1\ntype: http-proxy\nconfiguration:\n  target: http://x\n"))
	require.NoError(t, err)
	assert.Equal(t, "e1", e.Name)
	assert.JSONEq(t, `{"target":"http://x"}`, string(e.Configuration))

	_, err = ParseEndpoint([]byte("type: http-proxy\n"))
	assert.True(t, errors.Is(err, ErrInvalid))
}
