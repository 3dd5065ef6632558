package apigw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named string

func (n named) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte(n))
}

func TestRouter(t *testing.T) {
	r := newRouter()
	require.NoError(t, r.add("/", named("root")))
	require.NoError(t, r.add("/users", named("users")))
	require.NoError(t, r.add("/users/admin/", named("admin")))
	require.Error(t, r.add("/users/", named("duplicate")))

	for _, tt := range []struct {
		path     string
		expected string
	}{
		{"/", "root"},
		{"/users", "users"},
		{"/users/42", "users"},
		{"/usersx", "root"},
		{"/users/admin", "admin"},
		{"//users//admin/x", "admin"},
		{"/other", "root"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", "http://example.org"+tt.path, nil))
			assert.Equal(t, tt.expected, w.Body.String())
		})
	}
}

func TestRouterNotFound(t *testing.T) {
	r := newRouter()
	require.NoError(t, r.add("/users", named("users")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orders", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"No API matches the request path","http_status_code":404}`, w.Body.String())
}
