package apigw

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/zalando/apigw/flow"
)

const notFoundMessage = "No API matches the request path"

type route struct {
	contextPath string
	handler     http.Handler
}

// router dispatches the requests to the API with the longest context
// path matching the request path on a segment boundary.
type router struct {
	routes   []route
	notFound []byte
}

func newRouter() *router {
	b, _ := json.Marshal(map[string]interface{}{
		"message":          notFoundMessage,
		"http_status_code": http.StatusNotFound,
	})

	return &router{notFound: b}
}

func normalizeContextPath(p string) string {
	p = flow.NormalizePath(p)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}

	return p
}

func (r *router) add(contextPath string, h http.Handler) error {
	cp := normalizeContextPath(contextPath)
	for _, rt := range r.routes {
		if rt.contextPath == cp {
			return fmt.Errorf("duplicate context path: %s", cp)
		}
	}

	r.routes = append(r.routes, route{contextPath: cp, handler: h})
	slices.SortStableFunc(r.routes, func(a, b route) int {
		return len(b.contextPath) - len(a.contextPath)
	})

	return nil
}

func matchContextPath(cp, p string) bool {
	if cp == "/" {
		return true
	}

	return p == cp || strings.HasPrefix(p, cp+"/")
}

func (r *router) match(path string) http.Handler {
	p := flow.NormalizePath(path)
	for _, rt := range r.routes {
		if matchContextPath(rt.contextPath, p) {
			return rt.handler
		}
	}

	return nil
}

func (r *router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h := r.match(req.URL.Path); h != nil {
		h.ServeHTTP(w, req)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(r.notFound)))
	w.WriteHeader(http.StatusNotFound)
	w.Write(r.notFound)
}
