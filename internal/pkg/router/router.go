package router

import (
	"net/http"
	"strings"
)

type Middleware func(http.Handler) http.Handler

// Router is a thin wrapper over http.ServeMux that applies a middleware chain and supports prefixed sub routers.
// Patterns may carry a method ("POST /login") the same way ServeMux patterns do.
type Router struct {
	mux        *http.ServeMux
	middleware []Middleware
}

func New() *Router {
	return &Router{
		mux: http.NewServeMux(),
	}
}

func (rt *Router) Use(mw ...Middleware) {
	rt.middleware = append(rt.middleware, mw...)
}

func (rt *Router) Handle(pattern string, handler http.Handler) {
	rt.mux.Handle(normalize(pattern), handler)
}

func (rt *Router) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	rt.mux.HandleFunc(normalize(pattern), handler)
}

// SubRouter mounts a new router under prefix. The sub router starts with an empty middleware chain: requests
// reaching it have already passed through the parent's middleware.
func (rt *Router) SubRouter(prefix string) *Router {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		panic("empty subrouter prefix")
	}

	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	s := &Router{
		mux: http.NewServeMux(),
	}

	rt.mux.Handle(prefix+"/", http.StripPrefix(prefix, s))
	return s
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var h http.Handler = rt.mux
	for i := len(rt.middleware) - 1; i >= 0; i-- {
		h = rt.middleware[i](h)
	}

	h.ServeHTTP(w, r)
}

// normalize makes sure the path part of a pattern starts with a slash, keeping an optional method prefix intact.
func normalize(pattern string) string {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		path, method = pattern, ""
	}

	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	if method == "" {
		return path
	}
	return method + " " + path
}
