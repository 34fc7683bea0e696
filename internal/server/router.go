package server

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// BasicRouter implements [Router] on a method-aware [http.ServeMux] and remembers every pattern it registers.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware

	mu       sync.Mutex
	patterns []string
}

// NewBasicRouter returns an empty router.
func NewBasicRouter() *BasicRouter {
	return &BasicRouter{mux: http.NewServeMux()}
}

// Use appends middleware. Middleware only wraps handlers registered after the call.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle mounts handler at "METHOD path".
//
// Paths may carry wildcards such as "/api/jobs/{id}", read back with [http.Request.PathValue]. A path can be
// registered for several methods; any other method gets 405 from the mux.
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	r.register(strings.ToUpper(method)+" "+path, handler)
}

// Handler mounts h at every pattern from [Handler.Routes].
func (r *BasicRouter) Handler(h Handler) {
	wrapped := r.Apply(h)
	for _, pattern := range h.Routes() {
		r.mux.Handle(pattern, wrapped)
		r.record(pattern)
	}
}

// Routes lists the registered patterns in sorted order, so a router is itself a [Handler].
func (r *BasicRouter) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]string(nil), r.patterns...)
	sort.Strings(out)
	return out
}

func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps handler in the middleware stack; the first middleware added is the outermost.
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	return handler
}

func (r *BasicRouter) register(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, r.Apply(handler))
	r.record(pattern)
}

func (r *BasicRouter) record(pattern string) {
	r.mu.Lock()
	r.patterns = append(r.patterns, pattern)
	r.mu.Unlock()
}
