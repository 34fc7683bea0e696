package server

import "net/http"

// Middleware decorates a handler.
type Middleware func(http.Handler) http.Handler

// Handler serves a fixed set of mux patterns.
type Handler interface {
	http.Handler
	Routes() []string
}

// Router mounts handlers behind a shared middleware stack.
type Router interface {
	http.Handler

	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler)
	Handler(handler Handler)
	Routes() []string
}

var _ Router = (*BasicRouter)(nil)
