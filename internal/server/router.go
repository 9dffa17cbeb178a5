package server

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// BasicRouter is a simple HTTP router implementing the [Router] interface.
//
// Paths match exactly. A known path requested with an unregistered method gets a 405 with an
// Allow header; an unknown path gets a 404. Both carry a JSON "detail" body like the real backend's.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware

	mu     sync.RWMutex
	routes map[string]map[string]http.Handler // path -> method -> handler
}

// NewBasicRouter creates a new [BasicRouter] instance.
func NewBasicRouter() *BasicRouter {
	r := &BasicRouter{
		mux:         http.NewServeMux(),
		middlewares: []Middleware{},
		routes:      map[string]map[string]http.Handler{},
	}
	r.mux.Handle("/", http.HandlerFunc(r.dispatch))
	return r
}

// Use adds [Middleware] to the [Router] instance's middleware stack, applied in the order it's added.
//
// Middleware wraps every request, including 404 and 405 replies.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers handler for method and path. Registering the same pair twice replaces the handler.
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	methods, ok := r.routes[path]
	if !ok {
		methods = map[string]http.Handler{}
		r.routes[path] = methods
	}
	methods[strings.ToUpper(method)] = handler
}

// Handler registers every [Route] of handler.
func (r *BasicRouter) Handler(handler Handler) {
	for _, route := range handler.Routes() {
		r.Handle(route.Method, route.Path, route.Handler)
	}
}

// ServeHTTP implements [http.Handler] for the entire router.
func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Apply(r.mux).ServeHTTP(w, req)
}

// Apply wraps a handler with all registered middleware.
//
// Middleware is applied in reverse order (last added wraps first).
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	wrapped := handler

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}

	return wrapped
}

// Allowed returns the methods registered for path, sorted.
func (r *BasicRouter) Allowed(path string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.routes[path]))
	for method := range r.routes[path] {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

func (r *BasicRouter) dispatch(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	methods, known := r.routes[req.URL.Path]
	handler := methods[req.Method]
	r.mu.RUnlock()

	switch {
	case !known:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	case handler == nil:
		w.Header().Set("Allow", strings.Join(r.Allowed(req.URL.Path), ", "))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
	default:
		handler.ServeHTTP(w, req)
	}
}
