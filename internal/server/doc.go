// Package server provides HTTP routing, middleware, and a mock upscaler backend for local development.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation matches exact paths and answers unknown paths with 404 and
// known paths with the wrong method with 405 plus an Allow header, both as JSON "detail" bodies.
//
// # Middleware
//
// [Logging] writes one line per request. [Recover] turns panics into 500 responses.
// [BearerAuth] checks the token clients send via the credentials config.
//
// # Mock Backend
//
// [MockBackend] speaks the upscaler's HTTP protocol: health, model loading, server info, the synchronous
// upscale, and the server-sent event stream. It does no image work; results echo the uploaded image.
//
// [MockOpts] control the number and pacing of progress events and can inject failures:
//   - NoML takes the fallback path, emitting a fallback event before Lanczos-style progress
//   - FailAt sends an error event at the given step
//   - DropAt closes the connection without a terminal event
//
// [Serve] runs a handler until its context is cancelled and then shuts the listener down gracefully.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, returning a [Route] per method and path so the
// route table lives with the implementation.
package server
