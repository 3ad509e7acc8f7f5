// Package kit holds the small transport-agnostic building blocks shared by
// the dombind bridges: the Endpoint function type, middleware chaining,
// request-scoped context keys, and the MCP tool registration helper.
package kit

import "context"

// Endpoint is a transport-agnostic operation: typed request in, typed
// response out. Connectivity handlers, MCP tools, and HTTP routes all wrap
// the same Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
