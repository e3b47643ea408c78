// Package handler defines the transport-agnostic request and response types
// that flow through the script request cycle.
//
// A transport builds a [Request] with [NewRequest], hands it to a [Handler]
// and renders the returned [Response]. The [ResponseBuilder] is what engine
// hooks write into while a script runs.
package handler

import "context"

// Handler turns one request into one response.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
