package sapi

import (
	"context"

	"github.com/caffeineduck/scriptgate/handler"
)

// RequestContext is the per-request handle every hook receives. It is created
// by the request cycle before the engine starts the request and discarded
// after the response is built.
type RequestContext struct {
	ID       string
	Request  *handler.Request
	Response *handler.ResponseBuilder
	Globals  *Globals

	// Filename is the script path the engine is running.
	Filename string
}

// NewRequestContext pairs a request with a fresh response builder.
func NewRequestContext(id string, req *handler.Request, g *Globals) *RequestContext {
	return &RequestContext{
		ID:       id,
		Request:  req,
		Response: handler.NewResponseBuilder(),
		Globals:  g,
	}
}

type contextKey struct{}

// WithRequestContext returns a child of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// RequestContextFrom returns the request context stored in ctx, if any.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
