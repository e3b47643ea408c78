// Package sapi is the embedding API between the request cycle and a script
// engine.
//
// It defines the engine's global request state ([Globals]), the hook table
// the host hands to the engine ([Module]), the fixed runtime directives
// ([DefaultINI]), the per-request handle every hook receives
// ([RequestContext]) and the [Engine] interface concrete interpreters
// implement.
//
// Hooks never look up a "current" request: the request context is always
// passed in. Host functions reached through a [context.Context] can recover it
// with [RequestContextFrom].
package sapi
