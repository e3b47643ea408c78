package sapi

import (
	"context"
)

// Engine is an embedded script interpreter driven by the request cycle.
//
// An engine instance serves one request at a time. The lifecycle is
// Startup once, then for every request Activate, RequestStartup, Eval,
// RequestShutdown, and finally Shutdown once.
type Engine interface {
	// Name identifies the engine, e.g. "javascript".
	Name() string

	// Startup installs the hook table and bootstraps the interpreter.
	Startup(m *Module) error

	// Shutdown reverses Startup.
	Shutdown() error

	// Activate prepares the interpreter for a new request.
	Activate() error

	// RequestStartup begins a request. On return the request info in
	// Globals has been consumed and ProtoNum reset to DefaultProtoNum.
	RequestStartup(ctx context.Context, rc *RequestContext) error

	// Eval runs source. Script faults are not returned: they are left in
	// Globals().Executor.Exception. A returned error is an infrastructure
	// failure such as ErrWriteRejected.
	Eval(ctx context.Context, rc *RequestContext, source, filename string) error

	// RequestShutdown releases per-request interpreter resources and calls
	// the deactivate hook.
	RequestShutdown(rc *RequestContext)

	// Flush sends pending headers and flushes output.
	Flush(rc *RequestContext)

	// Globals returns the instance's global request state.
	Globals() *Globals
}

// Write hands p to the body-write hook, sending headers first if they have
// not been sent. A short count from the hook is reported as ErrWriteRejected.
func Write(m *Module, rc *RequestContext, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	SendHeaders(m, rc)
	n := m.ubWrite(rc, p)
	if n != len(p) {
		return n, ErrWriteRejected
	}
	if rc.Globals != nil && m.INI.Bool("implicit_flush") {
		m.flush(rc)
	}
	return n, nil
}

// SendHeaders marks headers as sent and offers each one to the
// header-emission hook. It does nothing when headers were already sent.
func SendHeaders(m *Module, rc *RequestContext) {
	g := rc.Globals
	if g == nil || g.Headers.Sent {
		return
	}
	g.Headers.Sent = true

	if g.Headers.MimeType != "" {
		m.sendHeader(rc, HeaderLine{Name: "Content-Type", Value: g.Headers.MimeType})
	}
	for _, l := range g.Headers.Lines {
		m.sendHeader(rc, l)
	}
}

// Flush sends headers and calls the flush hook.
func Flush(m *Module, rc *RequestContext) {
	SendHeaders(m, rc)
	m.flush(rc)
}
