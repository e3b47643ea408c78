package sapi

import (
	"github.com/caffeineduck/scriptgate/headers"
)

// Protocol numbers as kept in RequestInfo.ProtoNum.
const (
	ProtoHTTP10 = 100
	ProtoHTTP11 = 110
	ProtoHTTP20 = 200
)

// DefaultProtoNum is the protocol number engines fall back to when a request
// starts. The request cycle raises it to ProtoHTTP11 once the engine's
// request startup has run.
const DefaultProtoNum = ProtoHTTP10

// RequestInfo is the request half of the engine's global state. Every string
// here is an owned copy made by the projector.
type RequestInfo struct {
	Method         string
	PathTranslated string
	QueryString    string
	RequestURI     string
	ContentType    string
	ContentLength  int64
	CookieData     string
	Argc           int
	Argv           []string
	ProtoNum       int

	// Headers is a private clone of the request headers.
	Headers *headers.Collection
}

// ExecutorGlobals holds the engine's fault slot and exit status.
type ExecutorGlobals struct {
	Exception  *Fault
	ExitStatus int
}

// Globals is the single mutable record an engine instance reads and writes
// while a request runs. One logical request owns it at a time.
type Globals struct {
	Request  RequestInfo
	Headers  SAPIHeaders
	Executor ExecutorGlobals
}

// NewGlobals returns globals in their idle state.
func NewGlobals() *Globals {
	g := &Globals{}
	g.Reset()
	return g
}

// ResetScalars clears argc/argv and the response status bookkeeping. It runs at
// the start of every request cycle.
func (g *Globals) ResetScalars() {
	g.Request.Argc = 0
	g.Request.Argv = nil
	g.Headers.ResponseCode = 200
	g.Headers.Sent = false
}

// ReleaseRequest drops every projected request field.
func (g *Globals) ReleaseRequest() {
	g.Request = RequestInfo{}
}

// Reset returns the globals to the idle state, releasing any pending fault.
func (g *Globals) Reset() {
	if f := g.Executor.Exception; f != nil {
		f.Release()
	}
	g.Request = RequestInfo{}
	g.Headers = SAPIHeaders{ResponseCode: 200}
	g.Executor = ExecutorGlobals{}
}

// Idle reports whether nothing from a previous request is left behind.
func (g *Globals) Idle() bool {
	r := g.Request
	return r.Method == "" &&
		r.PathTranslated == "" &&
		r.QueryString == "" &&
		r.RequestURI == "" &&
		r.ContentType == "" &&
		r.ContentLength == 0 &&
		r.CookieData == "" &&
		r.Argc == 0 &&
		r.Argv == nil &&
		r.Headers == nil &&
		g.Headers.ResponseCode == 200 &&
		g.Headers.MimeType == "" &&
		!g.Headers.Sent &&
		len(g.Headers.Lines) == 0 &&
		g.Executor.Exception == nil &&
		g.Executor.ExitStatus == 0
}
