// Package javascript is an embedded JavaScript engine for the request cycle,
// built on QuickJS.
//
// Scripts see a small PHP-flavoured API: $_SERVER, $_GET, $_COOKIE and
// $_HEADERS, plus echo, print, header, http_response_code, headers_sent,
// error_log, php_input, read_body, flush, host and request_headers.
// Every request runs in a fresh interpreter, so nothing a script defines
// survives into the next request.
package javascript

import (
	_ "embed"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"modernc.org/quickjs"

	"github.com/caffeineduck/scriptgate/hostfunc"
	"github.com/caffeineduck/scriptgate/sapi"
)

//go:embed prelude.js
var prelude string

// maxRead caps a single read_body call.
const maxRead = 1 << 20

var errNotStarted = errors.New("javascript engine not started")

// Option configures the engine.
type Option func(*config)

type config struct {
	registry *hostfunc.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

func defaultConfig() config {
	return config{logger: zap.NewNop()}
}

// WithRegistry exposes host functions to scripts through host(name, args).
func WithRegistry(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithTimeout interrupts scripts that run longer than d. The interrupted
// script ends with a fault.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Engine implements sapi.Engine. It serves one request at a time.
type Engine struct {
	cfg      config
	registry *hostfunc.Registry
	module   *sapi.Module
	globals  *sapi.Globals
	started  bool

	req *request
}

// New returns an engine. The request_headers and request_info host functions
// are always available.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	registry := cfg.registry.Clone()
	hostfunc.RegisterRequest(registry)

	return &Engine{
		cfg:      cfg,
		registry: registry,
		globals:  sapi.NewGlobals(),
	}
}

func (e *Engine) Name() string { return "javascript" }

func (e *Engine) Globals() *sapi.Globals { return e.globals }

// Startup checks that the prelude compiles in a scratch interpreter.
func (e *Engine) Startup(m *sapi.Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", sapi.ErrStartup)
	}
	vm, err := quickjs.NewVM()
	if err != nil {
		return fmt.Errorf("%w: create vm: %w", sapi.ErrStartup, err)
	}
	defer vm.Close()

	if _, err := vm.Eval(prelude, quickjs.EvalGlobal); err != nil {
		return fmt.Errorf("%w: prelude: %w", sapi.ErrStartup, err)
	}

	e.module = m
	e.started = true
	e.cfg.logger.Debug("javascript engine bootstrapped", zap.String("module", m.Name))
	return nil
}

func (e *Engine) Shutdown() error {
	if e.req != nil {
		e.req.close()
		e.req = nil
	}
	e.started = false
	return nil
}

func (e *Engine) Activate() error {
	if !e.started {
		return errNotStarted
	}
	if e.req != nil {
		return errors.New("previous request still active")
	}
	return nil
}

// RequestStartup creates the request's interpreter and installs the script
// API.
func (e *Engine) RequestStartup(ctx context.Context, rc *sapi.RequestContext) error {
	if !e.started {
		return errNotStarted
	}
	vm, err := quickjs.NewVM()
	if err != nil {
		return fmt.Errorf("create vm: %w", err)
	}
	if limit := e.module.INI.Bytes("memory_limit"); limit > 0 {
		vm.SetMemoryLimit(uintptr(limit))
	}

	r := &request{engine: e, vm: vm, rc: rc, ctx: ctx}
	if err := r.install(); err != nil {
		vm.Close()
		return err
	}

	e.req = r
	rc.Globals.Request.ProtoNum = sapi.DefaultProtoNum
	return nil
}

// Eval runs source. Uncaught exceptions are left in the fault slot.
func (e *Engine) Eval(ctx context.Context, rc *sapi.RequestContext, source, filename string) error {
	r := e.req
	if r == nil || r.rc != rc {
		return errors.New("no request started")
	}
	r.ctx = ctx
	r.source = source
	r.filename = filename

	var timedOut atomic.Bool
	if e.cfg.timeout > 0 {
		watchdog := time.AfterFunc(e.cfg.timeout, func() {
			timedOut.Store(true)
			r.vm.Interrupt()
		})
		defer watchdog.Stop()
	}

	_, err := r.vm.Eval("__sapi_run()", quickjs.EvalGlobal)

	if r.writeErr != nil {
		return r.writeErr
	}
	if err != nil && rc.Globals.Executor.Exception == nil {
		msg := err.Error()
		if timedOut.Load() {
			msg = fmt.Sprintf("execution timed out after %v", e.cfg.timeout)
		}
		rc.Globals.Executor.Exception = sapi.NewMessageFault(msg)
	}
	return nil
}

// RequestShutdown closes the request's interpreter.
func (e *Engine) RequestShutdown(rc *sapi.RequestContext) {
	if e.req != nil {
		e.req.close()
		e.req = nil
	}
	if err := e.module.DeactivateRequest(rc); err != nil {
		e.cfg.logger.Debug("deactivate", zap.Error(err))
	}
}

func (e *Engine) Flush(rc *sapi.RequestContext) {
	sapi.Flush(e.module, rc)
}

// request is the interpreter and bookkeeping for one request.
type request struct {
	engine *Engine
	vm     *quickjs.VM
	rc     *sapi.RequestContext
	ctx    context.Context
	closed bool

	source   string
	filename string
	writeErr error
}

func (r *request) close() {
	if r.closed {
		return
	}
	r.closed = true
	r.vm.Close()
}

func (r *request) install() error {
	funcs := map[string]any{
		"__sapi_write":           r.write,
		"__sapi_header":          r.header,
		"__sapi_header_remove":   r.headerRemove,
		"__sapi_status":          r.status,
		"__sapi_headers_sent":    r.headersSent,
		"__sapi_log":             r.log,
		"__sapi_read":            r.read,
		"__sapi_flush":           r.flush,
		"__sapi_server":          r.server,
		"__sapi_query":           r.query,
		"__sapi_cookies":         r.cookies,
		"__sapi_request_headers": r.requestHeaders,
		"__sapi_host":            r.host,
		"__sapi_source":          func() string { return r.source },
		"__sapi_fault":           r.fault,
	}
	for name, fn := range funcs {
		if err := r.vm.RegisterFunc(name, fn, false); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	if _, err := r.vm.Eval(prelude, quickjs.EvalGlobal); err != nil {
		return fmt.Errorf("prelude: %w", err)
	}
	return nil
}

func (r *request) warn(format string, args ...any) {
	r.engine.module.Log(r.rc, "Warning: "+fmt.Sprintf(format, args...), sapi.LogWarning)
}

func (r *request) write(s string) int {
	n, err := sapi.Write(r.engine.module, r.rc, []byte(s))
	if err != nil {
		r.writeErr = err
		return -1
	}
	return n
}

func (r *request) header(line string, replace int) int {
	if err := r.rc.Globals.Headers.Header(line, replace != 0); err != nil {
		r.warn("header(): %v", err)
		return 0
	}
	return 1
}

func (r *request) headerRemove(name string) int {
	if err := r.rc.Globals.Headers.Remove(name); err != nil {
		r.warn("header_remove(): %v", err)
		return 0
	}
	return 1
}

func (r *request) status(code int) int {
	h := &r.rc.Globals.Headers
	prev := h.ResponseCode
	if code != 0 {
		if err := h.SetResponseCode(code); err != nil {
			r.warn("http_response_code(): %v", err)
		}
	}
	return prev
}

func (r *request) headersSent() int {
	if r.rc.Globals.Headers.Sent {
		return 1
	}
	return 0
}

func (r *request) log(msg string) int {
	r.engine.module.Log(r.rc, msg, sapi.LogNotice)
	return 0
}

func (r *request) read(n int) string {
	if n <= 0 {
		return ""
	}
	if n > maxRead {
		n = maxRead
	}
	buf := make([]byte, n)
	k := r.engine.module.ReadBody(r.rc, buf)
	return string(buf[:k])
}

func (r *request) flush() int {
	sapi.Flush(r.engine.module, r.rc)
	return 0
}

func (r *request) server() string {
	vars := r.engine.module.ServerVariables(r.rc)
	out := make(map[string]any, vars.Len()+2)
	for k, v := range vars.Map() {
		out[k] = v
	}
	if r.engine.module.INI.Bool("register_argc_argv") {
		info := r.rc.Globals.Request
		out["argv"] = info.Argv
		out["argc"] = info.Argc
	}
	return encode(out)
}

func (r *request) query() string {
	return encode(parseQuery(r.rc.Globals.Request.QueryString))
}

func (r *request) cookies() string {
	c, _ := r.engine.module.Cookies(r.rc)
	return encode(parseCookies(c))
}

func (r *request) requestHeaders() string {
	out := map[string]string{}
	r.rc.Globals.Request.Headers.Each(func(key string, values []string) bool {
		out[key] = strings.Join(values, ", ")
		return true
	})
	return encode(out)
}

func (r *request) host(name, args string) string {
	call := hostfunc.CallRequest{Fn: name}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &call.Args); err != nil {
			return encode(hostfunc.CallResponse{Error: "invalid arguments"})
		}
	}
	return encode(r.engine.registry.Dispatch(r.ctx, call))
}

// fault stores the value caught by __sapi_run as the pending fault. The
// message is read from the interpreter only when asked for.
func (r *request) fault() int {
	g := r.rc.Globals
	if g.Executor.Exception != nil {
		g.Executor.Exception.Release()
	}
	g.Executor.Exception = sapi.NewFault(r, r.faultMessage, r.releaseFault)
	return 0
}

func (r *request) faultMessage() (string, error) {
	if r.closed {
		return "", errors.New("interpreter closed")
	}
	v, err := r.vm.Eval("__sapi_message()", quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("message is %T", v)
	}
	return s, nil
}

func (r *request) releaseFault() {
	if r.closed {
		return
	}
	_, _ = r.vm.Eval("delete globalThis.__sapi_pending", quickjs.EvalGlobal)
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// parseQuery decodes a query string. Keys ending in "[]" collect every value
// into a list; other keys keep their last value.
func parseQuery(raw string) map[string]any {
	out := map[string]any{}
	values, _ := url.ParseQuery(raw)
	for k, vs := range values {
		if name, ok := strings.CutSuffix(k, "[]"); ok {
			out[name] = vs
			continue
		}
		out[k] = vs[len(vs)-1]
	}
	return out
}

// parseCookies splits a Cookie header into name/value pairs, URL-decoding
// values.
func parseCookies(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		if _, seen := out[name]; !seen {
			out[name] = value
		}
	}
	return out
}
