// Package wasi runs scripts through a WASI interpreter module under wazero,
// CGI style.
//
// Each request instantiates the interpreter fresh. Server variables become
// the environment, the request body is stdin, and stdout is read as a CGI
// response: header lines, a blank line, then the body. Lines on stderr go to
// the request log. A non-zero exit status is a script fault whose message is
// the last stderr line.
//
// With a host function registry configured, stderr also carries host calls
// and stdin carries their replies. The request body is then available to the
// guest as the file named by REQUEST_BODY_FILE.
package wasi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing/fstest"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/hostfunc"
	"github.com/caffeineduck/scriptgate/sapi"
)

const (
	pageSize = 64 << 10
	maxPages = 65536

	bodyMount = "/request"
	bodyFile  = bodyMount + "/body"
)

var errNotStarted = errors.New("wasi engine not started")

// Option configures the engine.
type Option func(*config)

type config struct {
	registry     *hostfunc.Registry
	timeout      time.Duration
	cache        wazero.CompilationCache
	cacheDir     string
	mountDocroot bool
	env          map[string]string
	logger       *zap.Logger
}

func defaultConfig() config {
	return config{
		env:    map[string]string{},
		logger: zap.NewNop(),
	}
}

// WithRegistry enables host calls over stderr.
func WithRegistry(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithTimeout closes the guest when a script runs longer than d.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithCompilationCache shares compiled code between engines, typically the
// members of a pool. The engine does not close it.
func WithCompilationCache(cache wazero.CompilationCache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithCacheDir keeps compiled code on disk under dir. Ignored when a shared
// cache is set.
func WithCacheDir(dir string) Option {
	return func(c *config) {
		c.cacheDir = dir
	}
}

// WithDocrootMount mounts the request document root read-only at the same
// path inside the guest.
func WithDocrootMount() Option {
	return func(c *config) {
		c.mountDocroot = true
	}
}

// WithEnv adds an environment variable for every request. Server variables
// take precedence.
func WithEnv(key, value string) Option {
	return func(c *config) {
		c.env[key] = value
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
	cfg     config
	interp  Interpreter
	globals *sapi.Globals
	module  *sapi.Module

	runtime  wazero.Runtime
	ownCache wazero.CompilationCache
	compiled wazero.CompiledModule
	started  bool
	rc       *sapi.RequestContext
}

// New returns an engine running interp.
func New(interp Interpreter, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry != nil {
		cfg.registry = cfg.registry.Clone()
		hostfunc.RegisterRequest(cfg.registry)
	}
	return &Engine{cfg: cfg, interp: interp, globals: sapi.NewGlobals()}
}

func (e *Engine) Name() string { return "wasi:" + e.interp.Name() }

func (e *Engine) Globals() *sapi.Globals { return e.globals }

// Startup creates the runtime and compiles the interpreter. memory_limit
// bounds guest memory.
func (e *Engine) Startup(m *sapi.Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", sapi.ErrStartup)
	}
	ctx := context.Background()

	cache := e.cfg.cache
	if cache == nil && e.cfg.cacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(e.cfg.cacheDir)
		if err != nil {
			return fmt.Errorf("%w: create disk cache: %w", sapi.ErrStartup, err)
		}
		e.ownCache = c
		cache = c
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if pages := memoryPages(m.INI.Bytes("memory_limit")); pages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(pages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		e.closeRuntime(ctx, rt)
		return fmt.Errorf("%w: instantiate WASI: %w", sapi.ErrStartup, err)
	}

	compiled, err := rt.CompileModule(ctx, e.interp.Module())
	if err != nil {
		e.closeRuntime(ctx, rt)
		return fmt.Errorf("%w: compile %s: %w", sapi.ErrStartup, e.interp.Name(), err)
	}

	e.runtime = rt
	e.compiled = compiled
	e.module = m
	e.started = true
	e.cfg.logger.Debug("wasi engine compiled", zap.String("interpreter", e.interp.Name()))
	return nil
}

func (e *Engine) closeRuntime(ctx context.Context, rt wazero.Runtime) {
	rt.Close(ctx)
	if e.ownCache != nil {
		e.ownCache.Close(ctx)
		e.ownCache = nil
	}
}

// Shutdown releases the runtime and any cache the engine created.
func (e *Engine) Shutdown() error {
	if !e.started {
		return nil
	}
	e.started = false
	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.ownCache != nil {
		if err := e.ownCache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		e.ownCache = nil
	}
	return errors.Join(errs...)
}

func (e *Engine) Activate() error {
	if !e.started {
		return errNotStarted
	}
	if e.rc != nil {
		return errors.New("previous request still active")
	}
	return nil
}

func (e *Engine) RequestStartup(ctx context.Context, rc *sapi.RequestContext) error {
	if !e.started {
		return errNotStarted
	}
	e.rc = rc
	rc.Globals.Request.ProtoNum = sapi.DefaultProtoNum
	return nil
}

// Eval runs one guest instance to completion.
func (e *Engine) Eval(ctx context.Context, rc *sapi.RequestContext, source, filename string) error {
	if e.rc == nil || e.rc != rc {
		return errors.New("no request started")
	}
	if e.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.timeout)
		defer cancel()
	}

	stdout := &cgiWriter{
		header: func(line string) { e.header(rc, line) },
		body:   func(p []byte) (int, error) { return sapi.Write(e.module, rc, p) },
	}
	stderr := &lineWriter{fn: func(line string) {
		e.module.Log(rc, line, sapi.LogNotice)
	}}

	mc := wazero.NewModuleConfig().
		WithName("").
		WithArgs(e.interp.Args(source, filename)...).
		WithStdout(stdout)
	for k, v := range e.cfg.env {
		mc = mc.WithEnv(k, v)
	}
	for _, kv := range e.module.ServerVariables(rc).Environ() {
		k, v, _ := strings.Cut(kv, "=")
		mc = mc.WithEnv(k, v)
	}

	fsConfig := wazero.NewFSConfig()
	if e.cfg.mountDocroot {
		if dir := rc.Request.Docroot(); dir != "" {
			fsConfig = fsConfig.WithReadOnlyDirMount(dir, dir)
		}
	}

	var calls *hostcalls
	var stdinR *io.PipeReader
	body := &bodyReader{module: e.module, rc: rc}
	if e.cfg.registry != nil {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		fsConfig = fsConfig.WithFSMount(fstest.MapFS{
			"body": &fstest.MapFile{Data: data, Mode: 0o444},
		}, bodyMount)
		mc = mc.WithEnv("REQUEST_BODY_FILE", bodyFile)

		var stdinW *io.PipeWriter
		stdinR, stdinW = io.Pipe()
		// a guest blocked reading stdin is not interrupted by the runtime
		stop := context.AfterFunc(ctx, func() { stdinR.Close() })
		defer stop()
		calls = newHostcalls(ctx, e.cfg.registry, stdinW, stderr, func() {
			sapi.Flush(e.module, rc)
		})
		mc = mc.WithStdin(stdinR).WithStderr(calls)
	} else {
		mc = mc.WithStdin(body).WithStderr(stderr)
	}
	mc = mc.WithFSConfig(fsConfig)

	mod, runErr := e.runtime.InstantiateModule(ctx, e.compiled, mc)
	if mod != nil {
		mod.Close(context.Background())
	}
	if calls != nil {
		stdinR.Close()
		calls.Close()
	}
	stderr.Close()
	if err := stdout.Close(); err != nil {
		return err
	}

	if msg, ok := e.faultMessage(ctx, runErr, stderr.Last()); ok {
		rc.Globals.Executor.Exception = sapi.NewMessageFault(msg)
	}
	return nil
}

// faultMessage classifies the instantiation result. A clean exit is not a
// fault unless the deadline passed first.
func (e *Engine) faultMessage(ctx context.Context, err error, lastLine string) (string, bool) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("execution timed out after %v", e.cfg.timeout), true
	case errors.Is(ctx.Err(), context.Canceled):
		return "execution canceled", true
	case err == nil:
		return "", false
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == 0 {
			return "", false
		}
		e.rc.Globals.Executor.ExitStatus = int(code)
		if lastLine != "" {
			return lastLine, true
		}
		return fmt.Sprintf("exit status %d", code), true
	}
	return err.Error(), true
}

func (e *Engine) header(rc *sapi.RequestContext, line string) {
	if err := rc.Globals.Headers.Header(line, false); err != nil {
		e.module.Log(rc, "Warning: "+err.Error(), sapi.LogWarning)
	}
}

func (e *Engine) RequestShutdown(rc *sapi.RequestContext) {
	e.rc = nil
	if err := e.module.DeactivateRequest(rc); err != nil {
		e.cfg.logger.Debug("deactivate", zap.Error(err))
	}
}

func (e *Engine) Flush(rc *sapi.RequestContext) {
	sapi.Flush(e.module, rc)
}

// bodyReader pulls the request body through the read-post hook.
type bodyReader struct {
	module *sapi.Module
	rc     *sapi.RequestContext
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := b.module.ReadBody(b.rc, p)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func memoryPages(limit int64) uint32 {
	if limit <= 0 {
		return 0
	}
	pages := limit / pageSize
	switch {
	case pages < 1:
		return 1
	case pages > maxPages:
		return maxPages
	}
	return uint32(pages)
}

// DefaultCacheDir returns the directory used for the on-disk compilation
// cache.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "scriptgate")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "scriptgate")
	}
	return filepath.Join(os.TempDir(), "scriptgate-cache")
}
