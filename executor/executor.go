package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/handler"
	"github.com/caffeineduck/scriptgate/sapi"
)

var (
	ErrNotStarted     = errors.New("executor not started")
	ErrAlreadyStarted = errors.New("executor already started")
	ErrStopped        = errors.New("executor stopped")
	ErrBusy           = errors.New("executor busy")
)

// State is the lifecycle state of an Executor.
type State int32

const (
	Uninitialized State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats counts request cycle results for one executor.
type Stats struct {
	Requests      int64
	Faults        int64
	InfraFailures int64
	Headers       int64
}

type counters struct {
	requests atomic.Int64
	faults   atomic.Int64
	infra    atomic.Int64
	headers  atomic.Int64
}

// Executor drives one engine instance through the request cycle. It serves one
// request at a time; use a Pool for concurrency.
type Executor struct {
	engine sapi.Engine
	module *sapi.Module
	cfg    config

	mu    sync.RWMutex
	state State

	running atomic.Bool
	stats   counters
}

// New wraps engine. The engine is not started until Start is called.
func New(engine sapi.Engine, opts ...Option) *Executor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &Executor{engine: engine, cfg: cfg}
	e.module = e.newModule()
	return e
}

// Engine returns the wrapped engine.
func (e *Executor) Engine() sapi.Engine { return e.engine }

// State returns the lifecycle state.
func (e *Executor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Requests:      e.stats.requests.Load(),
		Faults:        e.stats.faults.Load(),
		InfraFailures: e.stats.infra.Load(),
		Headers:       e.stats.headers.Load(),
	}
}

// Start installs the hook table and bootstraps the engine. A bootstrap failure
// wraps sapi.ErrStartup.
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Started:
		return ErrAlreadyStarted
	case Stopped:
		return ErrStopped
	}

	if err := e.engine.Startup(e.module); err != nil {
		if errors.Is(err, sapi.ErrStartup) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", sapi.ErrStartup, e.engine.Name(), err)
	}

	e.state = Started
	Logger().Info("engine started", zap.String("engine", e.engine.Name()))
	return nil
}

// Stop shuts the engine down. Calling Stop again is a no-op.
func (e *Executor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Stopped:
		return nil
	case Uninitialized:
		e.state = Stopped
		return nil
	}

	e.state = Stopped
	if err := e.engine.Shutdown(); err != nil {
		return fmt.Errorf("shutdown %s: %w", e.engine.Name(), err)
	}
	Logger().Info("engine stopped", zap.String("engine", e.engine.Name()))
	return nil
}

// Run executes source against req and returns the outcome. filename is used
// for diagnostics and SCRIPT_FILENAME. Run is not reentrant: a call made while
// another is in progress on the same executor returns ErrBusy without touching
// engine state.
func (e *Executor) Run(ctx context.Context, source, filename string, req *handler.Request) Outcome {
	if !e.running.CompareAndSwap(false, true) {
		return failed(ErrBusy)
	}
	defer e.running.Store(false)

	// Stop waits for the cycle in progress.
	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	out := e.run(ctx, source, filename, req)

	e.stats.requests.Add(1)
	fields := []zap.Field{
		zap.String("engine", e.engine.Name()),
		zap.String("script", filename),
		zap.Stringer("outcome", out.Kind),
		zap.Int("status", out.Response.Status()),
		zap.Duration("duration", time.Since(start)),
	}
	switch out.Kind {
	case ScriptFault:
		e.stats.faults.Add(1)
		Logger().Debug("request finished", append(fields, zap.String("fault", out.Message))...)
	case InfraFailure:
		e.stats.infra.Add(1)
		Logger().Warn("request failed", append(fields, zap.Error(out.Err))...)
	default:
		Logger().Debug("request finished", fields...)
	}
	return out
}

func (e *Executor) run(ctx context.Context, source, filename string, req *handler.Request) Outcome {
	if st := e.state; st != Started {
		if st == Stopped {
			return failed(ErrStopped)
		}
		return failed(ErrNotStarted)
	}

	g := e.engine.Globals()

	// 1. response builder, owned by the request context
	rc := sapi.NewRequestContext(uuid.NewString(), req, g)
	rc.Filename = filename

	var activated, started, ended bool
	defer func() {
		switch {
		case started && !ended:
			e.engine.RequestShutdown(rc)
		case activated && !started:
			if err := e.module.DeactivateRequest(rc); err != nil {
				Logger().Debug("deactivate after failed start", zap.String("request_id", rc.ID), zap.Error(err))
			}
		}
		g.Reset()
	}()

	// 2. activation
	if err := e.engine.Activate(); err != nil {
		return failed(wrap(sapi.ErrActivation, err))
	}
	activated = true

	// 3. request context
	ctx = sapi.WithRequestContext(ctx, rc)

	// 4-5. reset scalars, project the request
	g.ResetScalars()
	for _, w := range project(g, req, filename, e.argv()) {
		e.module.Log(rc, w, sapi.LogWarning)
	}

	// 6. request start
	if err := e.engine.RequestStartup(ctx, rc); err != nil {
		return failed(wrap(sapi.ErrRequestStart, err))
	}
	started = true

	// 7
	g.Request.ProtoNum = sapi.ProtoHTTP11

	// 8
	if err := e.engine.Eval(ctx, rc, source, filename); err != nil {
		return failed(err)
	}

	// 9
	msg, fault := translateFault(e.module, rc)

	// 10
	e.finalizeHeaders(rc)

	// 11
	e.engine.RequestShutdown(rc)
	ended = true

	// 12
	releaseProjection(g)

	// 13
	e.engine.Flush(rc)

	// 14
	resp := rc.Response.Build()
	if fault {
		return faulted(resp, msg)
	}
	return succeeded(resp)
}

// finalizeHeaders copies status, mime type and script header lines from the
// globals into the response.
func (e *Executor) finalizeHeaders(rc *sapi.RequestContext) {
	h := rc.Globals.Headers

	mime := h.MimeType
	if mime == "" {
		mime = "text/plain"
	}
	rc.Response.Status(h.ResponseCode)
	rc.Response.SetHeader("Content-Type", mime)
	for _, l := range h.Lines {
		rc.Response.Header(l.Name, l.Value)
	}
}

func (e *Executor) argv() []string {
	if !e.module.INI.Bool("register_argc_argv") {
		return nil
	}
	return e.cfg.argv
}

// Handle resolves the request path to a script under the docroot and runs it.
// Infrastructure failures are returned as errors alongside the empty response.
func (e *Executor) Handle(ctx context.Context, req *handler.Request) (*handler.Response, error) {
	docroot := req.Docroot()
	if docroot == "" {
		docroot = e.cfg.docroot
	}
	filename, err := TranslatePath(docroot, req.Path(), e.cfg.index)
	if err != nil {
		return handler.Empty(), err
	}
	source, err := os.ReadFile(filename)
	if err != nil {
		return handler.Empty(), fmt.Errorf("read script: %w", err)
	}

	out := e.Run(ctx, string(source), filename, req)
	if out.Kind == InfraFailure {
		return out.Response, out.Err
	}
	return out.Response, nil
}

func wrap(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
