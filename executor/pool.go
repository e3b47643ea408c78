package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/handler"
	"github.com/caffeineduck/scriptgate/sapi"
)

var ErrPoolClosed = errors.New("pool closed")

// Pool runs requests concurrently across independent executors. Each executor
// owns its engine and globals and serves one request at a time.
type Pool struct {
	all  []*Executor
	free chan *Executor

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size executors, each wrapping an engine built by factory. If
// any executor fails to start the ones already started are stopped.
func NewPool(size int, factory func() (sapi.Engine, error), opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	p := &Pool{free: make(chan *Executor, size)}
	for i := range size {
		engine, err := factory()
		if err != nil {
			p.stopAll()
			return nil, fmt.Errorf("create engine %d: %w", i, err)
		}
		e := New(engine, opts...)
		if err := e.Start(); err != nil {
			p.stopAll()
			return nil, err
		}
		p.all = append(p.all, e)
		p.free <- e
	}

	Logger().Info("pool started", zap.Int("size", size))
	return p, nil
}

// Size returns the number of executors.
func (p *Pool) Size() int { return len(p.all) }

// Stats sums the counters of every executor.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, e := range p.all {
		es := e.Stats()
		s.Requests += es.Requests
		s.Faults += es.Faults
		s.InfraFailures += es.InfraFailures
		s.Headers += es.Headers
	}
	return s
}

func (p *Pool) acquire(ctx context.Context) (*Executor, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case e := <-p.free:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) release(e *Executor) {
	p.free <- e
}

// Run waits for a free executor and runs the request on it. If ctx ends first
// the outcome is an InfraFailure carrying ctx.Err().
func (p *Pool) Run(ctx context.Context, source, filename string, req *handler.Request) Outcome {
	e, err := p.acquire(ctx)
	if err != nil {
		return failed(err)
	}
	defer p.release(e)
	return e.Run(ctx, source, filename, req)
}

// Handle implements handler.Handler on a free executor.
func (p *Pool) Handle(ctx context.Context, req *handler.Request) (*handler.Response, error) {
	e, err := p.acquire(ctx)
	if err != nil {
		return handler.Empty(), err
	}
	defer p.release(e)
	return e.Handle(ctx, req)
}

// Close stops every executor. Requests in flight finish first.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.stopAll()
}

func (p *Pool) stopAll() error {
	var errs []error
	for _, e := range p.all {
		if err := e.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
