package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownFunc = errors.New("unknown host function")

// Func is a host function. Arguments arrive decoded from JSON; the result is
// encoded back to JSON for the script.
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes name with args. A nil args map is passed as empty.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return fn(ctx, args)
}

// CallRequest is a script's request to run a host function.
type CallRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

// CallResponse carries a host function result back to the script.
type CallResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Dispatch runs req and folds any error into the response.
func (r *Registry) Dispatch(ctx context.Context, req CallRequest) CallResponse {
	result, err := r.Call(ctx, req.Fn, req.Args)
	if err != nil {
		return CallResponse{Error: err.Error()}
	}
	return CallResponse{Data: result}
}

// Clone returns a registry holding the same functions.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	if r == nil {
		return c
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, fn := range r.funcs {
		c.funcs[name] = fn
	}
	return c
}
