package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/executor"
	"github.com/caffeineduck/scriptgate/hostfunc"
	"github.com/caffeineduck/scriptgate/language/javascript"
	"github.com/caffeineduck/scriptgate/language/wasi"
	"github.com/caffeineduck/scriptgate/sapi"
)

// engines builds engine instances for one configuration. Every instance
// shares the host function registry, so KV data is visible to all of them.
type engines struct {
	cfg      Config
	logger   *zap.Logger
	registry *hostfunc.Registry
	interp   wasi.Interpreter
	cache    wazero.CompilationCache
}

func newEngines(cfg Config, logger *zap.Logger) (*engines, error) {
	docroot, err := filepath.Abs(cfg.Docroot)
	if err != nil {
		return nil, fmt.Errorf("docroot: %w", err)
	}
	cfg.Docroot = docroot

	e := &engines{cfg: cfg, logger: logger, registry: newRegistry(cfg)}
	if cfg.Engine != "wasi" {
		return e, nil
	}

	var opts []wasi.BinaryOption
	if cfg.WASI.Args == "file" {
		opts = append(opts, wasi.WithArgs(wasi.FileArgs))
	}
	interp, err := wasi.LoadBinary(cfg.WASI.Module, opts...)
	if err != nil {
		return nil, err
	}
	e.interp = interp

	if dir := cfg.WASI.CacheDir; dir != "" {
		if dir == "default" {
			dir = wasi.DefaultCacheDir()
		}
		cache, err := wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("compilation cache: %w", err)
		}
		e.cache = cache
	} else {
		e.cache = wazero.NewCompilationCache()
	}
	return e, nil
}

func newRegistry(cfg Config) *hostfunc.Registry {
	r := hostfunc.NewRegistry()
	if cfg.KV.Enabled {
		kv := hostfunc.DefaultKVConfig()
		if cfg.KV.MaxKeySize > 0 {
			kv.MaxKeySize = cfg.KV.MaxKeySize
		}
		if cfg.KV.MaxValueSize > 0 {
			kv.MaxValueSize = cfg.KV.MaxValueSize
		}
		if cfg.KV.MaxEntries > 0 {
			kv.MaxEntries = cfg.KV.MaxEntries
		}
		hostfunc.NewKV(kv).Register(r)
	}
	if len(cfg.Fetch.AllowedHosts) > 0 {
		hostfunc.NewFetch(hostfunc.FetchConfig{
			AllowedHosts: cfg.Fetch.AllowedHosts,
			MaxBodySize:  cfg.Fetch.MaxBodySize,
			Timeout:      cfg.Fetch.Timeout,
		}).Register(r)
	}
	if cfg.Files {
		hostfunc.NewFiles("", 0).Register(r)
	}
	return r
}

// New returns a fresh engine instance.
func (e *engines) New() (sapi.Engine, error) {
	switch e.cfg.Engine {
	case "js":
		return javascript.New(
			javascript.WithRegistry(e.registry),
			javascript.WithTimeout(e.cfg.Timeout),
			javascript.WithLogger(e.logger.Named("javascript")),
		), nil
	case "wasi":
		opts := []wasi.Option{
			wasi.WithRegistry(e.registry),
			wasi.WithTimeout(e.cfg.Timeout),
			wasi.WithCompilationCache(e.cache),
			wasi.WithLogger(e.logger.Named("wasi")),
		}
		if e.cfg.WASI.MountDocroot || e.cfg.WASI.Args == "file" {
			opts = append(opts, wasi.WithDocrootMount())
		}
		for k, v := range e.cfg.WASI.Env {
			opts = append(opts, wasi.WithEnv(k, v))
		}
		return wasi.New(e.interp, opts...), nil
	}
	return nil, fmt.Errorf("unknown engine %q", e.cfg.Engine)
}

// executorOptions returns the request cycle options for the configuration.
func (e *engines) executorOptions(extra ...executor.Option) []executor.Option {
	opts := []executor.Option{
		executor.WithDocroot(e.cfg.Docroot),
		executor.WithIndex(e.cfg.Index),
		executor.WithMaxBodySize(e.cfg.MaxBodySize),
		executor.WithServerSoftware("scriptgate"),
	}
	return append(opts, extra...)
}

// Close releases the shared compilation cache. Call it after every engine
// has shut down.
func (e *engines) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close(context.Background())
}
