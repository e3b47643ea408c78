package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/scriptgate/handler/rewrite"
)

// Config is the scriptgate configuration file. Flags override it.
//
//	listen: ":8080"
//	docroot: ./public
//	engine: js
//	kv:
//	  enabled: true
//	rewrite:
//	  - when: {exists: false}
//	    path: {pattern: "^/(.*)$", replacement: "/index.js/$1"}
type Config struct {
	Listen      string         `yaml:"listen"`
	Docroot     string         `yaml:"docroot"`
	Index       string         `yaml:"index"`
	Engine      string         `yaml:"engine"`
	PoolSize    int            `yaml:"pool_size"`
	MaxBodySize int64          `yaml:"max_body_size"`
	Timeout     time.Duration  `yaml:"timeout"`
	WASI        WASIConfig     `yaml:"wasi"`
	KV          KVConfig       `yaml:"kv"`
	Fetch       FetchConfig    `yaml:"fetch"`
	Files       bool           `yaml:"files"`
	Rewrite     []rewrite.Rule `yaml:"rewrite"`
}

type WASIConfig struct {
	Module       string            `yaml:"module"`
	Args         string            `yaml:"args"`
	CacheDir     string            `yaml:"cache_dir"` // "default" selects the user cache directory
	MountDocroot bool              `yaml:"mount_docroot"`
	Env          map[string]string `yaml:"env"`
}

type KVConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxKeySize   int  `yaml:"max_key_size"`
	MaxValueSize int  `yaml:"max_value_size"`
	MaxEntries   int  `yaml:"max_entries"`
}

type FetchConfig struct {
	AllowedHosts []string      `yaml:"allowed_hosts"`
	MaxBodySize  int64         `yaml:"max_body_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

func defaultConfig() Config {
	return Config{
		Listen:   ":8080",
		Docroot:  ".",
		Index:    "index.js",
		Engine:   "js",
		PoolSize: runtime.NumCPU(),
		Timeout:  30 * time.Second,
		WASI:     WASIConfig{Args: "inline"},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line. Flags a
// command does not define are never changed.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine, _ = flags.GetString("engine")
	}
	if flags.Changed("wasi-module") {
		cfg.WASI.Module, _ = flags.GetString("wasi-module")
	}
	if flags.Changed("wasi-args") {
		cfg.WASI.Args, _ = flags.GetString("wasi-args")
	}
	if flags.Changed("docroot") {
		cfg.Docroot, _ = flags.GetString("docroot")
	}
	if flags.Changed("index") {
		cfg.Index, _ = flags.GetString("index")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-body") {
		cfg.MaxBodySize, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("kv") {
		cfg.KV.Enabled, _ = flags.GetBool("kv")
	}
	if flags.Changed("allow-host") {
		cfg.Fetch.AllowedHosts, _ = flags.GetStringSlice("allow-host")
	}
	if flags.Changed("files") {
		cfg.Files, _ = flags.GetBool("files")
	}
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("pool") {
		cfg.PoolSize, _ = flags.GetInt("pool")
	}
}

func (c Config) validate() error {
	switch c.Engine {
	case "js":
	case "wasi":
		if c.WASI.Module == "" {
			return errors.New("wasi engine requires a module (--wasi-module)")
		}
		if c.WASI.Args != "inline" && c.WASI.Args != "file" {
			return fmt.Errorf("unknown wasi args mode %q: use inline or file", c.WASI.Args)
		}
	default:
		return fmt.Errorf("unknown engine %q: use js or wasi", c.Engine)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	}
	return nil
}

// resolveConfig loads the config file named by --config and applies flags.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}
	applyFlags(cmd, &cfg)
	return cfg, cfg.validate()
}
