package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caffeineduck/scriptgate/executor"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scriptgate",
		Short: "Serve scripts through an embedded JavaScript or WASI engine",
		Long: `scriptgate - run server-side scripts the way a web server module does.

Each request gets a fresh engine state: the request is projected into the
script environment, output and headers are captured into a response, and an
uncaught fault becomes a 500. Scripts run on the built-in JavaScript engine
or on any WASI interpreter module.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cmd)
			if err != nil {
				return err
			}
			executor.SetLogger(logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (YAML)")
	pf.StringP("engine", "e", "js", "Engine: js, wasi")
	pf.String("wasi-module", "", "WASI interpreter module (.wasm)")
	pf.String("wasi-args", "inline", "How the WASI interpreter gets the script: inline, file")
	pf.String("docroot", ".", "Document root")
	pf.String("index", "index.js", "Script served for directory paths")
	pf.Duration("timeout", 30*time.Second, "Script execution timeout")
	pf.Int64("max-body", 0, "Max response body size in bytes (0 = unlimited)")
	pf.Bool("kv", false, "Enable the key-value store")
	pf.StringSlice("allow-host", nil, "Allow fetch to host (repeatable)")
	pf.Bool("files", false, "Enable read-only file access under the docroot")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console, json")

	root.AddCommand(newServeCmd(), newRunCmd(), newReplCmd())
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLogger returns a development logger for console output and a
// production logger for json.
func buildLogger(cmd *cobra.Command) (*zap.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	switch format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q: use console or json", format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

type stringSliceValue []string

func (s *stringSliceValue) String() string { return strings.Join(*s, ",") }
func (s *stringSliceValue) Set(v string) error {
	*s = append(*s, v)
	return nil
}
func (s *stringSliceValue) Type() string { return "string" }
