package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/scriptgate/executor"
	"github.com/caffeineduck/scriptgate/handler"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run one script against a synthetic request",
		Long: `Run a script once and print the response body.

Code can be provided via:
  - File argument: scriptgate run page.js
  - Inline flag: scriptgate run -c 'echo("hi")'
  - Stdin: echo 'echo("hi")' | scriptgate run

The request is built from --method, --url, --header and --data. Script log
lines go to stderr. A script fault exits non-zero.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	var hdrs stringSliceValue
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().StringP("method", "X", "GET", "Request method")
	cmd.Flags().StringP("url", "u", "/", "Request URL")
	cmd.Flags().VarP(&hdrs, "header", "H", "Request header 'Name: value' (repeatable)")
	cmd.Flags().StringP("data", "d", "", "Request body, or @file to read it from a file")
	cmd.Flags().BoolP("include", "i", false, "Print status and response headers")
	cmd.Flags().StringArray("arg", nil, "Script argument exposed in argv (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	source, filename, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if source == "" {
		return cmd.Help()
	}

	eng, err := newEngines(cfg, executor.Logger())
	if err != nil {
		return err
	}
	defer eng.Close()

	req, err := buildRequest(cmd, eng.cfg.Docroot)
	if err != nil {
		return err
	}

	scriptArgs, _ := cmd.Flags().GetStringArray("arg")
	exec, err := startExecutor(eng, executor.WithArgv(scriptArgs...))
	if err != nil {
		return err
	}
	defer exec.Stop()

	out := exec.Run(cmd.Context(), source, filename, req)
	if out.Kind == executor.InfraFailure {
		return out.Err
	}

	if include, _ := cmd.Flags().GetBool("include"); include {
		printHead(cmd.OutOrStdout(), out.Response)
	}
	cmd.OutOrStdout().Write(out.Body())

	stderr := cmd.ErrOrStderr()
	for _, line := range out.Response.LogLines() {
		fmt.Fprintln(stderr, line)
	}
	if out.Kind == executor.ScriptFault {
		return fmt.Errorf("script fault: %s", out.Message)
	}
	return nil
}

func startExecutor(eng *engines, opts ...executor.Option) (*executor.Executor, error) {
	engine, err := eng.New()
	if err != nil {
		return nil, err
	}
	exec := executor.New(engine, eng.executorOptions(opts...)...)
	if err := exec.Start(); err != nil {
		return nil, err
	}
	return exec, nil
}

// readSource returns the script from -c, a file argument or piped stdin, in
// that order. filename is absolute for file scripts.
func readSource(cmd *cobra.Command, args []string) (source, filename string, err error) {
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		return code, "inline", nil
	}
	if len(args) > 0 {
		filename, err = filepath.Abs(args[0])
		if err != nil {
			return "", "", err
		}
		data, err := os.ReadFile(filename)
		if err != nil {
			return "", "", err
		}
		return string(data), filename, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		// No piped input
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return "", "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", "", err
	}
	return string(data), "stdin", nil
}

func buildRequest(cmd *cobra.Command, docroot string) (*handler.Request, error) {
	method, _ := cmd.Flags().GetString("method")
	rawURL, _ := cmd.Flags().GetString("url")
	data, _ := cmd.Flags().GetString("data")

	b := handler.NewRequest().Method(strings.ToUpper(method)).URL(rawURL).Docroot(docroot)
	hasType := false
	if f := cmd.Flags().Lookup("header"); f != nil {
		for _, h := range *f.Value.(*stringSliceValue) {
			name, value, ok := strings.Cut(h, ":")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				return nil, fmt.Errorf("invalid header %q (expected 'Name: value')", h)
			}
			hasType = hasType || strings.EqualFold(name, "Content-Type")
			b.Header(name, strings.TrimSpace(value))
		}
	}

	var body []byte
	if path, ok := strings.CutPrefix(data, "@"); ok {
		var err error
		if body, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	} else if data != "" {
		body = []byte(data)
	}
	if body != nil {
		b.BodyBytes(body).Header("Content-Length", strconv.Itoa(len(body)))
		if !hasType {
			b.Header("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	return b.Build()
}

func printHead(w io.Writer, resp *handler.Response) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", resp.Status(), http.StatusText(resp.Status()))
	resp.Headers().Each(func(key string, values []string) bool {
		for _, v := range values {
			fmt.Fprintf(w, "%s: %s\r\n", key, v)
		}
		return true
	})
	fmt.Fprint(w, "\r\n")
}
