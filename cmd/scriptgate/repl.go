package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/scriptgate/executor"
	"github.com/caffeineduck/scriptgate/handler"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive prompt, one request per input",
		Long: `Start an interactive prompt. Every input runs as its own request, so no
script state carries over between inputs. Use the KV store (--kv) to keep data.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().StringP("url", "u", "/", "Request URL for every input")
	cmd.Flags().String("history", "", "History file path (default: ~/.scriptgate_history)")
	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".scriptgate_history")
	}
	rawURL, _ := cmd.Flags().GetString("url")

	eng, err := newEngines(cfg, executor.Logger())
	if err != nil {
		return err
	}
	defer eng.Close()

	exec, err := startExecutor(eng)
	if err != nil {
		return err
	}
	defer exec.Stop()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "scriptgate %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", exec.Engine().Name())

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(stdout)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}
		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		req, err := handler.NewRequest().URL(rawURL).Docroot(eng.cfg.Docroot).Build()
		if err != nil {
			return err
		}
		out := exec.Run(cmd.Context(), line, "repl", req)
		printReplOutcome(stdout, stderr, out)
	}
}

func printReplOutcome(stdout, stderr io.Writer, out executor.Outcome) {
	if body := out.Body(); len(body) > 0 {
		stdout.Write(body)
		if body[len(body)-1] != '\n' {
			fmt.Fprintln(stdout)
		}
	}
	for _, line := range out.Response.LogLines() {
		fmt.Fprintln(stderr, line)
	}
	switch out.Kind {
	case executor.ScriptFault:
		fmt.Fprintf(stderr, "Error: %s\n", out.Message)
	case executor.InfraFailure:
		fmt.Fprintf(stderr, "Error: %v\n", out.Err)
	}
}
