package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/rurema/executor"
	"github.com/caffeineduck/rurema/snippet"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt, one fresh program per entry",
	Long: `Start an interactive REPL (Read-Eval-Print Loop).

Every entry runs as a fresh program against the cached interpreter, so no
state carries over between entries. The interpreter is compiled once at
startup.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().Duration("timeout", 0, "Per-entry execution timeout (default: none)")
	replCmd.Flags().String("history", "", "History file path (default: ~/.rurema_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".rurema_history")
	}

	s, err := loadSettings(cmd)
	if err != nil {
		fatal(err)
	}

	exec, err := newExecutor(s, executor.WithPrecompile())
	if err != nil {
		fatal(err)
	}
	defer exec.Close()

	var runOpts []executor.Option
	if s.timeout > 0 {
		runOpts = append(runOpts, executor.WithTimeout(s.timeout))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "rb> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stderr, "rurema ruby REPL (type 'exit' to quit, Ctrl+D to exit)")

	var multiLine strings.Builder
	inMultiLine := false
	var region snippet.Region

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt("rb> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("..> ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt("rb> ")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if err := evalEntry(context.Background(), exec, &region, line, rl.Stdout(), runOpts...); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// evalEntry runs one REPL entry, echoing output to w as it streams and
// ending the entry's output with a newline.
func evalEntry(ctx context.Context, exec *executor.Executor, region *snippet.Region, code string, w io.Writer, opts ...executor.Option) error {
	region.Clear()
	err := exec.Run(ctx, snippet.Normalize(code), func(text string) {
		region.Append(text)
		io.WriteString(w, text)
	}, opts...)

	if out := region.String(); out != "" && !strings.HasSuffix(out, "\n") {
		io.WriteString(w, "\n")
	}
	return err
}
