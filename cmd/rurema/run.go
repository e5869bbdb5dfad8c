package main

import (
	"context"
	"io"
	"os"

	"github.com/caffeineduck/rurema/executor"
	"github.com/caffeineduck/rurema/snippet"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a Ruby snippet",
	Long: `Execute a Ruby snippet as a fresh program.

Code can be provided via:
  - File argument: rurema run example.rb
  - Inline flag: rurema run -c 'puts 1+1'
  - Stdin: echo 'puts 1+1' | rurema run

One leading newline is stripped from the snippet before it runs. The
program's exit status does not affect rurema's; only fetch, compile,
instantiation, trap, and timeout failures are reported as errors.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().Duration("timeout", 0, "Execution timeout (default: none)")
	cmd.Flags().StringSlice("mount", nil, "Mount host directory guest:host:mode, mode ro or rw (repeatable)")
}

func buildRunOpts(cmd *cobra.Command, s *settings) ([]executor.Option, error) {
	mounts, _ := cmd.Flags().GetStringSlice("mount")

	var opts []executor.Option
	if s.timeout > 0 {
		opts = append(opts, executor.WithTimeout(s.timeout))
	}
	for _, spec := range mounts {
		m, err := parseMount(spec)
		if err != nil {
			return nil, err
		}
		opts = append(opts, executor.WithMount(m.GuestPath, m.HostPath, m.Mode))
	}
	return opts, nil
}

// runSnippet normalises code and streams its output to w as it is produced.
func runSnippet(ctx context.Context, exec *executor.Executor, code string, w io.Writer, opts ...executor.Option) error {
	return exec.Run(ctx, snippet.Normalize(code), func(text string) {
		io.WriteString(w, text)
	}, opts...)
}

func runRun(cmd *cobra.Command, args []string) {
	code, _ := cmd.Flags().GetString("code")

	var source string

	switch {
	case code != "":
		source = code
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal(err)
		}
		source = string(data)
	default:
		// Check if stdin has data (not a terminal)
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			// No piped input, show help
			cmd.Help()
			return
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal(err)
		}
		source = string(data)
		if source == "" {
			cmd.Help()
			return
		}
	}

	s, err := loadSettings(cmd)
	if err != nil {
		fatal(err)
	}

	runOpts, err := buildRunOpts(cmd, s)
	if err != nil {
		fatal(err)
	}

	exec, err := newExecutor(s)
	if err != nil {
		fatal(err)
	}
	defer exec.Close()

	if err := runSnippet(context.Background(), exec, source, cmd.OutOrStdout(), runOpts...); err != nil {
		exec.Close()
		fatal(err)
	}
}
