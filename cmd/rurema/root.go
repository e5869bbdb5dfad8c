package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caffeineduck/rurema/artifact"
	"github.com/caffeineduck/rurema/executor"
	"github.com/caffeineduck/rurema/internal/config"
	"github.com/caffeineduck/rurema/internal/logging"
	"github.com/caffeineduck/rurema/language/ruby"
	"github.com/caffeineduck/rurema/vfs"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rurema [file]",
	Short: "Run Ruby snippets in a WebAssembly interpreter",
	Long: `rurema - Run Ruby documentation snippets using ruby.wasm on WebAssembly.

The interpreter binary is fetched and compiled once per process, then every
snippet runs as a fresh program with its own virtual filesystem. Output from
stdout and stderr is streamed as the program writes it.

Run code from files, inline strings, or stdin.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun, // Default to run command behavior
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to rurema.hcl config file")
	rootCmd.PersistentFlags().StringP("artifact", "a", "", "Artifact root holding ruby.wasm: directory, file:// or https:// URL (default: .)")
	rootCmd.PersistentFlags().String("cache-dir", "", "Compilation cache directory (default: ~/.cache/rurema)")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
	rootCmd.PersistentFlags().String("memory", "", "Memory limit: 1mb, 16mb, 64mb, 256mb, 1gb (default: 256mb)")
	rootCmd.PersistentFlags().Bool("retry-fetch", false, "Fetch the interpreter again after a failed load")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console, json (default: console)")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

// settings is the config file merged with the command line.
type settings struct {
	artifact   string
	cacheDir   string
	noCache    bool
	memory     uint32
	timeout    time.Duration
	retryFetch bool
	server     config.Server
	logger     zerolog.Logger
}

func loadSettings(cmd *cobra.Command) (*settings, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	stringFlag := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	stringFlag("artifact", &cfg.Artifact)
	stringFlag("cache-dir", &cfg.CacheDir)
	stringFlag("memory", &cfg.Memory)
	stringFlag("log-level", &cfg.LogLevel)
	stringFlag("log-format", &cfg.LogFormat)
	if flags.Changed("retry-fetch") {
		cfg.RetryFetch, _ = flags.GetBool("retry-fetch")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		cfg.Timeout = d.String()
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &settings{
		artifact:   cfg.Artifact,
		cacheDir:   cfg.ExpandedCacheDir(),
		retryFetch: cfg.RetryFetch,
		server:     *cfg.Server,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr),
	}
	if s.artifact == "" {
		s.artifact = "."
	}
	s.noCache, _ = flags.GetBool("no-cache")
	s.memory, _ = config.ParseMemory(cfg.Memory)
	s.timeout, _ = cfg.TimeoutDuration()

	return s, nil
}

func newExecutor(s *settings, extra ...executor.ExecutorOption) (*executor.Executor, error) {
	interp := ruby.New()

	src, err := artifact.Resolve(s.artifact, interp.ArtifactPath())
	if err != nil {
		return nil, err
	}

	opts := []executor.ExecutorOption{
		executor.WithInterpreter(interp),
		executor.WithLogger(s.logger),
	}
	if !s.noCache {
		opts = append(opts, executor.WithDiskCache(s.cacheDir))
	}
	if s.memory > 0 {
		opts = append(opts, executor.WithMemoryLimit(s.memory))
	}
	if s.retryFetch {
		opts = append(opts, executor.WithRetryAfterFailure())
	}
	opts = append(opts, extra...)

	return executor.New(src, opts...)
}

func parseMount(spec string) (vfs.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return vfs.Mount{}, fmt.Errorf("invalid mount spec %q (expected guest:host:mode)", spec)
	}

	var mode vfs.MountMode
	switch parts[2] {
	case "ro":
		mode = vfs.MountReadOnly
	case "rw":
		mode = vfs.MountReadWrite
	default:
		return vfs.Mount{}, fmt.Errorf("invalid mount mode %q (expected ro or rw)", parts[2])
	}

	return vfs.Mount{
		GuestPath: parts[0],
		HostPath:  parts[1],
		Mode:      mode,
	}, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
