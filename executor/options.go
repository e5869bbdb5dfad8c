package executor

import (
	"time"

	"github.com/caffeineduck/rurema/language/ruby"
	"github.com/caffeineduck/rurema/vfs"
	"github.com/rs/zerolog"
)

// Option configures a single Run.
type Option func(*runConfig)

type runConfig struct {
	timeout   time.Duration
	fsOptions []vfs.Option
}

func defaultRunConfig() runConfig {
	return runConfig{}
}

// WithTimeout interrupts the program once d has elapsed. Runs have no
// deadline unless this option is given or the caller's context carries one.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// Mount permission modes (re-exported from vfs for convenience).
const (
	MountReadOnly  = vfs.MountReadOnly
	MountReadWrite = vfs.MountReadWrite
)

// WithMount exposes a host directory to the program.
// The guest path is what the program sees; host path is the actual location.
//
// Examples:
//
//	executor.WithMount("/data", "./input", executor.MountReadOnly)
//	executor.WithMount("/tmp", "./scratch", executor.MountReadWrite)
func WithMount(guestPath, hostPath string, mode vfs.MountMode) Option {
	return func(c *runConfig) {
		c.fsOptions = append(c.fsOptions, vfs.WithMount(vfs.Mount{
			GuestPath: guestPath,
			HostPath:  hostPath,
			Mode:      mode,
		}))
	}
}

// WithFile places a read-only in-memory file at an absolute guest path.
func WithFile(guestPath string, data []byte) Option {
	return func(c *runConfig) {
		c.fsOptions = append(c.fsOptions, vfs.WithFile(guestPath, data))
	}
}

// WithRetainLimit sets how many output bytes each descriptor keeps after
// forwarding them to the sink.
func WithRetainLimit(n int64) Option {
	return func(c *runConfig) {
		c.fsOptions = append(c.fsOptions, vfs.WithRetainLimit(n))
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       bool
	retryFetch       bool
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)
	interpreter      Interpreter
	logger           zerolog.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		interpreter: ruby.New(),
		logger:      zerolog.Nop(),
	}
}

// WithDiskCache enables the persistent wazero compilation cache, so a new
// process skips most of the compile cost. Optionally provide a custom
// directory; otherwise uses ~/.cache/rurema or XDG_CACHE_HOME/rurema.
//
// Examples:
//
//	executor.New(src, executor.WithDiskCache())            // default dir
//	executor.New(src, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile fetches and compiles the module when the Executor is
// created. This moves the load cost to startup rather than first execution.
func WithPrecompile() ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = true
	}
}

// WithRetryAfterFailure lets the module cache fetch again after a failed
// load instead of staying failed for the life of the process.
func WithRetryAfterFailure() ExecutorOption {
	return func(c *executorConfig) {
		c.retryFetch = true
	}
}

// WithInterpreter replaces the default Ruby interpreter adapter.
func WithInterpreter(interp Interpreter) ExecutorOption {
	return func(c *executorConfig) {
		if interp != nil {
			c.interpreter = interp
		}
	}
}

// WithLogger sets the logger for the executor and its module cache.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = logger
	}
}

// WithMemoryLimit sets the maximum memory available to each instance.
// Each page is 64KB. Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(1024) = 64MB max
//   - WithMemoryLimit(4096) = 256MB max
//
// Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)
