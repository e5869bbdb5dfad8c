package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/rurema/artifact"
	"github.com/caffeineduck/rurema/internal/metrics"
	"github.com/caffeineduck/rurema/modcache"
	"github.com/caffeineduck/rurema/vfs"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const startFunction = "_start"

// Result holds the output and metadata from a captured execution.
type Result struct {
	Output   string
	Duration time.Duration
	Error    error
}

// Executor runs snippets against the cached interpreter module.
type Executor struct {
	runtime wazero.Runtime
	cache   *modcache.Cache
	disk    wazero.CompilationCache
	interp  Interpreter
	logger  zerolog.Logger
	owned   bool

	mu     sync.Mutex
	closed bool
}

// New creates the wazero runtime, instantiates WASI once, and builds the
// module cache for src. The Executor owns all three and releases them on Close.
func New(src artifact.Source, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var disk wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		disk, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if disk != nil {
		rtConfig = rtConfig.WithCompilationCache(disk)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if disk != nil {
			disk.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	cacheOpts := []modcache.Option{modcache.WithLogger(cfg.logger)}
	if cfg.retryFetch {
		cacheOpts = append(cacheOpts, modcache.WithRetryAfterFailure())
	}

	e := &Executor{
		runtime: rt,
		cache:   modcache.New(src, rt, cacheOpts...),
		disk:    disk,
		interp:  cfg.interpreter,
		logger:  cfg.logger,
		owned:   true,
	}

	if cfg.precompile {
		if err := e.cache.Precompile(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", e.interp.Name(), err)
		}
	}

	return e, nil
}

// NewWithCache builds an Executor around a runtime and module cache owned by
// the caller. cache must compile with rt. WASI is instantiated on rt if it is
// not already present. Close does not release rt.
func NewWithCache(rt wazero.Runtime, cache *modcache.Cache, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	if rt.Module(wasi_snapshot_preview1.ModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	e := &Executor{
		runtime: rt,
		cache:   cache,
		interp:  cfg.interpreter,
		logger:  cfg.logger,
	}

	if cfg.precompile {
		if err := cache.Precompile(ctx); err != nil {
			return nil, fmt.Errorf("precompile %s: %w", e.interp.Name(), err)
		}
	}

	return e, nil
}

// Cache returns the module cache shared by every Run.
func (e *Executor) Cache() *modcache.Cache {
	return e.cache
}

// Run executes code in a fresh instance of the cached module. Everything the
// program writes to descriptors 1 and 2 is delivered to sink, synchronously and
// in write order, while the program runs.
//
// A nil error means the program terminated normally, whatever its exit
// status. Cache failures are returned unchanged as *modcache.FetchError or
// *modcache.CompileError; instantiation failures as *InstantiationError;
// faults as *ProgramTrap. Run on a closed Executor returns ErrClosed.
func (e *Executor) Run(ctx context.Context, code string, sink vfs.Sink, opts ...Option) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	fsOpts := []vfs.Option{
		vfs.WithSink(vfs.Stdout, sink),
		vfs.WithSink(vfs.Stderr, sink),
	}
	fsOpts = append(fsOpts, cfg.fsOptions...)

	fsys, err := vfs.New(fsOpts...)
	if err != nil {
		return fmt.Errorf("build filesystem: %w", err)
	}
	defer fsys.Close()

	moduleConfig := wazero.NewModuleConfig().
		WithArgs(e.interp.Args(code)...).
		WithStdout(fsys.Stdout()).
		WithStderr(fsys.Stderr()).
		WithFSConfig(fsys.Config()).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions().
		WithName("")

	compiled, err := e.cache.Get(ctx)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("module_error").Inc()
		return err
	}

	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	start := time.Now()
	defer func() {
		metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
		metrics.OutputBytesTotal.WithLabelValues("1").Add(float64(fsys.Stdout().Offset()))
		metrics.OutputBytesTotal.WithLabelValues("2").Add(float64(fsys.Stderr().Offset()))
	}()

	e.logger.Debug().Str("interpreter", e.interp.Name()).Int("code_bytes", len(code)).Msg("run start")

	mod, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("instantiate_error").Inc()
		return &InstantiationError{Err: err}
	}
	defer mod.Close(context.Background())

	entry := mod.ExportedFunction(startFunction)
	if entry == nil {
		metrics.ExecutionsTotal.WithLabelValues("instantiate_error").Inc()
		return &InstantiationError{Err: ErrNoEntryPoint}
	}

	_, err = entry.Call(ctx)
	return e.finish(ctx, err, time.Since(start))
}

func (e *Executor) finish(ctx context.Context, err error, elapsed time.Duration) error {
	if err != nil && ctx.Err() != nil {
		metrics.ExecutionsTotal.WithLabelValues("interrupted").Inc()
		e.logger.Debug().Err(ctx.Err()).Dur("elapsed", elapsed).Msg("run interrupted")
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		metrics.ExecutionsTotal.WithLabelValues("ok").Inc()
		e.logger.Debug().Uint32("exit_code", exitErr.ExitCode()).Dur("elapsed", elapsed).Msg("run exited")
		return nil
	}

	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("trap").Inc()
		e.logger.Debug().Err(err).Dur("elapsed", elapsed).Msg("run trapped")
		return &ProgramTrap{Err: err}
	}

	metrics.ExecutionsTotal.WithLabelValues("ok").Inc()
	e.logger.Debug().Dur("elapsed", elapsed).Msg("run finished")
	return nil
}

// Capture runs code and collects its output into a Result.
func (e *Executor) Capture(ctx context.Context, code string, opts ...Option) Result {
	start := time.Now()

	var out strings.Builder
	err := e.Run(ctx, code, func(text string) { out.WriteString(text) }, opts...)

	return Result{
		Output:   out.String(),
		Duration: time.Since(start),
		Error:    err,
	}
}

// Close releases the runtime and disk cache when the Executor owns them.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.owned {
		e.closed = true
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.disk != nil {
		if err := e.disk.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "rurema")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "rurema")
	}
	return filepath.Join(os.TempDir(), "rurema-cache")
}
