// Package modcache fetches and compiles the interpreter module once and
// shares the result with every execution in the process.
//
// A [Cache] is a state machine:
//
//	Empty -> Fetching -> Ready
//	                  -> Failed
//
// Concurrent callers of [Cache.Get] that arrive while a load is in flight
// attach to the same pending result, so at most one fetch and one compile
// ever run at a time. Ready is terminal. Failed is terminal unless the cache
// was built with [WithRetryAfterFailure], in which case a failed load returns
// the cache to Empty once its waiters have been released.
//
// The cache is process-scoped state: create one when the host process starts
// and pass it to every executor. There is no teardown; compiled modules are
// released when the wazero runtime that compiled them is closed.
package modcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/caffeineduck/rurema/artifact"
	"github.com/caffeineduck/rurema/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
)

// State is the lifecycle position of a Cache.
type State int

const (
	StateEmpty State = iota
	StateFetching
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Compiler turns artifact bytes into an executable module.
// wazero.Runtime satisfies it.
type Compiler interface {
	CompileModule(ctx context.Context, binary []byte) (wazero.CompiledModule, error)
}

// ErrNoModule is reported when a Compiler returns neither a module nor an error.
var ErrNoModule = errors.New("compiler returned no module")

// load is the result shared by every caller attached to one fetch-and-compile.
// done is closed once module or err is set; neither changes afterwards.
type load struct {
	done   chan struct{}
	module wazero.CompiledModule
	err    error
}

// Cache memoizes the compiled interpreter module.
type Cache struct {
	source   artifact.Source
	compiler Compiler
	logger   zerolog.Logger
	retry    bool

	mu      sync.Mutex
	state   State
	current *load
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithRetryAfterFailure returns a failed cache to Empty so that the next Get
// starts a new fetch. Callers that joined the failed load still receive its
// error. Without this option a failure is permanent for the cache's lifetime.
func WithRetryAfterFailure() Option {
	return func(c *Cache) {
		c.retry = true
	}
}

// New returns an Empty cache for the artifact at src.
func New(src artifact.Source, compiler Compiler, opts ...Option) *Cache {
	c := &Cache{
		source:   src,
		compiler: compiler,
		logger:   zerolog.Nop(),
		state:    StateEmpty,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the compiled module, fetching and compiling it on first use.
//
// A Ready cache answers without blocking. Otherwise Get waits for the load in
// flight, or starts one. ctx bounds only this caller's wait: the load itself
// keeps running for the other waiters when ctx is cancelled.
func (c *Cache) Get(ctx context.Context) (wazero.CompiledModule, error) {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		m := c.current.module
		c.mu.Unlock()
		return m, nil
	case StateFailed:
		err := c.current.err
		c.mu.Unlock()
		return nil, err
	case StateEmpty:
		c.current = &load{done: make(chan struct{})}
		c.setState(StateFetching)
		go c.run(context.WithoutCancel(ctx), c.current)
	}
	l := c.current
	c.mu.Unlock()

	metrics.CacheWaiters.Inc()
	defer metrics.CacheWaiters.Dec()

	select {
	case <-l.done:
		return l.module, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Precompile loads the module without returning it, so the first execution
// does not pay for the fetch and compile.
func (c *Cache) Precompile(ctx context.Context) error {
	_, err := c.Get(ctx)
	return err
}

// State reports the cache's current state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error of a Failed cache, or nil.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		return nil
	}
	return c.current.err
}

// Location reports where the artifact is fetched from.
func (c *Cache) Location() string {
	return c.source.Location()
}

func (c *Cache) run(ctx context.Context, l *load) {
	module, err := c.fetchAndCompile(ctx)

	c.mu.Lock()
	l.module, l.err = module, err
	switch {
	case err == nil:
		c.setState(StateReady)
	case c.retry:
		c.current = nil
		c.setState(StateEmpty)
	default:
		c.setState(StateFailed)
	}
	close(l.done)
	c.mu.Unlock()
}

func (c *Cache) fetchAndCompile(ctx context.Context) (wazero.CompiledModule, error) {
	location := c.source.Location()

	start := time.Now()
	binary, err := c.source.Fetch(ctx)
	metrics.ModuleLoadDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModuleLoadsTotal.WithLabelValues("fetch_error").Inc()
		c.logger.Error().Err(err).Str("location", location).Msg("fetch interpreter module")
		return nil, &FetchError{Location: location, Err: err}
	}
	c.logger.Debug().
		Str("location", location).
		Int("bytes", len(binary)).
		Dur("elapsed", time.Since(start)).
		Msg("fetched interpreter module")

	start = time.Now()
	module, err := c.compiler.CompileModule(ctx, binary)
	metrics.ModuleLoadDuration.WithLabelValues("compile").Observe(time.Since(start).Seconds())
	if err == nil && module == nil {
		err = ErrNoModule
	}
	if err != nil {
		metrics.ModuleLoadsTotal.WithLabelValues("compile_error").Inc()
		c.logger.Error().Err(err).Str("location", location).Msg("compile interpreter module")
		return nil, &CompileError{Location: location, Err: err}
	}
	c.logger.Debug().
		Str("location", location).
		Dur("elapsed", time.Since(start)).
		Msg("compiled interpreter module")

	metrics.ModuleLoadsTotal.WithLabelValues("ready").Inc()
	return module, nil
}

// setState must be called with c.mu held.
func (c *Cache) setState(s State) {
	c.logger.Debug().Stringer("from", c.state).Stringer("to", s).Msg("module cache transition")
	c.state = s
}
