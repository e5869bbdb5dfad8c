package executor_test

import (
	"context"
	_ "embed"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/rurema/artifact"
	"github.com/caffeineduck/rurema/executor"
	"github.com/caffeineduck/rurema/modcache"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

// fakeruby is a small WASI command that understands puts, warn, print, exit,
// raise and loop, one per line of its -e argument. See testdata/fakeruby.wat.
var (
	//go:embed testdata/fakeruby.wasm
	fakeruby []byte
	//go:embed testdata/badimport.wasm
	badimport []byte
	//go:embed testdata/nostart.wasm
	nostart []byte
)

// Shared executor so the module is compiled once for the integration tests.
var sharedExec *executor.Executor

func TestMain(m *testing.M) {
	var err error
	sharedExec, err = executor.New(artifact.NewBytes("fakeruby.wasm", fakeruby), executor.WithPrecompile())
	if err != nil {
		panic("failed to create shared executor: " + err.Error())
	}

	code := m.Run()

	sharedExec.Close()
	os.Exit(code)
}

type chunks struct {
	mu  sync.Mutex
	got []string
}

func (c *chunks) sink(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, text)
}

func (c *chunks) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.got, "")
}

// =============================================================================
// INTEGRATION TESTS (shared executor)
// =============================================================================

func TestRunPuts(t *testing.T) {
	var out chunks
	err := sharedExec.Run(context.Background(), "puts 1", out.sink)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out.String())
}

func TestRunInterleavesStdoutAndStderr(t *testing.T) {
	var out chunks
	err := sharedExec.Run(context.Background(), "puts 1\nwarn 2\nputs 3", out.sink)
	require.NoError(t, err)

	// Each command issues the text and its newline as separate writes.
	want := []string{"1", "\n", "2", "\n", "3", "\n"}
	if diff := cmp.Diff(want, out.got); diff != "" {
		t.Errorf("sink chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDecodesUTF8(t *testing.T) {
	var out chunks
	err := sharedExec.Run(context.Background(), "print héllo", out.sink)
	require.NoError(t, err)
	assert.Equal(t, "héllo", out.String())
}

func TestRunEmptyProgram(t *testing.T) {
	var out chunks
	err := sharedExec.Run(context.Background(), "", out.sink)
	require.NoError(t, err)
	assert.Empty(t, out.got)
}

func TestRunNilSink(t *testing.T) {
	err := sharedExec.Run(context.Background(), "puts dropped", nil)
	assert.NoError(t, err)
}

func TestRunExitStatusIsNormalTermination(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"zero", "puts a\nexit 0\nputs b", "a\n"},
		{"nonzero", "warn failing\nexit 7\nputs b", "failing\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out chunks
			err := sharedExec.Run(context.Background(), tt.code, out.sink)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRunTrap(t *testing.T) {
	var out chunks
	err := sharedExec.Run(context.Background(), "puts before\nraise\nputs after", out.sink)

	var trap *executor.ProgramTrap
	require.ErrorAs(t, err, &trap)
	assert.Contains(t, err.Error(), "program trap")
	assert.Equal(t, "before\n", out.String())
}

func TestRunTimeout(t *testing.T) {
	var out chunks
	start := time.Now()
	err := sharedExec.Run(context.Background(), "puts spinning\nloop", out.sink, executor.WithTimeout(100*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "spinning\n", out.String())

	// The runtime stays usable after an interrupted run.
	var again chunks
	require.NoError(t, sharedExec.Run(context.Background(), "puts 1", again.sink))
	assert.Equal(t, "1\n", again.String())
}

func TestRunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := sharedExec.Run(ctx, "loop", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSinkIsolation(t *testing.T) {
	const runs = 16

	outs := make([]chunks, runs)
	errs := make([]error, runs)

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := "puts 1"
			if i%2 == 1 {
				code = "puts 2"
			}
			errs[i] = sharedExec.Run(context.Background(), code, outs[i].sink)
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i], "run %d", i)
		want := "1\n"
		if i%2 == 1 {
			want = "2\n"
		}
		assert.Equal(t, want, outs[i].String(), "run %d", i)
	}
}

func TestRunWithFile(t *testing.T) {
	var out chunks
	err := sharedExec.Run(context.Background(), "puts ok", out.sink,
		executor.WithFile("/etc/motd", []byte("hi")),
		executor.WithRetainLimit(0),
	)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out.String())

	err = sharedExec.Run(context.Background(), "puts ok", nil, executor.WithFile("relative", nil))
	assert.Error(t, err)
}

func TestRunWithMount(t *testing.T) {
	err := sharedExec.Run(context.Background(), "puts ok", nil,
		executor.WithMount("/data", t.TempDir(), executor.MountReadOnly))
	assert.NoError(t, err)
}

func TestCapture(t *testing.T) {
	result := sharedExec.Capture(context.Background(), "puts 1\nwarn 2")
	require.NoError(t, result.Error)
	assert.Equal(t, "1\n2\n", result.Output)
	assert.Positive(t, result.Duration)
}

func TestCacheIsReadyAfterPrecompile(t *testing.T) {
	assert.Equal(t, modcache.StateReady, sharedExec.Cache().State())
	assert.Equal(t, "mem://fakeruby.wasm", sharedExec.Cache().Location())
}

// =============================================================================
// FAILURE TESTS (own executor per test)
// =============================================================================

func newExecutor(t *testing.T, src artifact.Source, opts ...executor.ExecutorOption) *executor.Executor {
	t.Helper()
	exec, err := executor.New(src, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func TestFetchErrorIsSharedByEveryRun(t *testing.T) {
	exec := newExecutor(t, artifact.NewBytes("ruby.wasm", nil))

	for j := 0; j < 3; j++ {
		err := exec.Run(context.Background(), "puts 1", func(string) {
			t.Error("sink must not be called")
		})
		var fetchErr *modcache.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.ErrorIs(t, err, artifact.ErrNotFound)
	}
	assert.Equal(t, modcache.StateFailed, exec.Cache().State())
}

func TestRetryAfterFailure(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	src := flakySource(func() ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection reset")
		}
		return fakeruby, nil
	})
	exec := newExecutor(t, src, executor.WithRetryAfterFailure())

	err := exec.Run(context.Background(), "puts 1", nil)
	var fetchErr *modcache.FetchError
	require.ErrorAs(t, err, &fetchErr)

	var out chunks
	require.NoError(t, exec.Run(context.Background(), "puts 1", out.sink))
	assert.Equal(t, "1\n", out.String())
}

type flakySource func() ([]byte, error)

func (f flakySource) Fetch(context.Context) ([]byte, error) { return f() }
func (f flakySource) Location() string                      { return "test://flaky" }

func TestCompileError(t *testing.T) {
	exec := newExecutor(t, artifact.NewBytes("ruby.wasm", []byte("not wasm")))

	err := exec.Run(context.Background(), "puts 1", nil)
	var compileErr *modcache.CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "mem://ruby.wasm", compileErr.Location)
}

func TestPrecompileFailure(t *testing.T) {
	_, err := executor.New(artifact.NewBytes("ruby.wasm", nil), executor.WithPrecompile())
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestInstantiationError(t *testing.T) {
	exec := newExecutor(t, artifact.NewBytes("badimport.wasm", badimport))

	err := exec.Run(context.Background(), "puts 1", nil)
	var instErr *executor.InstantiationError
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, modcache.StateReady, exec.Cache().State())
}

func TestMissingEntryPoint(t *testing.T) {
	exec := newExecutor(t, artifact.NewBytes("nostart.wasm", nostart))

	err := exec.Run(context.Background(), "puts 1", nil)
	var instErr *executor.InstantiationError
	require.ErrorAs(t, err, &instErr)
	assert.ErrorIs(t, err, executor.ErrNoEntryPoint)
}

func TestMemoryLimit(t *testing.T) {
	// fakeruby declares one page, well under the limit.
	exec := newExecutor(t, artifact.NewBytes("fakeruby.wasm", fakeruby), executor.WithMemoryLimit(executor.MemoryLimit1MB))

	var out chunks
	require.NoError(t, exec.Run(context.Background(), "puts 1", out.sink))
	assert.Equal(t, "1\n", out.String())
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	src := artifact.NewBytes("fakeruby.wasm", fakeruby)

	for j := 0; j < 2; j++ {
		exec, err := executor.New(src, executor.WithDiskCache(dir))
		require.NoError(t, err)

		var out chunks
		require.NoError(t, exec.Run(context.Background(), "puts cached", out.sink))
		assert.Equal(t, "cached\n", out.String())
		require.NoError(t, exec.Close())
	}
}

func TestNewWithCache(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	defer rt.Close(ctx)

	cache := modcache.New(artifact.NewBytes("fakeruby.wasm", fakeruby), rt)

	first, err := executor.NewWithCache(rt, cache)
	require.NoError(t, err)
	second, err := executor.NewWithCache(rt, cache)
	require.NoError(t, err)

	var a, b chunks
	require.NoError(t, first.Run(ctx, "puts a", a.sink))
	require.NoError(t, second.Run(ctx, "puts b", b.sink))
	assert.Equal(t, "a\n", a.String())
	assert.Equal(t, "b\n", b.String())
	assert.Same(t, first.Cache(), second.Cache())

	// Closing a borrowing executor leaves the runtime open.
	require.NoError(t, first.Close())
	require.NoError(t, second.Run(ctx, "puts still", b.sink))
}

func TestCloseIsIdempotent(t *testing.T) {
	exec, err := executor.New(artifact.NewBytes("fakeruby.wasm", fakeruby))
	require.NoError(t, err)
	assert.NoError(t, exec.Close())
	assert.NoError(t, exec.Close())
}

func TestRunAfterClose(t *testing.T) {
	exec, err := executor.New(artifact.NewBytes("fakeruby.wasm", fakeruby))
	require.NoError(t, err)
	require.NoError(t, exec.Close())

	err = exec.Run(context.Background(), "puts 1", func(string) {
		t.Error("sink must not be called")
	})
	assert.ErrorIs(t, err, executor.ErrClosed)

	result := exec.Capture(context.Background(), "puts 1")
	assert.ErrorIs(t, result.Error, executor.ErrClosed)
	assert.Empty(t, result.Output)
}
