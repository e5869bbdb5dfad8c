// Package executor runs interpreter snippets inside WebAssembly and streams
// their output to a caller-supplied sink.
//
// # Overview
//
// An [Executor] owns a wazero runtime with WASI instantiated once, and a
// [modcache.Cache] that fetches and compiles the interpreter binary on first
// use. Every [Executor.Run] gets a fresh instance of the cached module and a
// fresh [vfs.FS]; nothing but the compiled module is shared between runs.
//
// # Basic Usage
//
//	src, err := artifact.Resolve("file:///usr/share/rurema", ruby.ArtifactPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	exec, err := executor.New(src)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	err = exec.Run(ctx, `puts 1`, func(text string) {
//	    fmt.Print(text) // "1\n", possibly in several chunks
//	})
//
// Writes to standard output and standard error reach the same sink in the
// order the program makes them. Run returns nil for any normal exit,
// including a non-zero exit status; the program's output is the only signal.
//
// # Cancellation
//
// A run has no deadline by default. The runtime is created with
// close-on-context-done, so cancelling ctx or passing [WithTimeout] stops a
// program that would otherwise run forever.
package executor
