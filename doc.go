// Package rurema runs Ruby documentation snippets in ruby.wasm on wazero.
//
// # Overview
//
// The interpreter binary is fetched from an artifact root and compiled once
// per process by a single-flight module cache. Every snippet then runs as a
// fresh WASI program with `ruby -e <code>` as its arguments and its own
// virtual filesystem. Writes to stdout and stderr are decoded as UTF-8 and
// delivered to a caller-supplied sink while the program runs.
//
// # Basic Usage
//
//	src, _ := artifact.Resolve("https://cdn.example.com/rurema", ruby.ArtifactPath)
//	exec, _ := executor.New(src, executor.WithDiskCache())
//	defer exec.Close()
//
//	var out snippet.Region
//	err := exec.Run(ctx, snippet.Normalize(code), out.Append)
//
// # Errors
//
// Run reports four kinds of failure: [modcache.FetchError] and
// [modcache.CompileError] from loading the interpreter, which every later run
// shares, and [executor.InstantiationError] and [executor.ProgramTrap] from
// the individual run. A program that exits, with any status, is not an error.
//
// See the [artifact], [modcache], [vfs], [executor], and [snippet] packages for
// detailed API documentation.
package rurema
