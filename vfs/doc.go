// Package vfs provides the per-execution virtual filesystem handed to the
// interpreter through WASI.
//
// An [FS] combines three things:
//
//   - an in-memory, read-only file tree mounted at "/";
//   - optional host directory mounts, read-only or read-write;
//   - the output descriptors 1 and 2, each a [Stream].
//
// Output interception is a constructor parameter rather than a patch applied
// later. Sinks are installed with [WithSink] and receive decoded text
// synchronously on every write:
//
//	var out strings.Builder
//	sink := func(text string) { out.WriteString(text) }
//
//	fsys, err := vfs.New(
//	    vfs.WithSink(vfs.Stdout, sink),
//	    vfs.WithSink(vfs.Stderr, sink),
//	    vfs.WithFile("/etc/motd", []byte("hello\n")),
//	)
//
// After forwarding, each stream records the write as usual (offset and
// retained bytes), so the descriptor's own state matches what the program
// wrote.
package vfs
