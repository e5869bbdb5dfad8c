package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tetratelabs/wazero"
)

// Descriptor numbers of the intercepted output streams.
const (
	Stdout = 1
	Stderr = 2
)

// DefaultRetainLimit is how many bytes each output stream keeps after
// forwarding them to its sink.
const DefaultRetainLimit int64 = 1 << 20

// MountMode defines the permission level for a host directory mount.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows reading, writing and creating files.
	MountReadWrite
)

// Mount maps a host directory into the guest filesystem.
type Mount struct {
	GuestPath string    // Path as seen by the program (e.g., "/data")
	HostPath  string    // Directory on the host filesystem
	Mode      MountMode // Permission level
}

// FS is the filesystem and output descriptor table of one execution.
// Create a new FS per run; it is never shared between programs.
type FS struct {
	root   afero.Fs
	mounts []Mount
	out    map[int]*Stream
}

type options struct {
	sinks  map[int]Sink
	files  map[string][]byte
	mounts []Mount
	limit  int64
}

// Option configures an FS at construction.
type Option func(*options)

// WithSink forwards writes on fd to sink. Only Stdout and Stderr can carry
// sinks; the same sink may be installed on both.
func WithSink(fd int, sink Sink) Option {
	return func(o *options) {
		o.sinks[fd] = sink
	}
}

// WithFile places a read-only file at an absolute guest path.
func WithFile(name string, data []byte) Option {
	return func(o *options) {
		o.files[name] = data
	}
}

// WithMount exposes a host directory at m.GuestPath.
func WithMount(m Mount) Option {
	return func(o *options) {
		o.mounts = append(o.mounts, m)
	}
}

// WithRetainLimit sets how many bytes each output stream retains. A negative
// limit retains everything.
func WithRetainLimit(n int64) Option {
	return func(o *options) {
		o.limit = n
	}
}

// New builds an FS. Files are written into a fresh in-memory tree; mounts are
// validated against the host filesystem.
func New(opts ...Option) (*FS, error) {
	o := options{
		sinks: make(map[int]Sink),
		files: make(map[string][]byte),
		limit: DefaultRetainLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	for fd := range o.sinks {
		if fd != Stdout && fd != Stderr {
			return nil, fmt.Errorf("sink on fd %d: only stdout and stderr can be intercepted", fd)
		}
	}

	f := &FS{
		root: afero.NewBasePathFs(afero.NewMemMapFs(), "/"),
		out: map[int]*Stream{
			Stdout: newStream(Stdout, o.sinks[Stdout], o.limit),
			Stderr: newStream(Stderr, o.sinks[Stderr], o.limit),
		},
	}

	for name, data := range o.files {
		if err := f.writeFile(name, data); err != nil {
			return nil, err
		}
	}

	for _, m := range o.mounts {
		normalized, err := normalizeMount(m)
		if err != nil {
			return nil, err
		}
		f.mounts = append(f.mounts, normalized)
	}

	return f, nil
}

func (f *FS) writeFile(name string, data []byte) error {
	guest, err := guestPath(name)
	if err != nil {
		return fmt.Errorf("file %q: %w", name, err)
	}
	if err := f.root.MkdirAll(path.Dir(guest), 0o755); err != nil {
		return fmt.Errorf("file %q: %w", name, err)
	}
	if err := afero.WriteFile(f.root, guest, data, 0o444); err != nil {
		return fmt.Errorf("file %q: %w", name, err)
	}
	return nil
}

func normalizeMount(m Mount) (Mount, error) {
	guest, err := guestPath(m.GuestPath)
	if err != nil {
		return Mount{}, fmt.Errorf("mount %q: %w", m.GuestPath, err)
	}
	if guest == "/" {
		return Mount{}, fmt.Errorf("mount %q: cannot replace the root", m.GuestPath)
	}

	host, err := filepath.Abs(m.HostPath)
	if err != nil {
		return Mount{}, fmt.Errorf("mount %q: %w", m.GuestPath, err)
	}
	info, err := os.Stat(host)
	if err != nil {
		return Mount{}, fmt.Errorf("mount %q: %w", m.GuestPath, err)
	}
	if !info.IsDir() {
		return Mount{}, fmt.Errorf("mount %q: %s is not a directory", m.GuestPath, host)
	}

	return Mount{GuestPath: guest, HostPath: host, Mode: m.Mode}, nil
}

// guestPath cleans an absolute slash-separated guest path.
func guestPath(name string) (string, error) {
	if !strings.HasPrefix(name, "/") {
		return "", errors.New("guest path must be absolute")
	}
	return path.Clean(name), nil
}

// Stream returns the output stream installed at fd, or nil when fd is not an
// intercepted descriptor.
func (f *FS) Stream(fd int) *Stream {
	return f.out[fd]
}

// Stdout returns the stream at descriptor 1.
func (f *FS) Stdout() *Stream { return f.out[Stdout] }

// Stderr returns the stream at descriptor 2.
func (f *FS) Stderr() *Stream { return f.out[Stderr] }

// ReadFile reads a file from the in-memory tree.
func (f *FS) ReadFile(name string) ([]byte, error) {
	guest, err := guestPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	return afero.ReadFile(f.root, guest)
}

// Root exposes the in-memory tree as an fs.FS rooted at "/".
func (f *FS) Root() fs.FS {
	return afero.NewIOFS(f.root)
}

// Mounts returns the normalized host mounts.
func (f *FS) Mounts() []Mount {
	return append([]Mount(nil), f.mounts...)
}

// Config returns the wazero filesystem configuration backed by this FS: the
// in-memory tree at "/" plus every host mount.
func (f *FS) Config() wazero.FSConfig {
	cfg := wazero.NewFSConfig().WithFSMount(f.Root(), "/")
	for _, m := range f.mounts {
		if m.Mode == MountReadOnly {
			cfg = cfg.WithReadOnlyDirMount(m.HostPath, m.GuestPath)
		} else {
			cfg = cfg.WithDirMount(m.HostPath, m.GuestPath)
		}
	}
	return cfg
}

// Close flushes both output streams.
func (f *FS) Close() error {
	return errors.Join(f.out[Stdout].Close(), f.out[Stderr].Close())
}
