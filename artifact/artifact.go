// Package artifact locates and reads the interpreter WebAssembly binary.
//
// A [Source] is resolved from a resource root and a fixed logical path,
// mirroring how a browser extension resolves a bundled file through its
// local resource scheme:
//
//	src, err := artifact.Resolve("file:///usr/share/rurema", ruby.ArtifactPath)
//	src, err := artifact.Resolve("https://cdn.example.com/rurema", ruby.ArtifactPath)
//
// Sources only fetch bytes. Compilation and caching live in the modcache
// package.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxSize caps artifact payloads. ruby.wasm builds with the bundled
// stdlib are around 50MB.
const DefaultMaxSize int64 = 256 << 20

var (
	ErrNotFound = errors.New("artifact not found")
	ErrTooLarge = errors.New("artifact exceeds max size")
)

// Source fetches the full byte payload of one binary artifact.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	// Location describes where the artifact is read from, for logs and errors.
	Location() string
}

// Resolve builds a Source for logicalPath under root. Supported roots are
// file:// URLs, http:// and https:// URLs, and plain directory paths.
func Resolve(root, logicalPath string, opts ...Option) (Source, error) {
	if root == "" {
		return nil, errors.New("artifact root required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(root)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return newFile(filepath.Join(root, filepath.FromSlash(logicalPath)), cfg), nil
	}

	switch u.Scheme {
	case "file":
		return newFile(filepath.Join(filepath.FromSlash(u.Path), filepath.FromSlash(logicalPath)), cfg), nil
	case "http", "https":
		u.Path = path.Join("/", u.Path, logicalPath)
		return newHTTP(u.String(), cfg), nil
	default:
		return nil, fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}
}

// Option configures a resolved Source.
type Option func(*config)

type config struct {
	maxSize int64
	client  *http.Client
}

func defaultConfig() config {
	return config{
		maxSize: DefaultMaxSize,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithMaxSize sets the largest payload a Source accepts.
func WithMaxSize(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithHTTPClient sets the client used for http(s) roots.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		if client != nil {
			c.client = client
		}
	}
}

// File reads the artifact from the local filesystem.
type File struct {
	path    string
	maxSize int64
}

// NewFile returns a Source reading the file at path.
func NewFile(path string) *File {
	return newFile(path, defaultConfig())
}

func newFile(path string, cfg config) *File {
	return &File{path: path, maxSize: cfg.maxSize}
}

func (f *File) Location() string {
	return "file://" + filepath.ToSlash(f.path)
}

func (f *File) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, f.path)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	return readAll(file, f.maxSize)
}

// HTTP downloads the artifact with a GET request.
type HTTP struct {
	url     string
	client  *http.Client
	maxSize int64
}

// NewHTTP returns a Source downloading rawURL.
func NewHTTP(rawURL string) *HTTP {
	return newHTTP(rawURL, defaultConfig())
}

func newHTTP(rawURL string, cfg config) *HTTP {
	return &HTTP{url: rawURL, client: cfg.client, maxSize: cfg.maxSize}
}

func (h *HTTP) Location() string {
	return h.url
}

func (h *HTTP) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h.url)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}

	if resp.ContentLength > h.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	return readAll(resp.Body, h.maxSize)
}

// Bytes serves an artifact already held in memory, such as an embedded file.
type Bytes struct {
	name string
	data []byte
}

// NewBytes returns a Source serving data under name.
func NewBytes(name string, data []byte) *Bytes {
	return &Bytes{name: name, data: data}
}

func (b *Bytes) Location() string {
	return "mem://" + strings.TrimPrefix(b.name, "/")
}

func (b *Bytes) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, b.name)
	}
	return b.data, nil
}

func readAll(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return data, nil
}
