// Command download prefetches ruby.wasm from an artifact root into a local
// directory, so rurema can later run with --artifact pointing at it.
//
//	go run ./internal/tools/download https://cdn.example.com/rurema ./dist
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caffeineduck/rurema/artifact"
	"github.com/caffeineduck/rurema/internal/logging"
	"github.com/caffeineduck/rurema/language/ruby"
)

var wasmMagic = []byte("\x00asm")

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: download <artifact-root> <output-dir>")
		os.Exit(1)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"), "console", os.Stderr)
	root, outDir := os.Args[1], os.Args[2]

	output, err := prefetch(context.Background(), root, outDir)
	if err != nil {
		logger.Error().Err(err).Str("root", root).Msg("download failed")
		os.Exit(1)
	}
	logger.Info().Str("path", output).Msg("artifact ready")
}

// prefetch copies the interpreter from root into outDir unless it is already
// there, and returns the local path.
func prefetch(ctx context.Context, root, outDir string) (string, error) {
	output := filepath.Join(outDir, filepath.FromSlash(ruby.ArtifactPath))
	if _, err := os.Stat(output); err == nil {
		return output, nil
	}

	src, err := artifact.Resolve(root, ruby.ArtifactPath)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	data, err := src.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", src.Location(), err)
	}
	if !bytes.HasPrefix(data, wasmMagic) {
		return "", fmt.Errorf("fetch %s: not a WebAssembly binary", src.Location())
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}

	// Write then rename so an interrupted download never leaves a partial file.
	tmp, err := os.CreateTemp(outDir, ".ruby.wasm-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return "", err
	}
	return output, nil
}
