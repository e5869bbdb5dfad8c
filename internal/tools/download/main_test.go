package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emptyModule = []byte("\x00asm\x01\x00\x00\x00")

func TestPrefetchHTTP(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/dist/ruby.wasm" {
			http.NotFound(w, r)
			return
		}
		w.Write(emptyModule)
	}))
	defer ts.Close()

	out := t.TempDir()
	path, err := prefetch(context.Background(), ts.URL+"/dist", out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "ruby.wasm"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, emptyModule, data)

	// Already present: no second request.
	_, err = prefetch(context.Background(), ts.URL+"/dist", out)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPrefetchRejectsNonWasm(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "ruby.wasm"), []byte("<html>"), 0o644))

	out := t.TempDir()
	_, err := prefetch(context.Background(), src, out)
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(out, "ruby.wasm"))
	assert.True(t, os.IsNotExist(err))
}

func TestPrefetchMissing(t *testing.T) {
	_, err := prefetch(context.Background(), t.TempDir(), t.TempDir())
	assert.Error(t, err)
}
