// Package snippet holds the helpers a documentation page uses around an
// execution: source normalisation and the output region a run writes into.
package snippet

import (
	"strings"
	"sync"
)

// Normalize removes exactly one leading newline from code. Snippets copied
// out of a page's code block usually start on the line after the fence, and
// that first newline is not part of the program.
func Normalize(code string) string {
	return strings.TrimPrefix(code, "\n")
}

// Region is an append-only text view for one snippet's output. It is created
// empty, filled chunk by chunk while a run streams, and cleared before the
// next run of the same snippet.
type Region struct {
	mu     sync.Mutex
	buf    strings.Builder
	chunks int
}

// Append adds text to the end of the region. Its signature matches
// vfs.Sink, so r.Append can be passed straight to a run.
func (r *Region) Append(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.WriteString(text)
	r.chunks++
}

// Clear empties the region.
func (r *Region) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
	r.chunks = 0
}

// String returns everything appended since the last Clear.
func (r *Region) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// Chunks reports how many non-empty appends the region has received.
func (r *Region) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks
}
