package vfs

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Sink receives decoded text chunks in the order the program writes them.
type Sink func(text string)

type sinkWriter struct {
	sink Sink
}

func (w sinkWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.sink(string(p))
	}
	return len(p), nil
}

// Stream is the descriptor-table entry for an output descriptor.
//
// Each Write is first decoded as UTF-8 and handed to the stream's sink, then
// recorded as an ordinary write: the offset advances and the bytes are
// retained up to the retain limit. A rune split across two writes reaches the
// sink whole; invalid bytes become U+FFFD.
type Stream struct {
	fd     int
	decode *transform.Writer // nil without a sink

	mu       sync.Mutex
	offset   int64
	retained bytes.Buffer
	limit    int64
	closed   bool
}

func newStream(fd int, sink Sink, limit int64) *Stream {
	s := &Stream{fd: fd, limit: limit}
	if sink != nil {
		s.decode = transform.NewWriter(sinkWriter{sink: sink}, unicode.UTF8.NewDecoder())
	}
	return s
}

// Fd returns the descriptor number the stream is installed at.
func (s *Stream) Fd() int {
	return s.fd
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	if s.decode != nil {
		if _, err := s.decode.Write(p); err != nil {
			return 0, err
		}
	}

	if room := s.limit - int64(s.retained.Len()); s.limit < 0 || room >= int64(len(p)) {
		s.retained.Write(p)
	} else if room > 0 {
		s.retained.Write(p[:room])
	}
	s.offset += int64(len(p))
	return len(p), nil
}

// Offset is the total number of bytes written to the stream.
func (s *Stream) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Bytes returns a copy of the retained output.
func (s *Stream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.retained.Bytes())
}

// Close flushes a trailing partial rune to the sink and rejects later writes.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.decode != nil {
		return s.decode.Close()
	}
	return nil
}
