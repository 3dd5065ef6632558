/*
Package stream moves request and response bodies chunk by chunk between
the client and the backend.

A stream delivers any number of data chunks to its sink, followed by
exactly one terminal signal: the end of the data, or a failure. Chunks
are delivered in the order they were read, and nothing is delivered
after the terminal signal.
*/
package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

const bufferSize = 8192

// ErrTerminated is returned when data is sent to a terminated stream.
var ErrTerminated = errors.New("stream terminated")

// Sink consumes the chunks of a stream.
type Sink interface {
	Write(p []byte) error
	End() error
}

// Aborter is implemented by the sinks that need to be notified when
// the stream fails.
type Aborter interface {
	Abort(err error)
}

// Stream guards a sink so that it receives exactly one terminal signal.
type Stream struct {
	sink Sink
	mu   sync.Mutex
	done bool
	err  error
}

func New(s Sink) *Stream {
	return &Stream{sink: s}
}

// Data passes a chunk to the sink.
func (s *Stream) Data(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrTerminated
	}

	return s.sink.Write(p)
}

// End signals the end of the data. Calls after the first terminal signal
// are ignored.
func (s *Stream) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}

	s.done = true
	return s.sink.End()
}

// Fail terminates the stream with an error. Calls after the first
// terminal signal are ignored.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}

	s.done = true
	s.err = err
	if a, ok := s.sink.(Aborter); ok {
		a.Abort(err)
	}
}

// Err returns the error the stream failed with, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Forward reads r until EOF and passes every chunk to the stream, then
// ends it. On a read or write error, or when the context is cancelled,
// the stream fails and the error is returned.
func Forward(ctx context.Context, r io.Reader, s *Stream) error {
	b := make([]byte, bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			s.Fail(err)
			return err
		}

		l, rerr := r.Read(b)
		if rerr != nil && rerr != io.EOF {
			s.Fail(rerr)
			return rerr
		}

		if l > 0 {
			if err := s.Data(b[:l]); err != nil {
				s.Fail(err)
				return err
			}
		}

		if rerr == io.EOF {
			return s.End()
		}
	}
}

// FlushWriter is a writer that can send the buffered data to the
// client immediately.
type FlushWriter interface {
	io.Writer
	http.Flusher
}

// Copy streams r to w, flushing each chunk. It returns the number of
// bytes written.
func Copy(ctx context.Context, w FlushWriter, r io.Reader) (int64, error) {
	b := make([]byte, bufferSize)
	var n int64

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		l, rerr := r.Read(b)
		if rerr != nil && rerr != io.EOF {
			return n, rerr
		}

		if l > 0 {
			wl, werr := w.Write(b[:l])
			n += int64(wl)
			if werr != nil {
				return n, werr
			}

			w.Flush()
		}

		if rerr == io.EOF {
			return n, nil
		}
	}
}
