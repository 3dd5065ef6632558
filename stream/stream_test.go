package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	chunks  [][]byte
	ends    int
	aborts  []error
	failure error
}

func (s *recordingSink) Write(p []byte) error {
	if s.failure != nil {
		return s.failure
	}

	s.chunks = append(s.chunks, bytes.Clone(p))
	return nil
}

func (s *recordingSink) End() error {
	s.ends++
	return nil
}

func (s *recordingSink) Abort(err error) {
	s.aborts = append(s.aborts, err)
}

func (s *recordingSink) data() string {
	return string(bytes.Join(s.chunks, nil))
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}

	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestForward(t *testing.T) {
	payload := strings.Repeat("0123456789", 2000)

	s := &recordingSink{}
	err := Forward(context.Background(), strings.NewReader(payload), New(s))

	require.NoError(t, err)
	assert.Equal(t, payload, s.data())
	assert.Greater(t, len(s.chunks), 1)
	assert.Equal(t, 1, s.ends)
	assert.Empty(t, s.aborts)
}

func TestForwardEmpty(t *testing.T) {
	s := &recordingSink{}
	require.NoError(t, Forward(context.Background(), strings.NewReader(""), New(s)))
	assert.Empty(t, s.chunks)
	assert.Equal(t, 1, s.ends)
}

func TestForwardReadError(t *testing.T) {
	readErr := errors.New("connection reset")
	s := &recordingSink{}
	st := New(s)

	err := Forward(context.Background(), &failingReader{data: []byte("partial"), err: readErr}, st)

	assert.ErrorIs(t, err, readErr)
	assert.Equal(t, "partial", s.data())
	assert.Equal(t, 0, s.ends)
	assert.Equal(t, []error{readErr}, s.aborts)
	assert.ErrorIs(t, st.Err(), readErr)
}

func TestForwardWriteError(t *testing.T) {
	writeErr := errors.New("backend gone")
	s := &recordingSink{failure: writeErr}

	err := Forward(context.Background(), strings.NewReader("data"), New(s))

	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 0, s.ends)
	assert.Len(t, s.aborts, 1)
}

func TestForwardCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &recordingSink{}
	err := Forward(ctx, strings.NewReader("data"), New(s))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.chunks)
	assert.Equal(t, 0, s.ends)
	assert.Len(t, s.aborts, 1)
}

func TestSingleTerminalSignal(t *testing.T) {
	s := &recordingSink{}
	st := New(s)

	require.NoError(t, st.Data([]byte("a")))
	require.NoError(t, st.End())
	require.NoError(t, st.End())
	st.Fail(errors.New("late"))

	assert.ErrorIs(t, st.Data([]byte("b")), ErrTerminated)
	assert.Equal(t, "a", s.data())
	assert.Equal(t, 1, s.ends)
	assert.Empty(t, s.aborts)
	assert.NoError(t, st.Err())

	s = &recordingSink{}
	st = New(s)
	st.Fail(io.ErrUnexpectedEOF)
	st.Fail(errors.New("second"))
	require.NoError(t, st.End())

	assert.Equal(t, 0, s.ends)
	assert.Equal(t, []error{io.ErrUnexpectedEOF}, s.aborts)
}

func TestCopy(t *testing.T) {
	payload := strings.Repeat("x", 3*bufferSize+10)
	w := httptest.NewRecorder()

	n, err := Copy(context.Background(), w, strings.NewReader(payload))

	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, payload, w.Body.String())
	assert.True(t, w.Flushed)
}

func TestCopyReadError(t *testing.T) {
	readErr := errors.New("backend reset")
	w := httptest.NewRecorder()

	n, err := Copy(context.Background(), w, &failingReader{data: []byte("head"), err: readErr})

	assert.ErrorIs(t, err, readErr)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, "head", w.Body.String())
}

func TestCopyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	n, err := Copy(ctx, w, strings.NewReader("data"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
