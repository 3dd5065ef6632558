package logging

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// LoggingWriter records the status code and the size of the response
// written through it.
type LoggingWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

func NewLoggingWriter(w http.ResponseWriter) *LoggingWriter {
	return &LoggingWriter{writer: w}
}

func (lw *LoggingWriter) Write(data []byte) (count int, err error) {
	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	count, err = lw.writer.Write(data)
	lw.bytes += int64(count)
	return
}

func (lw *LoggingWriter) WriteHeader(code int) {
	if code == 0 {
		code = http.StatusOK
	}

	lw.writer.WriteHeader(code)
	lw.code = code
}

func (lw *LoggingWriter) Header() http.Header {
	return lw.writer.Header()
}

func (lw *LoggingWriter) Flush() {
	if f, ok := lw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *LoggingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hij, ok := lw.writer.(http.Hijacker)
	if ok {
		return hij.Hijack()
	}
	return nil, nil, fmt.Errorf("could not hijack connection")
}

// Unwrap returns the wrapped writer, for http.ResponseController.
func (lw *LoggingWriter) Unwrap() http.ResponseWriter { return lw.writer }

// StatusCode returns the status sent to the client, or zero when the
// headers were not written yet.
func (lw *LoggingWriter) StatusCode() int { return lw.code }

// HeaderWritten tells whether the headers were sent to the client.
func (lw *LoggingWriter) HeaderWritten() bool { return lw.code != 0 }

// Bytes returns the number of body bytes written.
func (lw *LoggingWriter) Bytes() int64 { return lw.bytes }
