package ajp

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
)

var errResponseClosed = errors.New("response closed")

// responseWriter is a ForwardResponse writing to a http.ResponseWriter.
// Once closed it ignores further calls, so nothing reaches w after the
// handler returns.
type responseWriter struct {
	w           http.ResponseWriter
	mu          sync.Mutex
	closed      bool
	code        int
	wroteHeader bool
	written     int64
	err         error
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w: w, code: http.StatusOK}
}

func (rw *responseWriter) SetStatus(code int, reason string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.code = code
}

func (rw *responseWriter) AddHeader(name, value string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.closed || isHopHeader(name) {
		return
	}
	rw.w.Header().Add(name, value)
}

func (rw *responseWriter) BodyBegin() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.writeHeader()
}

func (rw *responseWriter) writeHeader() {
	if !rw.closed && !rw.wroteHeader {
		rw.wroteHeader = true
		rw.w.WriteHeader(rw.code)
	}
}

func (rw *responseWriter) Write(p []byte) (n int, err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.closed {
		return 0, errors.WithStack(errResponseClosed)
	}
	rw.writeHeader()
	n, err = rw.w.Write(p)
	rw.written += int64(n)
	if f, ok := rw.w.(http.Flusher); ok && err == nil {
		f.Flush()
	}
	return
}

func (rw *responseWriter) BodyEnd(reuse bool) {
	rw.BodyBegin()
}

// Fail sends an error status if nothing has been written yet.
func (rw *responseWriter) Fail(err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.fail(err)
}

func (rw *responseWriter) fail(err error) {
	if rw.closed || rw.err != nil {
		return
	}
	rw.err = err
	if !rw.wroteHeader {
		rw.wroteHeader = true
		http.Error(rw.w, http.StatusText(failureStatus(err)), failureStatus(err))
	}
}

// close fails the response with err unless it already failed, and
// detaches it from w. It returns the bytes written.
func (rw *responseWriter) close(err error) int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if err != nil {
		rw.fail(err)
	}
	rw.closed = true
	return rw.written
}

// body wraps r so that reads stop once the response is closed.
func (rw *responseWriter) body(r io.Reader) io.Reader {
	if r == nil {
		return nil
	}
	return &responseBody{rw: rw, r: r}
}

type responseBody struct {
	rw *responseWriter
	r  io.Reader
}

func (rb *responseBody) Read(p []byte) (int, error) {
	rb.rw.mu.Lock()
	defer rb.rw.mu.Unlock()
	if rb.rw.closed {
		return 0, errors.WithStack(http.ErrBodyReadAfterClose)
	}
	return rb.r.Read(p)
}

// failureStatus maps a forward failure to a HTTP status code.
func failureStatus(err error) int {
	if _, ok := errors.Cause(err).(RequestError); ok {
		return http.StatusBadRequest
	}
	if IsTimeout(err) || errors.Cause(err) == context.DeadlineExceeded {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}
