package ajp

import (
	"bytes"
	"sync"
)

// ForwardResponse receives the container's response to a forwarded request.
// All calls except Fail arrive from the connection's read goroutine, in wire order.
type ForwardResponse interface {
	// SetStatus is called with the response status code and reason phrase.
	SetStatus(code int, reason string)
	// AddHeader is called once per response header, after SetStatus.
	AddHeader(name, value string)
	// BodyBegin is called after the last header.
	BodyBegin()
	// Write receives raw response body bytes.
	Write(p []byte) (int, error)
	// BodyEnd is called when the container ends the response.
	BodyEnd(reuse bool)
	// Fail is called if the exchange could not complete, for example on
	// timeout or if the connection was lost.
	Fail(err error)
}

// ResponseRecorder is a ForwardResponse that keeps everything in memory.
type ResponseRecorder struct {
	mu      sync.Mutex
	Status  int
	Reason  string
	Headers []Header
	Body    bytes.Buffer
	Began   bool
	Ended   bool
	Reuse   bool
	Err     error
}

// NewResponseRecorder returns an initialized ResponseRecorder.
func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{}
}

// SetStatus records the status.
func (rr *ResponseRecorder) SetStatus(code int, reason string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.Status = code
	rr.Reason = reason
}

// AddHeader records a header.
func (rr *ResponseRecorder) AddHeader(name, value string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.Headers = append(rr.Headers, Header{Name: name, Value: value})
}

// BodyBegin notes the start of the body.
func (rr *ResponseRecorder) BodyBegin() {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.Began = true
}

// Write appends to Body.
func (rr *ResponseRecorder) Write(p []byte) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.Body.Write(p)
}

// BodyEnd notes the end of the body.
func (rr *ResponseRecorder) BodyEnd(reuse bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.Ended = true
	rr.Reuse = reuse
}

// Fail records the first failure.
func (rr *ResponseRecorder) Fail(err error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.Err == nil {
		rr.Err = err
	}
}

// Header returns the first value of the named response header, case insensitive.
func (rr *ResponseRecorder) Header(name string) (string, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return headerValue(rr.Headers, name)
}

// Failure returns the error passed to Fail, if any.
func (rr *ResponseRecorder) Failure() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.Err
}
