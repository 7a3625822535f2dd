package ajp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Forward sends a Request to the container and streams the container's
// response into Response.
type Forward struct {
	Request  *Request
	Response ForwardResponse
	Timeout  time.Duration // DefaultForwardTimeout if zero
}

type forwardConversation struct {
	completion
	req      *Request
	resp     ForwardResponse
	io       sync.Mutex // serializes body reads and Response calls
	mu       sync.Mutex // guards the fields below
	busy     bool       // a body read or Response call is in progress
	finished bool       // set when Run returns
	failure  error      // Fail still owed to Response by the busy call
	reading  int32      // atomic, set until the initial body chunk is read
	sent     int64      // atomic request body bytes sent
	received int64      // atomic response body bytes received
}

func (fc *forwardConversation) String() string {
	return fmt.Sprintf("[Forward %v %s sent=%d rcvd=%d]", fc.req, getRunStateText(fc.getState()),
		atomic.LoadInt64(&fc.sent), atomic.LoadInt64(&fc.received))
}

// Run performs the exchange and returns the container's reuse flag.
//
// An invalid request returns a RequestError before anything is sent and
// Response is not notified. Every other failure is also passed to
// Response.Fail, and the Conn is closed.
//
// Run never waits for the request body or Response once the exchange has
// failed. A body read or Response call still in progress at that point
// completes on its own goroutine and is followed by Response.Fail; no other
// calls are made after Run returns.
func (f Forward) Run(ctx context.Context, conn *Conn) (reuse bool, err error) {
	req := f.Request
	if req == nil {
		return false, RequestError{Reason: "nil request"}
	}
	fd, err := EncodeForwardRequest(req)
	if err != nil {
		return false, err
	}
	defer FrameDataFree(fd)
	contentLength, _ := req.ContentLength()

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}

	fc := &forwardConversation{
		completion: newCompletion(),
		req:        req,
		resp:       f.Response,
	}

	b, err := conn.bind(fc)
	if err != nil {
		fc.fail(err)
		return false, err
	}
	defer conn.unbind(b)

	if err = fc.send(conn, fd, contentLength); err == nil {
		reuse, err = fc.wait(ctx, conn, timeout)
	}

	if err != nil {
		if IsTimeout(err) {
			fc.setState(runStateTimedOut)
		} else {
			fc.setState(runStateFailed)
		}
		_ = conn.Close()
		conn.Logger.Debug("forward failed", zap.Stringer("conn", conn), zap.Stringer("forward", fc), zap.Error(err))
		fc.finish(err)
		return false, err
	}
	fc.finish(nil)
	if atomic.LoadInt32(&fc.reading) != 0 {
		// replied before the initial chunk was read, so it may still be written
		reuse = false
	}
	fc.setState(runStateCompleted)
	return reuse, nil
}

func (fc *forwardConversation) fail(err error) {
	if fc.resp != nil {
		fc.resp.Fail(err)
	}
}

// enter starts a body read or Response call. It returns false once Run
// has returned, in which case the caller must not touch either.
func (fc *forwardConversation) enter() bool {
	fc.io.Lock()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.finished {
		fc.io.Unlock()
		return false
	}
	fc.busy = true
	return true
}

// leave ends the call started by enter, delivering a failure Run left behind.
func (fc *forwardConversation) leave() {
	fc.mu.Lock()
	fc.busy = false
	err := fc.failure
	fc.failure = nil
	fc.mu.Unlock()
	if err != nil {
		fc.fail(err)
	}
	fc.io.Unlock()
}

// finish is called by Run and does not wait for a call in progress.
func (fc *forwardConversation) finish(err error) {
	fc.mu.Lock()
	fc.finished = true
	deliver := err != nil && !fc.busy
	if err != nil && fc.busy {
		fc.failure = err
	}
	fc.mu.Unlock()
	if deliver {
		fc.fail(err)
	}
}

// send writes the Forward-Request and starts sending the initial body
// chunk, if any, from its own goroutine.
func (fc *forwardConversation) send(conn *Conn, fd FrameData, contentLength int64) (err error) {
	if err = conn.WriteFrame(fd); err != nil {
		return
	}
	fc.setState(runStateRequestSent)
	if contentLength > 0 {
		n := MaxSendChunkSize
		if contentLength < int64(n) {
			n = int(contentLength)
		}
		atomic.StoreInt32(&fc.reading, 1)
		go fc.pushChunk(conn, n)
	}
	return
}

func (fc *forwardConversation) pushChunk(conn *Conn, n int) {
	if !fc.enter() {
		return
	}
	defer fc.leave()
	if err := fc.sendChunk(conn, n); err != nil {
		fc.resolve(false, err)
	}
}

func (fc *forwardConversation) sendChunk(conn *Conn, n int) error {
	chunk, count, err := ReadBodyChunk(fc.req.Body, n)
	atomic.StoreInt32(&fc.reading, 0)
	if err != nil {
		return errors.Wrap(err, "reading request body")
	}
	defer FrameDataFree(chunk)
	atomic.AddInt64(&fc.sent, int64(count))
	return conn.WriteFrame(chunk)
}

func (fc *forwardConversation) handleMessage(conn *Conn, m *Message) (err error) {
	if fc.isResolved() || !fc.enter() {
		return nil
	}
	defer fc.leave()
	fc.setState(runStateExchanging)
	switch m.Type {
	case MessageTypeGetBodyChunk:
		err = fc.sendChunk(conn, m.Requested)
	case MessageTypeSendHeaders:
		if fc.resp != nil {
			fc.resp.SetStatus(m.Status, m.Reason)
			for _, h := range m.Headers {
				fc.resp.AddHeader(h.Name, h.Value)
			}
			fc.resp.BodyBegin()
		}
	case MessageTypeSendBodyChunk:
		atomic.AddInt64(&fc.received, int64(len(m.Chunk)))
		if fc.resp != nil && len(m.Chunk) > 0 {
			if _, err = fc.resp.Write(m.Chunk); err != nil {
				err = errors.Wrap(err, "writing response body")
			}
		}
	case MessageTypeEndResponse:
		if left, ok := conn.dec.ExpectedBytes(); ok && left != 0 {
			conn.Logger.Debug("response body length mismatch", zap.Stringer("conn", conn), zap.Int64("left", left))
		}
		if fc.resp != nil {
			fc.resp.BodyEnd(m.Reuse)
		}
		fc.resolve(m.Reuse, nil)
	case MessageTypeCPong:
		conn.Logger.Warn("unexpected CPong during forward", zap.Stringer("conn", conn))
	}
	if err != nil {
		fc.resolve(false, err)
	}
	return
}

func (fc *forwardConversation) handleClose(conn *Conn, err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	fc.resolve(false, err)
}
