package ajp

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func helloContainer(reuse bool) containerFunc {
	return func(fc *fakeContainer, payload []byte) {
		if MessageType(payload[0]) == MessageTypeForwardRequest {
			fc.send(
				sendHeadersFrame(200, "OK", Header{"Content-Type", "text/plain"}, Header{"Content-Length", "11"}, Header{"X-Served-By", "fake"}),
				bodyChunkFrame("hello "),
				bodyChunkFrame("world"),
				endResponseFrame(reuse),
			)
		}
	}
}

func Test_Forward_Get(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, helloContainer(true))
	defer fc.Close()
	defer conn.Close()

	rr := NewResponseRecorder()
	reuse, err := Forward{Request: newTestRequest("GET", "/hello"), Response: rr}.Run(context.Background(), conn)
	require.NoError(t, err)
	assert.True(t, reuse)
	assert.False(t, conn.Bound())

	assert.Equal(t, 200, rr.Status)
	assert.Equal(t, "OK", rr.Reason)
	ct, ok := rr.Header("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", ct)
	xs, _ := rr.Header("X-Served-By")
	assert.Equal(t, "fake", xs)
	assert.Equal(t, "hello world", rr.Body.String())
	assert.True(t, rr.Began)
	assert.True(t, rr.Ended)
	assert.True(t, rr.Reuse)
	assert.NoError(t, rr.Failure())

	frames := fc.received()
	require.Len(t, frames, 1)
	got, err := DecodeForwardRequest(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "/hello", got.URI)

	// a second exchange on the same Conn
	rr = NewResponseRecorder()
	reuse, err = Forward{Request: newTestRequest("GET", "/again"), Response: rr}.Run(context.Background(), conn)
	require.NoError(t, err)
	assert.True(t, reuse)
	assert.Equal(t, "hello world", rr.Body.String())
}

func Test_Forward_NoReuse(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, helloContainer(false))
	defer fc.Close()
	defer conn.Close()

	rr := NewResponseRecorder()
	reuse, err := Forward{Request: newTestRequest("GET", "/"), Response: rr}.Run(context.Background(), conn)
	assert.NoError(t, err)
	assert.False(t, reuse)
	assert.True(t, rr.Ended)
	assert.False(t, rr.Reuse)
}

func Test_Forward_NilResponse(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, helloContainer(true))
	defer fc.Close()
	defer conn.Close()

	reuse, err := Forward{Request: newTestRequest("GET", "/")}.Run(context.Background(), conn)
	assert.NoError(t, err)
	assert.True(t, reuse)
}

func Test_Forward_PostBody(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	const size = MaxSendChunkSize + 1814
	body := bytes.Repeat([]byte("0123456789"), size/10+1)[:size]

	var gotBody []byte
	var chunkSizes []int
	frameNo := 0
	fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
		frameNo++
		if frameNo == 1 {
			assert.Equal(t, MessageTypeForwardRequest, MessageType(payload[0]))
			return
		}
		n := int(payload[0])<<8 | int(payload[1])
		chunkSizes = append(chunkSizes, n)
		gotBody = append(gotBody, payload[2:2+n]...)
		if len(gotBody) < size {
			fc.send(getBodyChunk(size - len(gotBody)))
			return
		}
		fc.send(sendHeadersFrame(201, "Created"), endResponseFrame(true))
	})
	defer fc.Close()
	defer conn.Close()

	req := newTestRequest("POST", "/upload")
	req.AddHeader("Content-Length", strconv.Itoa(size))
	req.Body = bytes.NewReader(body)
	rr := NewResponseRecorder()
	reuse, err := Forward{Request: req, Response: rr}.Run(context.Background(), conn)
	require.NoError(t, err)
	assert.True(t, reuse)
	assert.Equal(t, 201, rr.Status)
	assert.Equal(t, []int{MaxSendChunkSize, 1814}, chunkSizes)
	assert.Equal(t, body, gotBody)
}

func getBodyChunk(n int) []byte {
	if n > MaxReceiveChunkSize {
		n = MaxReceiveChunkSize
	}
	return getBodyChunkFrame(n)
}

func Test_Forward_BodyExhausted(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	var chunks [][]byte
	fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
		if len(chunks) == 0 && MessageType(payload[0]) == MessageTypeForwardRequest {
			chunks = append(chunks, nil)
			return
		}
		chunks = append(chunks, payload)
		if len(chunks) == 2 {
			// asks for more than the body holds
			fc.send(getBodyChunkFrame(100))
			return
		}
		fc.send(sendHeadersFrame(204, "No Content"), endResponseFrame(true))
	})
	defer fc.Close()
	defer conn.Close()

	req := newTestRequest("PUT", "/x")
	req.AddHeader("Content-Length", "3")
	req.Body = bytes.NewReader([]byte("abc"))
	rr := NewResponseRecorder()
	_, err := Forward{Request: req, Response: rr}.Run(context.Background(), conn)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte{0, 3, 'a', 'b', 'c'}, chunks[1])
	assert.Equal(t, []byte{0, 0}, chunks[2])
	assert.Equal(t, 204, rr.Status)
}

func Test_Forward_Timeout(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, nil)
	defer fc.Close()
	defer conn.Close()

	rr := NewResponseRecorder()
	reuse, err := Forward{Request: newTestRequest("GET", "/"), Response: rr, Timeout: time.Millisecond * 50}.Run(context.Background(), conn)
	assert.False(t, reuse)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsTimeout(rr.Failure()))
	assert.False(t, conn.Bound())
	// the connection is discarded
	waitClosed(t, conn.Done())
}

// stalledReader blocks every Read until release is closed.
type stalledReader struct {
	release chan struct{}
}

func (sr *stalledReader) Read(p []byte) (int, error) {
	<-sr.release
	return 0, io.EOF
}

func Test_Forward_BodyStalled(t *testing.T) {
	for _, header := range []Header{
		{"Transfer-Encoding", "chunked"},
		{"Content-Length", "100"},
	} {
		t.Run(header.Name, func(t *testing.T) {
			if leaktestEnabled {
				defer leaktest.Check(t)()
			}
			fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
				if MessageType(payload[0]) == MessageTypeForwardRequest {
					fc.send(getBodyChunkFrame(100))
				}
			})
			defer fc.Close()
			defer conn.Close()

			body := &stalledReader{release: make(chan struct{})}
			req := newTestRequest("POST", "/upload")
			req.AddHeader(header.Name, header.Value)
			req.Body = body
			rr := NewResponseRecorder()

			start := time.Now()
			reuse, err := Forward{Request: req, Response: rr, Timeout: time.Millisecond * 100}.Run(context.Background(), conn)
			assert.Less(t, time.Since(start), time.Second)
			assert.False(t, reuse)
			assert.True(t, IsTimeout(err))
			assert.False(t, conn.Bound())
			// Fail waits for the body read to return
			assert.NoError(t, rr.Failure())

			close(body.release)
			assert.Eventually(t, func() bool { return IsTimeout(rr.Failure()) }, time.Second*5, time.Millisecond)
			waitClosed(t, conn.Done())
		})
	}
}

// stalledResponse blocks in Write until release is closed.
type stalledResponse struct {
	*ResponseRecorder
	writing chan struct{}
	release chan struct{}
}

func (sr *stalledResponse) Write(p []byte) (int, error) {
	close(sr.writing)
	<-sr.release
	return sr.ResponseRecorder.Write(p)
}

func Test_Forward_ResponseStalled(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, helloContainer(true))
	defer fc.Close()
	defer conn.Close()

	sr := &stalledResponse{
		ResponseRecorder: NewResponseRecorder(),
		writing:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	start := time.Now()
	reuse, err := Forward{Request: newTestRequest("GET", "/"), Response: sr, Timeout: time.Millisecond * 100}.Run(context.Background(), conn)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, reuse)
	assert.True(t, IsTimeout(err))
	<-sr.writing
	assert.NoError(t, sr.Failure())

	close(sr.release)
	assert.Eventually(t, func() bool { return IsTimeout(sr.Failure()) }, time.Second*5, time.Millisecond)
	waitClosed(t, conn.Done())
	assert.Equal(t, 200, sr.Status)
	assert.Equal(t, "hello ", sr.Body.String())
	assert.False(t, sr.Ended)
}

func Test_Forward_ConnLost(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
		fc.send(sendHeadersFrame(200, "OK"), bodyChunkFrame("partial"))
		fc.conn.Close()
	})
	defer fc.Close()
	defer conn.Close()

	rr := NewResponseRecorder()
	reuse, err := Forward{Request: newTestRequest("GET", "/"), Response: rr}.Run(context.Background(), conn)
	assert.False(t, reuse)
	assert.True(t, IsClosedError(err))
	assert.Equal(t, 200, rr.Status)
	assert.Equal(t, "partial", rr.Body.String())
	assert.False(t, rr.Ended)
	assert.Error(t, rr.Failure())
}

func Test_Forward_UnknownMessageType(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
		fc.send(containerFrame(func(fd *FrameData) {
			fd.WriteUint8(byte(MessageTypeCPing))
		}))
	})
	defer fc.Close()
	defer conn.Close()

	rr := NewResponseRecorder()
	_, err := Forward{Request: newTestRequest("GET", "/"), Response: rr}.Run(context.Background(), conn)
	_, ok := errors.Cause(err).(ErrUnknownMessageType)
	assert.True(t, ok)
	waitClosed(t, conn.Done())
	assert.Error(t, rr.Failure())
}

func Test_Forward_InvalidRequest(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, nil)
	defer fc.Close()
	defer conn.Close()

	rr := NewResponseRecorder()
	_, err := Forward{Request: newTestRequest("POST", "/"), Response: rr}.Run(context.Background(), conn)
	assert.IsType(t, RequestError{}, err)
	assert.NoError(t, rr.Failure())

	_, err = Forward{Response: rr}.Run(context.Background(), conn)
	assert.IsType(t, RequestError{}, err)
	assert.Empty(t, fc.received())
	assert.False(t, conn.Bound())
}

func Test_Forward_Busy(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, nil)
	defer fc.Close()
	defer conn.Close()
	b, err := conn.bind(newTestReceiver())
	require.NoError(t, err)
	defer conn.unbind(b)

	rr := NewResponseRecorder()
	_, err = Forward{Request: newTestRequest("GET", "/"), Response: rr}.Run(context.Background(), conn)
	assert.Equal(t, ErrConnBusy, errors.Cause(err))
	assert.Equal(t, ErrConnBusy, errors.Cause(rr.Failure()))
	assert.Empty(t, fc.received())
}
