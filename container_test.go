package ajp

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const leaktestEnabled = true

// containerFrame returns a frame as sent by a container.
func containerFrame(build func(fd *FrameData)) []byte {
	fd := NewFrameData()
	fd = append(fd, ContainerMagic0, ContainerMagic1, 0, 0)
	build(&fd)
	fd.Header().SetSizeValue(len(fd) - FrameHeaderSize)
	return fd
}

func cpongFrame() []byte {
	return containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeCPong))
	})
}

func sendHeadersFrame(status int, reason string, headers ...Header) []byte {
	return containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeSendHeaders))
		fd.WriteUint16(uint16(status))
		fd.WriteString(reason)
		fd.WriteUint16(uint16(len(headers)))
		for _, h := range headers {
			if code, ok := ResponseHeaderCode(h.Name); ok {
				fd.WriteUint16(code)
			} else {
				fd.WriteString(h.Name)
			}
			fd.WriteString(h.Value)
		}
	})
}

func bodyChunkFrame(data string) []byte {
	return containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeSendBodyChunk))
		fd.WriteUint16(uint16(len(data)))
		_, _ = fd.Write([]byte(data))
		fd.WriteUint8(0)
	})
}

func getBodyChunkFrame(n int) []byte {
	return containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeGetBodyChunk))
		fd.WriteUint16(uint16(n))
	})
}

func endResponseFrame(reuse bool) []byte {
	return containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeEndResponse))
		fd.WriteBool(reuse)
	})
}

// fakeContainer is the container end of a net.Pipe. Each frame received
// from the client is passed to handle, which may write replies.
type fakeContainer struct {
	t      *testing.T
	conn   net.Conn
	mu     sync.Mutex
	frames [][]byte
	done   chan struct{}
}

// containerFunc handles a client frame. payload excludes the header.
type containerFunc func(fc *fakeContainer, payload []byte)

// newFakeContainer returns a started client Conn connected to a fake container.
func newFakeContainer(t *testing.T, handle containerFunc) (*fakeContainer, *Conn) {
	client, server := net.Pipe()
	return serveFakeContainer(t, server, handle), NewConn(client).Start()
}

func serveFakeContainer(t *testing.T, conn net.Conn, handle containerFunc) *fakeContainer {
	fc := &fakeContainer{t: t, conn: conn, done: make(chan struct{})}
	go fc.serve(handle)
	return fc
}

func (fc *fakeContainer) serve(handle containerFunc) {
	defer close(fc.done)
	defer fc.conn.Close()
	hdr := make([]byte, FrameHeaderSize)
	for {
		if _, err := io.ReadFull(fc.conn, hdr); err != nil {
			return
		}
		if !FrameHeader(hdr).HasClientMagic() {
			assert.Fail(fc.t, "bad client magic", "%x", hdr)
			return
		}
		payload := make([]byte, FrameHeader(hdr).SizeValue())
		if _, err := io.ReadFull(fc.conn, payload); err != nil {
			return
		}
		fc.mu.Lock()
		fc.frames = append(fc.frames, payload)
		fc.mu.Unlock()
		if handle != nil {
			handle(fc, payload)
		}
	}
}

// send writes frames to the client, ignoring errors from a closed pipe.
func (fc *fakeContainer) send(frames ...[]byte) {
	for _, f := range frames {
		if _, err := fc.conn.Write(f); err != nil {
			return
		}
	}
}

// received returns a copy of the frame payloads received so far.
func (fc *fakeContainer) received() [][]byte {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([][]byte(nil), fc.frames...)
}

// Close hangs up and waits for the serving goroutine to exit.
func (fc *fakeContainer) Close() {
	fc.conn.Close()
	select {
	case <-fc.done:
	case <-time.After(time.Second * 5):
		assert.Fail(fc.t, "fake container did not stop")
	}
}

// pongContainer answers every CPing with a CPong.
func pongContainer(fc *fakeContainer, payload []byte) {
	if len(payload) == 1 && MessageType(payload[0]) == MessageTypeCPing {
		fc.send(cpongFrame())
	}
}

// pipeTransport dials in-memory fake containers.
type pipeTransport struct {
	t      *testing.T
	handle containerFunc
	mu     sync.Mutex
	fcs    []*fakeContainer
	dials  int
	fail   func(n int) error
}

func newPipeTransport(t *testing.T, handle containerFunc) *pipeTransport {
	return &pipeTransport{t: t, handle: handle}
}

func (pt *pipeTransport) Dial(ctx context.Context, addr string) (*Conn, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.dials++
	if pt.fail != nil {
		if err := pt.fail(pt.dials); err != nil {
			return nil, err
		}
	}
	fc, conn := newFakeContainer(pt.t, pt.handle)
	pt.fcs = append(pt.fcs, fc)
	return conn, nil
}

func (pt *pipeTransport) dialCount() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.dials
}

func (pt *pipeTransport) containers() []*fakeContainer {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return append([]*fakeContainer(nil), pt.fcs...)
}

func (pt *pipeTransport) Close() {
	for _, fc := range pt.containers() {
		fc.Close()
	}
}

// containerServer accepts TCP connections and serves each with a fake container.
type containerServer struct {
	t      *testing.T
	ln     net.Listener
	handle containerFunc
	mu     sync.Mutex
	fcs    []*fakeContainer
	done   chan struct{}
}

func newContainerServer(t *testing.T, handle containerFunc) *containerServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cs := &containerServer{t: t, ln: ln, handle: handle, done: make(chan struct{})}
	go cs.accept()
	return cs
}

func (cs *containerServer) Addr() string {
	return cs.ln.Addr().String()
}

func (cs *containerServer) accept() {
	defer close(cs.done)
	for {
		conn, err := cs.ln.Accept()
		if err != nil {
			return
		}
		cs.mu.Lock()
		cs.fcs = append(cs.fcs, serveFakeContainer(cs.t, conn, cs.handle))
		cs.mu.Unlock()
	}
}

func (cs *containerServer) Close() {
	cs.ln.Close()
	<-cs.done
	cs.mu.Lock()
	fcs := cs.fcs
	cs.mu.Unlock()
	for _, fc := range fcs {
		fc.Close()
	}
}

// echoContainer answers CPings, and answers forwarded requests with
// the request URI as the body.
func echoContainer(fc *fakeContainer, payload []byte) {
	switch MessageType(payload[0]) {
	case MessageTypeCPing:
		fc.send(cpongFrame())
	case MessageTypeForwardRequest:
		req, err := DecodeForwardRequest(payload)
		if err != nil {
			fc.conn.Close()
			return
		}
		fc.send(
			sendHeadersFrame(200, "OK", Header{"Content-Type", "text/plain"}),
			bodyChunkFrame(req.URI),
			endResponseFrame(true),
		)
	}
}
