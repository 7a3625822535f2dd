// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package ajp

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StatsCollector is the interface required to collect statistics
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// ErrConnBusy is returned when binding a conversation to a Conn that
// already has one bound.
var ErrConnBusy = errors.New("connection busy")

type connClosedError struct{}

func (connClosedError) Error() string { return "connection closed" }

// IsClosedError returns true if err means the connection went away.
func IsClosedError(err error) bool {
	switch errors.Cause(err) {
	case connClosedError{}:
		return true
	case io.ErrClosedPipe:
		return true
	case io.EOF:
		return true
	}
	return false
}

// receiver gets the messages read from a Conn. Calls are made from
// the Conn's read goroutine, one at a time.
type receiver interface {
	handleMessage(conn *Conn, m *Message) error
	handleClose(conn *Conn, err error)
}

type binding struct {
	r receiver
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is a single AJP13 connection to a container. A read goroutine
// decodes incoming frames and hands them to the conversation currently
// bound to the Conn. At most one conversation is bound at a time.
type Conn struct {
	io.ReadWriteCloser               // The I/O endpoint
	StatsCollector                   // Where to report statistics (optional)
	Logger             *zap.Logger   // Never nil after NewConn
	WriteTimeout       time.Duration // zero for no write deadline
	ReadBufferSize     int
	NetLog             bool // if true, log every frame at debug level
	bound              atomic.Pointer[binding]
	dec                *Decoder
	wmu                sync.Mutex // serializes writes
	mu                 sync.Mutex // guards err
	err                error
	doneChan           chan struct{}
	closeOnce          sync.Once
	started            int32
	serialNumber       uint32
}

var connNextSerialNumber uint32

// NewConn wraps rwc. Call Start to begin reading.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	logger := zap.L().Named("ajp")
	return &Conn{
		ReadWriteCloser: rwc,
		Logger:          logger,
		ReadBufferSize:  MaxMessageSize,
		dec:             NewDecoder(logger),
		doneChan:        make(chan struct{}),
		serialNumber:    atomic.AddUint32(&connNextSerialNumber, 1),
	}
}

func (conn *Conn) String() string {
	return fmt.Sprintf("[Conn %x]", conn.serialNumber)
}

// Start launches the read goroutine. It is safe to call more than once.
func (conn *Conn) Start() *Conn {
	if atomic.CompareAndSwapInt32(&conn.started, 0, 1) {
		conn.dec.Logger = conn.Logger
		go conn.readLoop()
	}
	return conn
}

// Done returns a channel that is closed when the Conn can no longer be used.
func (conn *Conn) Done() <-chan struct{} {
	return conn.doneChan
}

// Err returns the reason the Conn stopped, or nil if it is still running.
func (conn *Conn) Err() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.err
}

func (conn *Conn) isClosed() bool {
	select {
	case <-conn.doneChan:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection. The read goroutine stops
// shortly after and Done is closed.
func (conn *Conn) Close() (err error) {
	err = conn.ReadWriteCloser.Close()
	if atomic.CompareAndSwapInt32(&conn.started, 0, 1) {
		// never started, so no reader will finish for us
		conn.finish(errors.WithStack(connClosedError{}))
	}
	if IsClosedError(err) {
		err = nil
	}
	return
}

func (conn *Conn) finish(err error) {
	conn.closeOnce.Do(func() {
		if err == nil {
			err = errors.WithStack(connClosedError{})
		}
		conn.mu.Lock()
		conn.err = err
		conn.mu.Unlock()
		_ = conn.ReadWriteCloser.Close()
		close(conn.doneChan)
		if b := conn.bound.Load(); b != nil {
			b.r.handleClose(conn, err)
		}
	})
}

func (conn *Conn) readLoop() {
	var err error
	buf := make([]byte, conn.ReadBufferSize)
	for err == nil {
		var n int
		n, err = conn.ReadWriteCloser.Read(buf)
		if n > 0 {
			if conn.StatsCollector != nil {
				conn.StatsCollector.AddBytesRead(int64(n))
			}
			_, _ = conn.dec.Write(buf[:n])
			if derr := conn.dispatchAll(); derr != nil {
				conn.Logger.Error("closing connection", zap.Stringer("conn", conn), zap.Error(derr))
				err = derr
			}
		}
	}
	if IsClosedError(err) {
		err = errors.WithStack(connClosedError{})
	}
	conn.finish(err)
}

func (conn *Conn) dispatchAll() error {
	for {
		m, ok, err := conn.dec.Next()
		if err != nil || !ok {
			return err
		}
		conn.dispatch(&m)
	}
}

func (conn *Conn) dispatch(m *Message) {
	if conn.NetLog {
		conn.Logger.Debug("READ", zap.Stringer("conn", conn), zap.Stringer("msg", m))
	}
	b := conn.bound.Load()
	if b == nil {
		conn.Logger.Warn("no conversation bound, dropping message", zap.Stringer("conn", conn), zap.Stringer("msg", m))
		return
	}
	if err := b.r.handleMessage(conn, m); err != nil {
		conn.Logger.Debug("message handler failed", zap.Stringer("conn", conn), zap.Stringer("msg", m), zap.Error(err))
	}
}

// bind makes r the only receiver of messages on the Conn.
func (conn *Conn) bind(r receiver) (*binding, error) {
	b := &binding{r: r}
	if !conn.bound.CompareAndSwap(nil, b) {
		return nil, errors.WithStack(ErrConnBusy)
	}
	if conn.isClosed() {
		conn.bound.CompareAndSwap(b, nil)
		return nil, errors.WithStack(connClosedError{})
	}
	return b, nil
}

func (conn *Conn) unbind(b *binding) {
	conn.bound.CompareAndSwap(b, nil)
}

// Bound returns true if a conversation is currently bound to the Conn.
func (conn *Conn) Bound() bool {
	return conn.bound.Load() != nil
}

// WriteFrame writes a complete frame. A write error closes the Conn.
func (conn *Conn) WriteFrame(fd FrameData) error {
	return conn.write(fd)
}

func (conn *Conn) write(p []byte) (err error) {
	conn.wmu.Lock()
	defer conn.wmu.Unlock()
	if conn.isClosed() {
		return errors.WithStack(connClosedError{})
	}
	if conn.WriteTimeout > 0 {
		if wd, ok := conn.ReadWriteCloser.(writeDeadliner); ok {
			_ = wd.SetWriteDeadline(time.Now().Add(conn.WriteTimeout))
		}
	}
	if conn.NetLog {
		conn.Logger.Debug("WRIT", zap.Stringer("conn", conn), zap.Stringer("frame", FrameData(p)))
	}
	var n int64
	n, err = FrameData(p).WriteTo(conn.ReadWriteCloser)
	if conn.StatsCollector != nil && n > 0 {
		conn.StatsCollector.AddBytesWritten(n)
	}
	if err != nil {
		_ = conn.ReadWriteCloser.Close()
		return errors.WithStack(err)
	}
	return nil
}
