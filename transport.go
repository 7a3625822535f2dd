package ajp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Transport opens connections to a container with the decoder running
// on the read path. Connections are closed with Conn.Close.
type Transport interface {
	Dial(ctx context.Context, addr string) (*Conn, error)
}

// NetTransport dials TCP connections, optionally wrapped in TLS.
type NetTransport struct {
	DialTimeout    time.Duration // DefaultDialTimeout if zero
	KeepAlive      time.Duration // TCP keep-alive period, zero for the system default
	WriteTimeout   time.Duration // per-frame write deadline, zero for none
	ReadBufferSize int           // MaxMessageSize if zero
	TLSConfig      *tls.Config   // if not nil, connections use TLS
	NetLog         bool          // log every frame at debug level
	Logger         *zap.Logger   // zap.L() if nil
	Stats          StatsCollector
}

// Dial opens a connection to addr and starts its read goroutine.
func (t *NetTransport) Dial(ctx context.Context, addr string) (*Conn, error) {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: t.KeepAlive}
	var nc net.Conn
	var err error
	if t.TLSConfig != nil {
		nc, err = (&tls.Dialer{NetDialer: dialer, Config: t.TLSConfig}).DialContext(ctx, "tcp", addr)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	conn := NewConn(nc)
	if t.Logger != nil {
		conn.Logger = t.Logger
	}
	if t.ReadBufferSize > 0 {
		conn.ReadBufferSize = t.ReadBufferSize
	}
	conn.WriteTimeout = t.WriteTimeout
	conn.NetLog = t.NetLog
	conn.StatsCollector = t.Stats
	return conn.Start(), nil
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, addr string) (*Conn, error)

// Dial calls f.
func (f TransportFunc) Dial(ctx context.Context, addr string) (*Conn, error) {
	return f(ctx, addr)
}
