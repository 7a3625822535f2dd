package ajp

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Pool           PoolConfig
	LeaseDuration  time.Duration // how long a conversation may hold a connection, zero for no limit
	ForwardTimeout time.Duration // DefaultForwardTimeout if zero
	PingTimeout    time.Duration // DefaultPingTimeout if zero
	// ValidateOnLease CPings each candidate connection before granting it.
	// The ping runs on the pool's event goroutine, so every pool operation,
	// Stats and metrics collection included, waits up to PingTimeout for
	// each candidate checked.
	ValidateOnLease bool
	HeadSampling    bool                // use HeadSamplingReaper instead of FullPassReaper
	DialTimeout     time.Duration       // for the default NetTransport
	NetLog          bool                // for the default NetTransport
	Transport       Transport           // a NetTransport if nil
	Listener        PoolListener[*Conn] // optional pool event listener
	Metrics         *Metrics            // optional Prometheus exporter
	Logger          *zap.Logger         // zap.L() if nil
}

// DefaultClientConfig returns the default Client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Pool:           DefaultPoolConfig(),
		LeaseDuration:  DefaultForwardTimeout + DefaultPingTimeout,
		ForwardTimeout: DefaultForwardTimeout,
		PingTimeout:    DefaultPingTimeout,
		DialTimeout:    DefaultDialTimeout,
	}
}

// Client runs conversations against a single container endpoint using
// a pool of connections.
type Client struct {
	Addr           string
	Logger         *zap.Logger
	LeaseDuration  time.Duration
	ForwardTimeout time.Duration
	PingTimeout    time.Duration
	transport      Transport
	pool           *Pool[*Conn]
}

// NewClient returns a Client for the container at addr. No connection
// is made until Start is called.
func NewClient(addr string, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("ajp").With(zap.String("upstream", addr))
	c := &Client{
		Addr:           addr,
		Logger:         logger,
		LeaseDuration:  cfg.LeaseDuration,
		ForwardTimeout: cfg.ForwardTimeout,
		PingTimeout:    cfg.PingTimeout,
		transport:      cfg.Transport,
	}
	var listeners MultiPoolListener[*Conn]
	if cfg.Listener != nil {
		listeners = append(listeners, cfg.Listener)
	}
	if c.transport == nil {
		nt := &NetTransport{
			DialTimeout: cfg.DialTimeout,
			NetLog:      cfg.NetLog,
			Logger:      logger,
		}
		if cfg.Metrics != nil {
			nt.Stats = cfg.Metrics.statsCollector(addr)
		}
		c.transport = nt
	}
	if cfg.Metrics != nil {
		listeners = append(listeners, cfg.Metrics.listener(c))
		cfg.Metrics.track(c)
	}
	hooks := PoolHooks[*Conn]{
		OnError: func(err error) {
			logger.Warn("upstream unavailable", zap.Error(err))
		},
	}
	switch len(listeners) {
	case 0:
	case 1:
		hooks.Listener = listeners[0]
	default:
		hooks.Listener = listeners
	}
	if cfg.HeadSampling {
		hooks.Reaper = HeadSamplingReaper[*Conn]{}
	}
	if cfg.ValidateOnLease {
		hooks.PreGrant = c.validate
	}
	hooks.PreReturn = func(conn *Conn) bool {
		return !conn.isClosed() && !conn.Bound()
	}
	c.pool = NewPool[*Conn](DialerFunc[*Conn](c.dial), cfg.Pool, hooks)
	c.pool.Logger = logger.Named("pool")
	return c
}

func (c *Client) String() string {
	return fmt.Sprintf("[Client %s]", c.Addr)
}

func (c *Client) dial(ctx context.Context) (*Conn, error) {
	return c.transport.Dial(ctx, c.Addr)
}

// validate pings conn and closes it if the container does not answer.
func (c *Client) validate(conn *Conn, _ any) bool {
	if conn.isClosed() {
		return false
	}
	ok, err := CPing{Timeout: c.PingTimeout}.Run(context.Background(), conn)
	if ok {
		return true
	}
	c.Logger.Info("connection failed validation", zap.Stringer("conn", conn), zap.Error(err))
	_ = conn.Close()
	return false
}

// Start opens the pool's immortal connections. It returns true if all
// of them were established before ctx was done.
func (c *Client) Start(ctx context.Context) (bool, error) {
	return c.pool.Start(ctx)
}

// Pool returns the Client's connection pool.
func (c *Client) Pool() *Pool[*Conn] {
	return c.pool
}

// Stats returns a snapshot of the Client's pool.
func (c *Client) Stats() (PoolStats, error) {
	return c.pool.Stats()
}

// Close stops the pool. Unless force is true, connections in use are
// closed when their conversations end.
func (c *Client) Close(force bool) {
	c.pool.Stop(force)
}

// Wait blocks until the pool has shut down.
func (c *Client) Wait() {
	c.pool.Wait()
}

// Execute leases a connection, runs cv on it and returns the
// connection to the pool, closing it unless cv reports it reusable.
func (c *Client) Execute(ctx context.Context, cv Conversation) (bool, error) {
	l, err := c.lease(ctx, cv)
	if err != nil {
		return false, err
	}
	return c.run(ctx, l, cv)
}

func (c *Client) lease(ctx context.Context, userData any) (*Lease[*Conn], error) {
	l, err := c.pool.Lease(ctx, c.LeaseDuration, userData)
	if err != nil {
		return nil, errors.Wrapf(err, "lease %s", c.Addr)
	}
	return l, nil
}

func (c *Client) run(ctx context.Context, l *Lease[*Conn], cv Conversation) (bool, error) {
	reuse, err := cv.Run(ctx, l.Conn)
	if rerr := l.Release(reuse && err == nil); rerr != nil {
		c.Logger.Debug("release failed", zap.Stringer("lease", l), zap.Error(rerr))
	}
	return reuse, err
}

// Forward sends req to the container and streams the reply to resp.
// An invalid request is rejected before a connection is leased and
// resp is not notified. All other failures are reported to resp.Fail.
func (c *Client) Forward(ctx context.Context, req *Request, resp ForwardResponse) error {
	if req == nil {
		return RequestError{Reason: "nil request"}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	fwd := Forward{Request: req, Response: resp, Timeout: c.ForwardTimeout}
	l, err := c.lease(ctx, fwd)
	if err != nil {
		if resp != nil {
			resp.Fail(err)
		}
		return err
	}
	_, err = c.run(ctx, l, fwd)
	return err
}

// CPing leases a connection and probes it. It returns true if the
// container answered within timeout.
func (c *Client) CPing(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = c.PingTimeout
	}
	return c.Execute(ctx, CPing{Timeout: timeout})
}
