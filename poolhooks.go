package ajp

import (
	"context"
	"io"
	"time"
)

// Connection is what a Pool manages. If a connection also implements
// Done() <-chan struct{}, the pool notices when it is lost.
type Connection interface {
	comparable
	io.Closer
}

// Dialer opens new connections for a Pool.
type Dialer[C Connection] interface {
	Dial(ctx context.Context) (C, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc[C Connection] func(ctx context.Context) (C, error)

// Dial calls f(ctx).
func (f DialerFunc[C]) Dial(ctx context.Context) (C, error) {
	return f(ctx)
}

// PoolListener receives pool lifecycle events. The callbacks run on the
// pool's event goroutine; they must return quickly and must not call
// Pool methods that wait for a result.
type PoolListener[C Connection] interface {
	Started()
	Stopped()
	LeaseRequested(d time.Duration, userData any)
	LeaseGranted(l *Lease[C])
	LeaseCanceled(userData any)
	LeaseYield(l *Lease[C])
	LeaseExpired(l *Lease[C])
	ConnectionCreated(conn C, immortal bool)
	ConnectionClosed(conn C)
	EphemeralReaped(conn C)
}

// NopPoolListener ignores all events. Embed it to implement only some of them.
type NopPoolListener[C Connection] struct{}

func (NopPoolListener[C]) Started()                          {}
func (NopPoolListener[C]) Stopped()                          {}
func (NopPoolListener[C]) LeaseRequested(time.Duration, any) {}
func (NopPoolListener[C]) LeaseGranted(*Lease[C])            {}
func (NopPoolListener[C]) LeaseCanceled(any)                 {}
func (NopPoolListener[C]) LeaseYield(*Lease[C])              {}
func (NopPoolListener[C]) LeaseExpired(*Lease[C])            {}
func (NopPoolListener[C]) ConnectionCreated(C, bool)         {}
func (NopPoolListener[C]) ConnectionClosed(C)                {}
func (NopPoolListener[C]) EphemeralReaped(C)                 {}

// PoolHooks customize a Pool. All fields are optional. Like the
// listener, hooks run on the pool's event goroutine.
type PoolHooks[C Connection] struct {
	// PreGrant may reject an available connection for a request.
	// Rejected connections are moved to the back of their list. The pool
	// does nothing else until PreGrant returns.
	PreGrant func(conn C, userData any) bool
	// PreReturn may refuse a yielded connection, which is then closed.
	PreReturn func(conn C) bool
	// CloseExpired decides whether an expired lease closes its
	// connection. Defaults to always closing.
	CloseExpired func(l *Lease[C]) bool
	// OnError is called with connection open failures.
	OnError func(err error)
	// Reaper picks expired leases. Defaults to FullPassReaper.
	Reaper LeaseReaper[C]
	// Listener receives events. Defaults to NopPoolListener.
	Listener PoolListener[C]
}

// MultiPoolListener sends every event to each listener in order.
type MultiPoolListener[C Connection] []PoolListener[C]

func (ml MultiPoolListener[C]) Started() {
	for _, l := range ml {
		l.Started()
	}
}

func (ml MultiPoolListener[C]) Stopped() {
	for _, l := range ml {
		l.Stopped()
	}
}

func (ml MultiPoolListener[C]) LeaseRequested(d time.Duration, userData any) {
	for _, l := range ml {
		l.LeaseRequested(d, userData)
	}
}

func (ml MultiPoolListener[C]) LeaseGranted(lease *Lease[C]) {
	for _, l := range ml {
		l.LeaseGranted(lease)
	}
}

func (ml MultiPoolListener[C]) LeaseCanceled(userData any) {
	for _, l := range ml {
		l.LeaseCanceled(userData)
	}
}

func (ml MultiPoolListener[C]) LeaseYield(lease *Lease[C]) {
	for _, l := range ml {
		l.LeaseYield(lease)
	}
}

func (ml MultiPoolListener[C]) LeaseExpired(lease *Lease[C]) {
	for _, l := range ml {
		l.LeaseExpired(lease)
	}
}

func (ml MultiPoolListener[C]) ConnectionCreated(conn C, immortal bool) {
	for _, l := range ml {
		l.ConnectionCreated(conn, immortal)
	}
}

func (ml MultiPoolListener[C]) ConnectionClosed(conn C) {
	for _, l := range ml {
		l.ConnectionClosed(conn)
	}
}

func (ml MultiPoolListener[C]) EphemeralReaped(conn C) {
	for _, l := range ml {
		l.EphemeralReaped(conn)
	}
}
