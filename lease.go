package ajp

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrLeaseCanceled is the result of a LeaseFuture canceled before a grant.
	ErrLeaseCanceled = errors.New("lease canceled")
	// ErrLeaseYielded is returned when a Lease is returned to the pool twice.
	ErrLeaseYielded = errors.New("lease already yielded")
	// ErrLeaseUnknown is returned when a Lease does not belong to the pool.
	ErrLeaseUnknown = errors.New("lease unknown to pool")
)

// Lease is a time-bounded exclusive grant of a pooled connection.
// Return it with Yield, or with Release(false) if the connection
// must not be reused.
type Lease[C Connection] struct {
	ID       uint64    // unique and increasing for the lifetime of the pool
	Conn     C         // the leased connection
	Immortal bool      // true if Conn is one of the pool's immortal connections
	Granted  time.Time // when the lease was granted
	Expires  time.Time // zero if the lease never expires
	UserData any       // as passed when requesting the lease
	pool     *Pool[C]
	pc       *pooledConn[C]
	returned int32 // atomic nonzero once Yield or Release was called
}

func (l *Lease[C]) String() string {
	return fmt.Sprintf("[Lease %d %v]", l.ID, l.Conn)
}

// Expired returns true if the lease has outlived its requested duration.
func (l *Lease[C]) Expired(now time.Time) bool {
	return !l.Expires.IsZero() && !now.Before(l.Expires)
}

// Yield returns the connection to the pool for reuse.
func (l *Lease[C]) Yield() error {
	return l.pool.Release(l, true)
}

// Release returns the connection to the pool. If reuse is false the
// connection is closed instead of made available.
func (l *Lease[C]) Release(reuse bool) error {
	return l.pool.Release(l, reuse)
}

type leaseState int32

const (
	leaseStatePending  = leaseState(0)
	leaseStateGranted  = leaseState(1)
	leaseStateCanceled = leaseState(2)
	leaseStateFailed   = leaseState(3)
)

var leaseStateTexts = map[leaseState]string{
	leaseStatePending:  "Pending",
	leaseStateGranted:  "Granted",
	leaseStateCanceled: "Canceled",
	leaseStateFailed:   "Failed",
}

func (ls leaseState) String() string {
	if text, ok := leaseStateTexts[ls]; ok {
		return text
	}
	return strconv.FormatInt(int64(ls), 10)
}

// LeaseFuture is the pending result of Pool.LeaseAsync.
type LeaseFuture[C Connection] struct {
	pool     *Pool[C]
	duration time.Duration
	userData any
	state    int32 // atomic leaseState
	done     chan struct{}
	lease    *Lease[C]
	err      error
}

func newLeaseFuture[C Connection](p *Pool[C], d time.Duration, userData any) *LeaseFuture[C] {
	return &LeaseFuture[C]{
		pool:     p,
		duration: d,
		userData: userData,
		done:     make(chan struct{}),
	}
}

func (f *LeaseFuture[C]) String() string {
	return fmt.Sprintf("[LeaseFuture %v %v]", f.getState(), f.duration)
}

func (f *LeaseFuture[C]) getState() leaseState {
	return leaseState(atomic.LoadInt32(&f.state))
}

func (f *LeaseFuture[C]) transition(to leaseState) bool {
	return atomic.CompareAndSwapInt32(&f.state, int32(leaseStatePending), int32(to))
}

// Done returns a channel that is closed once the future is resolved.
func (f *LeaseFuture[C]) Done() <-chan struct{} {
	return f.done
}

// Result returns the lease or the error. Only valid once Done is closed.
func (f *LeaseFuture[C]) Result() (*Lease[C], error) {
	return f.lease, f.err
}

// Wait blocks until the future resolves or ctx is done. It does not
// cancel the future; see Pool.Lease for that.
func (f *LeaseFuture[C]) Wait(ctx context.Context) (*Lease[C], error) {
	select {
	case <-f.done:
		return f.lease, f.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Cancel cancels the request if no connection has been granted yet.
// It returns false if the lease already happened or failed; a granted
// lease must then be yielded normally.
func (f *LeaseFuture[C]) Cancel() bool {
	if !f.transition(leaseStateCanceled) {
		return false
	}
	f.err = errors.WithStack(ErrLeaseCanceled)
	close(f.done)
	f.pool.post(f.pool.prune)
	return true
}

func (f *LeaseFuture[C]) grant(l *Lease[C]) bool {
	if !f.transition(leaseStateGranted) {
		return false
	}
	f.lease = l
	close(f.done)
	return true
}

func (f *LeaseFuture[C]) fail(err error) bool {
	if !f.transition(leaseStateFailed) {
		return false
	}
	f.err = err
	close(f.done)
	return true
}
