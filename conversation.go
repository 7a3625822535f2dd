// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package ajp

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Conversation drives exactly one exchange over an open, idle Conn and
// reports whether the Conn may be reused afterwards.
type Conversation interface {
	Run(ctx context.Context, conn *Conn) (reuse bool, err error)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// IsTimeout returns true if err is a conversation timeout.
func IsTimeout(err error) bool {
	_, ok := errors.Cause(err).(timeoutError)
	return ok
}

type runState int32

const (
	runStateIdle         = runState(0)
	runStateRequestSent  = runState(1)
	runStateExchanging   = runState(2)
	runStateCompleted    = runState(3)
	runStateFailed       = runState(4)
	runStateTimedOut     = runState(5)
	runStateAcknowledged = runState(6)
)

var runStateTexts = map[runState]string{
	runStateIdle:         "Idle",
	runStateRequestSent:  "RequestSent",
	runStateExchanging:   "Exchanging",
	runStateCompleted:    "Completed",
	runStateFailed:       "Failed",
	runStateTimedOut:     "TimedOut",
	runStateAcknowledged: "Acknowledged",
}

func getRunStateText(rs runState) string {
	if text, ok := runStateTexts[rs]; ok {
		return text
	}
	return strconv.FormatInt(int64(rs), 10)
}

// completion is a one-shot result, resolved exactly once.
type completion struct {
	once  sync.Once
	done  chan struct{}
	state int32 // atomic runState
	reuse bool
	err   error
}

func newCompletion() completion {
	return completion{done: make(chan struct{})}
}

func (c *completion) setState(rs runState) {
	atomic.StoreInt32(&c.state, int32(rs))
}

func (c *completion) getState() runState {
	return runState(atomic.LoadInt32(&c.state))
}

// resolve sets the result and releases the waiter. It returns false if
// the completion was already resolved.
func (c *completion) resolve(reuse bool, err error) (resolved bool) {
	c.once.Do(func() {
		c.reuse = reuse
		c.err = err
		close(c.done)
		resolved = true
	})
	return
}

func (c *completion) isResolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait blocks until resolved, timed out, canceled or the Conn is gone,
// and returns the result. Whatever ends the wait resolves the completion,
// so it is never left pending.
func (c *completion) wait(ctx context.Context, conn *Conn, timeout time.Duration) (bool, error) {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-c.done:
	case <-timerC:
		c.resolve(false, errors.WithStack(timeoutError{}))
	case <-ctx.Done():
		c.resolve(false, errors.WithStack(ctx.Err()))
	case <-conn.Done():
		c.resolve(false, conn.Err())
	}
	<-c.done
	return c.reuse, c.err
}
