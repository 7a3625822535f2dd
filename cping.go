package ajp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CPing probes a Conn for liveness. A container that answers with a
// CPong within Timeout is alive.
type CPing struct {
	Timeout time.Duration // DefaultPingTimeout if zero
}

type cpingConversation struct {
	completion
}

// Run sends a CPing and waits for the CPong. A timeout is not an error;
// it returns false. Errors are only returned if the Conn could not be
// used at all.
func (p CPing) Run(ctx context.Context, conn *Conn) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	cv := &cpingConversation{completion: newCompletion()}
	b, err := conn.bind(cv)
	if err != nil {
		return false, err
	}
	defer conn.unbind(b)
	if err = conn.write(cpingFrame); err != nil {
		cv.setState(runStateFailed)
		return false, err
	}
	cv.setState(runStateRequestSent)
	ok, err := cv.wait(ctx, conn, timeout)
	if IsTimeout(err) {
		cv.setState(runStateTimedOut)
		return false, nil
	}
	if err != nil {
		cv.setState(runStateFailed)
		return false, err
	}
	cv.setState(runStateAcknowledged)
	return ok, nil
}

func (cv *cpingConversation) handleMessage(conn *Conn, m *Message) error {
	if m.Type == MessageTypeCPong {
		cv.resolve(true, nil)
		return nil
	}
	conn.Logger.Warn("unexpected message while waiting for CPong", zap.Stringer("conn", conn), zap.Stringer("msg", m))
	return nil
}

func (cv *cpingConversation) handleClose(conn *Conn, err error) {
	cv.resolve(false, err)
}
