package ajp

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func Test_CPing_Pong(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, pongContainer)
	defer fc.Close()
	defer conn.Close()

	ok, err := CPing{Timeout: time.Second * 5}.Run(context.Background(), conn)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, conn.Bound())
	assert.Equal(t, [][]byte{{byte(MessageTypeCPing)}}, fc.received())

	// the Conn can be reused
	ok, err = CPing{Timeout: time.Second * 5}.Run(context.Background(), conn)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func Test_CPing_Timeout(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, nil)
	defer fc.Close()
	defer conn.Close()

	start := time.Now()
	ok, err := CPing{Timeout: time.Millisecond * 50}.Run(context.Background(), conn)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*50)
	assert.False(t, conn.Bound())
}

func Test_CPing_WrongReply(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
		fc.send(endResponseFrame(true))
	})
	defer fc.Close()
	defer conn.Close()

	ok, err := CPing{Timeout: time.Millisecond * 100}.Run(context.Background(), conn)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func Test_CPing_Canceled(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, nil)
	defer fc.Close()
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := CPing{Timeout: time.Second * 5}.Run(ctx, conn)
	assert.False(t, ok)
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func Test_CPing_ConnClosed(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, func(fc *fakeContainer, payload []byte) {
		fc.conn.Close()
	})
	defer fc.Close()
	defer conn.Close()

	ok, err := CPing{Timeout: time.Second * 5}.Run(context.Background(), conn)
	assert.False(t, ok)
	assert.True(t, IsClosedError(err))

	ok, err = CPing{}.Run(context.Background(), conn)
	assert.False(t, ok)
	assert.True(t, IsClosedError(err))
}

func Test_CPing_Busy(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	fc, conn := newFakeContainer(t, nil)
	defer fc.Close()
	defer conn.Close()
	b, err := conn.bind(newTestReceiver())
	assert.NoError(t, err)
	defer conn.unbind(b)

	ok, err := CPing{}.Run(context.Background(), conn)
	assert.False(t, ok)
	assert.Equal(t, ErrConnBusy, errors.Cause(err))
}
