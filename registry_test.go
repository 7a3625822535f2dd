package ajp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(tr Transport) *Registry {
	cfg := DefaultClientConfig()
	cfg.Pool.Immortal = 1
	cfg.Pool.MaxEphemeral = 1
	cfg.Transport = tr
	return NewRegistry(cfg)
}

func Test_Registry_CreateGet(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newPipeTransport(t, echoContainer)
	defer tr.Close()
	r := newTestRegistry(tr)
	defer r.Close(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	b, err := r.Create(ctx, "b:8009")
	require.NoError(t, err)
	a, err := r.Create(ctx, "a:8009")
	require.NoError(t, err)
	_, err = r.Create(ctx, "a:8009")
	assert.Equal(t, ErrClientExists, errors.Cause(err))

	got, ok := r.Get("a:8009")
	assert.True(t, ok)
	assert.Equal(t, a, got)
	_, ok = r.Get("c:8009")
	assert.False(t, ok)

	got, err = r.Client(ctx, "b:8009")
	require.NoError(t, err)
	assert.Equal(t, b, got)
	c, err := r.Client(ctx, "c:8009")
	require.NoError(t, err)
	assert.Equal(t, "c:8009", c.Addr)

	assert.Equal(t, []string{"a:8009", "b:8009", "c:8009"}, r.Addrs())
	assert.Equal(t, []*Client{a, b, c}, r.Clients())
	assert.Equal(t, 3, tr.dialCount())

	ok, err = a.CPing(ctx, time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func Test_Registry_Destroy(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newPipeTransport(t, echoContainer)
	defer tr.Close()
	r := newTestRegistry(tr)
	defer r.Close(true)

	c, err := r.Create(context.Background(), "a:8009")
	require.NoError(t, err)
	require.NoError(t, r.Destroy("a:8009", false))
	c.Wait()
	assert.Empty(t, r.Addrs())
	assert.Equal(t, ErrClientNotFound, errors.Cause(r.Destroy("a:8009", false)))

	// the address can be reused
	c2, err := r.Create(context.Background(), "a:8009")
	require.NoError(t, err)
	assert.NotEqual(t, c, c2)
}

func Test_Registry_Close(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newPipeTransport(t, echoContainer)
	defer tr.Close()
	r := newTestRegistry(tr)

	c, err := r.Create(context.Background(), "a:8009")
	require.NoError(t, err)
	r.Close(false)
	select {
	case <-c.Pool().Done():
	default:
		t.Fatal("client still running")
	}
	assert.Empty(t, r.Clients())
	_, err = r.Create(context.Background(), "b:8009")
	assert.Equal(t, ErrPoolClosed, errors.Cause(err))
	_, err = r.Client(context.Background(), "a:8009")
	assert.Equal(t, ErrPoolClosed, errors.Cause(err))
}

func Test_Registry_NotReady(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newPipeTransport(t, echoContainer)
	defer tr.Close()
	tr.fail = func(int) error { return errors.New("connection refused") }
	r := newTestRegistry(tr)
	defer r.Close(true)

	c, err := r.Create(context.Background(), "down:8009")
	require.NoError(t, err)
	ps, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, ps.Immortal)
}

// gatedTransport holds dials to slow:8009 until release is closed.
type gatedTransport struct {
	*pipeTransport
	waiting int32
	release chan struct{}
}

func (gt *gatedTransport) Dial(ctx context.Context, addr string) (*Conn, error) {
	if addr == "slow:8009" {
		atomic.AddInt32(&gt.waiting, 1)
		select {
		case <-gt.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return gt.pipeTransport.Dial(ctx, addr)
}

func newGatedTransport(t *testing.T) *gatedTransport {
	return &gatedTransport{
		pipeTransport: newPipeTransport(t, echoContainer),
		release:       make(chan struct{}),
	}
}

func Test_Registry_SlowStart(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newGatedTransport(t)
	defer tr.Close()
	r := newTestRegistry(tr)
	defer r.Close(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	slowErr := make(chan error, 1)
	go func() {
		_, err := r.Create(ctx, "slow:8009")
		slowErr <- err
	}()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&tr.waiting) == 1 }, time.Second*5, time.Millisecond)

	// other addresses are served while slow:8009 starts
	_, err := r.Create(ctx, "fast:8009")
	require.NoError(t, err)
	assert.Equal(t, []string{"fast:8009"}, r.Addrs())
	_, ok := r.Get("slow:8009")
	assert.False(t, ok)
	assert.NoError(t, r.Destroy("fast:8009", true))

	close(tr.release)
	require.NoError(t, <-slowErr)
	assert.Equal(t, []string{"slow:8009"}, r.Addrs())
}

func Test_Registry_ClientConcurrent(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	tr := newGatedTransport(t)
	defer tr.Close()
	r := newTestRegistry(tr)
	defer r.Close(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	results := make(chan *Client, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := r.Client(ctx, "slow:8009")
			assert.NoError(t, err)
			results <- c
		}()
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&tr.waiting) == 2 }, time.Second*5, time.Millisecond)
	close(tr.release)

	a, b := <-results, <-results
	require.NotNil(t, a)
	assert.Same(t, a, b)
	assert.Equal(t, []*Client{a}, r.Clients())
	ok, err := a.CPing(ctx, time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
}
