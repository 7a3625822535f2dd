package ajp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned for requests made to a stopping or stopped pool.
	ErrPoolClosed = errors.New("pool closed")
	// ErrPoolNotStarted is returned for requests made before Start.
	ErrPoolNotStarted = errors.New("pool not started")
	// ErrPoolStarted is returned when Start is called more than once.
	ErrPoolStarted = errors.New("pool already started")
)

const (
	DefaultImmortal          = 5
	DefaultMaxEphemeral      = 5
	DefaultEphemeralLifespan = time.Minute
	DefaultReaperInterval    = 15 * time.Second
)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Immortal          int           // connections kept open for the pool's lifetime
	MaxEphemeral      int           // extra connections opened under load
	EphemeralLifespan time.Duration // idle time before an ephemeral connection is closed
	ReaperInterval    time.Duration // period of the expired lease scan
}

// DefaultPoolConfig returns the default pool sizing.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Immortal:          DefaultImmortal,
		MaxEphemeral:      DefaultMaxEphemeral,
		EphemeralLifespan: DefaultEphemeralLifespan,
		ReaperInterval:    DefaultReaperInterval,
	}
}

// PoolStats is a snapshot of a Pool.
type PoolStats struct {
	Immortal           int // open immortal connections
	Ephemeral          int // open ephemeral connections
	AvailableImmortal  int
	AvailableEphemeral int
	Leased             int    // active leases
	Pending            int    // queued lease requests
	Opening            int    // connections being dialed
	LeasesGranted      uint64 // total since start
	Started            time.Time
	Draining           bool
}

func (ps PoolStats) String() string {
	return fmt.Sprintf("[PoolStats immortal=%d/%d ephemeral=%d/%d leased=%d pending=%d opening=%d granted=%d]",
		ps.AvailableImmortal, ps.Immortal, ps.AvailableEphemeral, ps.Ephemeral,
		ps.Leased, ps.Pending, ps.Opening, ps.LeasesGranted)
}

const (
	poolStateNew     = int32(0)
	poolStateRunning = int32(1)
	poolStateStopped = int32(2)
)

type connState int

const (
	connStateAvailable = connState(0)
	connStateLeased    = connState(1)
	connStateClosed    = connState(2)
)

type pooledConn[C Connection] struct {
	conn       C
	immortal   bool
	state      connState
	idleExpiry time.Time
	timer      *time.Timer
	timerGen   uint64
	lease      *Lease[C]
}

type attemptResult int

const (
	attemptDone     = attemptResult(0) // granted, canceled or failed
	attemptOpening  = attemptResult(1) // waiting for a new connection
	attemptDeferred = attemptResult(2) // at capacity
)

type startWait struct {
	remaining int
	succeeded int32 // atomic
	done      chan struct{}
}

// Pool leases connections of type C to callers. It keeps a fixed set of
// immortal connections, opens up to MaxEphemeral more under load and
// queues requests beyond that in FIFO order.
//
// All pool state is owned by a single event goroutine. Public methods
// post tasks to it and are safe for concurrent use.
type Pool[C Connection] struct {
	PoolConfig
	Logger *zap.Logger

	dialer   Dialer[C]
	hooks    PoolHooks[C]
	state    int32 // atomic poolState
	tasks    chan func()
	doneChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// owned by the event goroutine
	conns            map[C]*pooledConn[C]
	immortals        []*pooledConn[C]
	ephemerals       []*pooledConn[C]
	leases           []*Lease[C]
	pending          []*LeaseFuture[C]
	immortalCount    int
	ephemeralCount   int
	immortalOpening  int
	ephemeralOpening int
	nextLeaseID      uint64
	granted          uint64
	startedAt        time.Time
	draining         bool
	shutdown         bool
	starting         *startWait
}

// NewPool returns a Pool that opens connections using dialer.
// Call Start before requesting leases.
func NewPool[C Connection](dialer Dialer[C], cfg PoolConfig, hooks PoolHooks[C]) *Pool[C] {
	if cfg.Immortal < 0 {
		cfg.Immortal = 0
	}
	if cfg.MaxEphemeral < 0 {
		cfg.MaxEphemeral = 0
	}
	if cfg.EphemeralLifespan <= 0 {
		cfg.EphemeralLifespan = DefaultEphemeralLifespan
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = DefaultReaperInterval
	}
	if hooks.Reaper == nil {
		hooks.Reaper = FullPassReaper[C]{}
	}
	if hooks.Listener == nil {
		hooks.Listener = NopPoolListener[C]{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[C]{
		PoolConfig: cfg,
		Logger:     zap.L().Named("ajp.pool"),
		dialer:     dialer,
		hooks:      hooks,
		tasks:      make(chan func()),
		doneChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[C]*pooledConn[C]),
	}
}

func (p *Pool[C]) String() string {
	return fmt.Sprintf("[Pool %d+%d]", p.Immortal, p.MaxEphemeral)
}

// Done returns a channel that is closed when the pool has shut down.
func (p *Pool[C]) Done() <-chan struct{} {
	return p.doneChan
}

// Start opens the immortal connections and starts the reaper. It waits
// until all immortal connections have been attempted or ctx is done,
// and returns true if all of them opened.
func (p *Pool[C]) Start(ctx context.Context) (bool, error) {
	if !atomic.CompareAndSwapInt32(&p.state, poolStateNew, poolStateRunning) {
		if atomic.LoadInt32(&p.state) == poolStateStopped {
			return false, errors.WithStack(ErrPoolClosed)
		}
		return false, errors.WithStack(ErrPoolStarted)
	}
	sw := &startWait{remaining: p.Immortal, done: make(chan struct{})}
	p.wg.Add(2)
	go p.run()
	go p.reaper()
	p.post(func() {
		p.startedAt = time.Now()
		if sw.remaining == 0 {
			p.started(sw)
			return
		}
		p.starting = sw
		for i := 0; i < p.Immortal; i++ {
			p.open(true, nil)
		}
	})
	select {
	case <-sw.done:
	case <-ctx.Done():
	case <-p.doneChan:
	}
	return int(atomic.LoadInt32(&sw.succeeded)) == p.Immortal, nil
}

func (p *Pool[C]) started(sw *startWait) {
	p.starting = nil
	p.hooks.Listener.Started()
	close(sw.done)
}

// Stop stops granting leases and fails queued requests. If force is
// true or no leases are held, the pool shuts down at once and closes
// all connections. Otherwise it shuts down when the last lease is returned.
func (p *Pool[C]) Stop(force bool) {
	if atomic.CompareAndSwapInt32(&p.state, poolStateNew, poolStateStopped) {
		p.cancel()
		close(p.doneChan)
		return
	}
	p.post(func() {
		p.drain()
		if force || len(p.leases) == 0 {
			p.shutdownNow()
		}
	})
}

// Wait blocks until the pool has shut down and all its goroutines have exited.
func (p *Pool[C]) Wait() {
	<-p.doneChan
	p.wg.Wait()
}

// Stats returns a snapshot of the pool.
func (p *Pool[C]) Stats() (PoolStats, error) {
	if atomic.LoadInt32(&p.state) == poolStateNew {
		return PoolStats{}, errors.WithStack(ErrPoolNotStarted)
	}
	ch := make(chan PoolStats, 1)
	if !p.post(func() { ch <- p.stats() }) {
		return PoolStats{}, errors.WithStack(ErrPoolClosed)
	}
	return <-ch, nil
}

// LeaseAsync requests a connection for duration d. A d of zero or less
// means the lease never expires. userData is passed to the PreGrant hook.
func (p *Pool[C]) LeaseAsync(d time.Duration, userData any) *LeaseFuture[C] {
	f := newLeaseFuture(p, d, userData)
	switch atomic.LoadInt32(&p.state) {
	case poolStateNew:
		f.fail(errors.WithStack(ErrPoolNotStarted))
	case poolStateStopped:
		f.fail(errors.WithStack(ErrPoolClosed))
	default:
		if !p.post(func() { p.requestLease(f) }) {
			f.fail(errors.WithStack(ErrPoolClosed))
		}
	}
	return f
}

// Lease requests a connection and waits for it. If ctx is done first
// the request is canceled; a lease granted concurrently is yielded.
func (p *Pool[C]) Lease(ctx context.Context, d time.Duration, userData any) (*Lease[C], error) {
	f := p.LeaseAsync(d, userData)
	select {
	case <-f.Done():
		return f.Result()
	case <-ctx.Done():
		if !f.Cancel() {
			<-f.Done()
			if l, err := f.Result(); err == nil {
				_ = l.Yield()
			}
		}
		return nil, errors.WithStack(ctx.Err())
	}
}

// Yield returns a lease to the pool for reuse.
func (p *Pool[C]) Yield(l *Lease[C]) error {
	return p.Release(l, true)
}

// Release returns a lease to the pool. If reuse is false, or the
// PreReturn hook refuses the connection, it is closed.
func (p *Pool[C]) Release(l *Lease[C], reuse bool) error {
	if l == nil || l.pool != p {
		return errors.WithStack(ErrLeaseUnknown)
	}
	if !atomic.CompareAndSwapInt32(&l.returned, 0, 1) {
		return errors.WithStack(ErrLeaseYielded)
	}
	if !p.post(func() { p.yield(l, reuse) }) {
		return errors.WithStack(ErrPoolClosed)
	}
	return nil
}

func (p *Pool[C]) post(fn func()) bool {
	select {
	case p.tasks <- fn:
		return true
	case <-p.doneChan:
		return false
	}
}

func (p *Pool[C]) run() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
		if p.shutdown {
			close(p.doneChan)
			return
		}
	}
}

func (p *Pool[C]) reaper() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !p.post(p.reap) {
				return
			}
		case <-p.doneChan:
			return
		}
	}
}

func (p *Pool[C]) stats() PoolStats {
	return PoolStats{
		Immortal:           p.immortalCount,
		Ephemeral:          p.ephemeralCount,
		AvailableImmortal:  len(p.immortals),
		AvailableEphemeral: len(p.ephemerals),
		Leased:             len(p.leases),
		Pending:            len(p.pending),
		Opening:            p.immortalOpening + p.ephemeralOpening,
		LeasesGranted:      p.granted,
		Started:            p.startedAt,
		Draining:           p.draining,
	}
}

func (p *Pool[C]) requestLease(f *LeaseFuture[C]) {
	p.hooks.Listener.LeaseRequested(f.duration, f.userData)
	if len(p.pending) > 0 {
		p.pending = append(p.pending, f)
		p.pump()
		return
	}
	if p.attempt(f) == attemptDeferred {
		p.pending = append(p.pending, f)
	}
}

func (p *Pool[C]) attempt(f *LeaseFuture[C]) attemptResult {
	switch f.getState() {
	case leaseStatePending:
	case leaseStateCanceled:
		p.hooks.Listener.LeaseCanceled(f.userData)
		return attemptDone
	default:
		return attemptDone
	}
	if p.draining {
		f.fail(errors.WithStack(ErrPoolClosed))
		return attemptDone
	}
	if pc := p.pick(f.userData); pc != nil {
		p.grant(f, pc)
		return attemptDone
	}
	if p.ephemeralCount+p.ephemeralOpening < p.MaxEphemeral {
		p.open(false, f)
		return attemptOpening
	}
	return attemptDeferred
}

// pump grants queued requests in order until one has to wait.
func (p *Pool[C]) pump() {
	for len(p.pending) > 0 {
		if p.attempt(p.pending[0]) == attemptDeferred {
			return
		}
		p.pending[0] = nil
		p.pending = p.pending[1:]
	}
}

func (p *Pool[C]) pushFront(f *LeaseFuture[C]) {
	p.pending = append([]*LeaseFuture[C]{f}, p.pending...)
}

// prune drops canceled requests from the queue.
func (p *Pool[C]) prune() {
	kept := p.pending[:0]
	for _, f := range p.pending {
		switch f.getState() {
		case leaseStatePending:
			kept = append(kept, f)
		case leaseStateCanceled:
			p.hooks.Listener.LeaseCanceled(f.userData)
		}
	}
	for i := len(kept); i < len(p.pending); i++ {
		p.pending[i] = nil
	}
	p.pending = kept
}

func (p *Pool[C]) pick(userData any) *pooledConn[C] {
	for _, list := range []*[]*pooledConn[C]{&p.immortals, &p.ephemerals} {
		for n := len(*list); n > 0 && len(*list) > 0; n-- {
			pc := (*list)[0]
			*list = (*list)[1:]
			if !pc.immortal && !time.Now().Before(pc.idleExpiry) {
				p.hooks.Listener.EphemeralReaped(pc.conn)
				p.closeConn(pc, false)
				continue
			}
			if p.hooks.PreGrant == nil || p.hooks.PreGrant(pc.conn, userData) {
				return pc
			}
			*list = append(*list, pc)
		}
	}
	return nil
}

func (p *Pool[C]) grant(f *LeaseFuture[C], pc *pooledConn[C]) {
	p.stopIdleTimer(pc)
	now := time.Now()
	l := &Lease[C]{
		ID:       p.nextLeaseID + 1,
		Conn:     pc.conn,
		Immortal: pc.immortal,
		Granted:  now,
		UserData: f.userData,
		pool:     p,
		pc:       pc,
	}
	if f.duration > 0 {
		l.Expires = now.Add(f.duration)
	}
	if !f.grant(l) {
		p.makeAvailable(pc)
		p.hooks.Listener.LeaseCanceled(f.userData)
		return
	}
	p.nextLeaseID++
	p.granted++
	pc.state = connStateLeased
	pc.lease = l
	p.leases = append(p.leases, l)
	p.hooks.Listener.LeaseGranted(l)
}

func (p *Pool[C]) makeAvailable(pc *pooledConn[C]) {
	pc.state = connStateAvailable
	pc.lease = nil
	if pc.immortal {
		p.immortals = append(p.immortals, pc)
		return
	}
	pc.idleExpiry = time.Now().Add(p.EphemeralLifespan)
	p.ephemerals = append(p.ephemerals, pc)
	p.startIdleTimer(pc)
}

func (p *Pool[C]) startIdleTimer(pc *pooledConn[C]) {
	p.stopIdleTimer(pc)
	gen := pc.timerGen
	pc.timer = time.AfterFunc(p.EphemeralLifespan, func() {
		p.post(func() { p.idleExpired(pc, gen) })
	})
}

func (p *Pool[C]) stopIdleTimer(pc *pooledConn[C]) {
	if pc.timer != nil {
		pc.timer.Stop()
		pc.timer = nil
	}
	pc.timerGen++
}

func (p *Pool[C]) idleExpired(pc *pooledConn[C], gen uint64) {
	if pc.state != connStateAvailable || pc.timerGen != gen {
		return
	}
	p.hooks.Listener.EphemeralReaped(pc.conn)
	p.closeConn(pc, false)
}

func removeConn[C Connection](list []*pooledConn[C], pc *pooledConn[C]) []*pooledConn[C] {
	for i, x := range list {
		if x == pc {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}

func (p *Pool[C]) removeLease(l *Lease[C]) {
	for i, x := range p.leases {
		if x == l {
			copy(p.leases[i:], p.leases[i+1:])
			p.leases[len(p.leases)-1] = nil
			p.leases = p.leases[:len(p.leases)-1]
			return
		}
	}
}

// closeConn closes a pooled connection. If replace is true and the
// connection was immortal, a replacement is opened.
func (p *Pool[C]) closeConn(pc *pooledConn[C], replace bool) {
	if pc.state == connStateClosed {
		return
	}
	p.stopIdleTimer(pc)
	if pc.immortal {
		p.immortals = removeConn(p.immortals, pc)
		p.immortalCount--
	} else {
		p.ephemerals = removeConn(p.ephemerals, pc)
		p.ephemeralCount--
	}
	if pc.lease != nil {
		p.removeLease(pc.lease)
		pc.lease = nil
	}
	delete(p.conns, pc.conn)
	pc.state = connStateClosed
	if err := pc.conn.Close(); err != nil {
		p.Logger.Debug("close failed", zap.Stringer("pool", p), zap.Error(err))
	}
	p.hooks.Listener.ConnectionClosed(pc.conn)
	if replace && pc.immortal && !p.draining {
		p.open(true, nil)
	}
}

// open dials a new connection in the background. If f is not nil
// it is retried once the dial completes.
func (p *Pool[C]) open(immortal bool, f *LeaseFuture[C]) {
	if immortal {
		p.immortalOpening++
	} else {
		p.ephemeralOpening++
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn, err := p.dialer.Dial(p.ctx)
		if !p.post(func() { p.opened(immortal, f, conn, err) }) {
			if err == nil {
				_ = conn.Close()
			}
			if f != nil {
				f.fail(errors.WithStack(ErrPoolClosed))
			}
		}
	}()
}

func (p *Pool[C]) opened(immortal bool, f *LeaseFuture[C], conn C, err error) {
	if immortal {
		p.immortalOpening--
	} else {
		p.ephemeralOpening--
	}
	if immortal {
		defer p.startProgress(err == nil)
	}
	if err != nil {
		p.onError(errors.Wrap(err, "open connection"))
		if f != nil {
			if p.draining {
				f.fail(errors.WithStack(ErrPoolClosed))
			} else {
				p.pushFront(f)
			}
		}
		return
	}
	if p.draining {
		_ = conn.Close()
		if f != nil {
			f.fail(errors.WithStack(ErrPoolClosed))
		}
		return
	}
	pc := &pooledConn[C]{conn: conn, immortal: immortal}
	p.conns[conn] = pc
	if immortal {
		p.immortalCount++
	} else {
		p.ephemeralCount++
	}
	p.hooks.Listener.ConnectionCreated(conn, immortal)
	p.watch(pc)
	p.makeAvailable(pc)
	if f != nil && p.attempt(f) == attemptDeferred {
		p.pushFront(f)
	}
	p.pump()
}

// startProgress counts an immortal dial made while Start is waiting.
func (p *Pool[C]) startProgress(ok bool) {
	sw := p.starting
	if sw == nil {
		return
	}
	if ok {
		atomic.AddInt32(&sw.succeeded, 1)
	}
	if sw.remaining--; sw.remaining == 0 {
		p.started(sw)
	}
}

func (p *Pool[C]) onError(err error) {
	if p.hooks.OnError != nil {
		p.hooks.OnError(err)
		return
	}
	p.Logger.Warn("pool error", zap.Stringer("pool", p), zap.Error(err))
}

// watch closes and replaces the connection when it reports itself done.
func (p *Pool[C]) watch(pc *pooledConn[C]) {
	n, ok := any(pc.conn).(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-n.Done():
			p.post(func() { p.lost(pc) })
		case <-p.doneChan:
		}
	}()
}

func (p *Pool[C]) lost(pc *pooledConn[C]) {
	if pc.state == connStateClosed {
		return
	}
	p.Logger.Debug("connection lost", zap.Stringer("pool", p), zap.Any("conn", pc.conn))
	p.closeConn(pc, true)
	p.pump()
}

func (p *Pool[C]) yield(l *Lease[C], reuse bool) {
	pc := l.pc
	if pc.lease == l && pc.state == connStateLeased {
		p.removeLease(l)
		pc.lease = nil
		p.hooks.Listener.LeaseYield(l)
		if !reuse || (p.hooks.PreReturn != nil && !p.hooks.PreReturn(pc.conn)) {
			p.closeConn(pc, true)
		} else {
			p.makeAvailable(pc)
		}
	}
	if p.draining {
		if len(p.leases) == 0 {
			p.shutdownNow()
		}
		return
	}
	p.pump()
}

func (p *Pool[C]) reap() {
	if p.startedAt.IsZero() {
		return
	}
	for _, l := range p.hooks.Reaper.Harvest(p.leases, time.Now()) {
		if l.pc.lease != l || l.pc.state != connStateLeased {
			continue
		}
		p.hooks.Listener.LeaseExpired(l)
		if p.hooks.CloseExpired == nil || p.hooks.CloseExpired(l) {
			p.closeConn(l.pc, true)
		}
	}
	if p.draining {
		if len(p.leases) == 0 {
			p.shutdownNow()
		}
		return
	}
	for n := p.Immortal - p.immortalCount - p.immortalOpening; n > 0; n-- {
		p.open(true, nil)
	}
	p.pump()
}

func (p *Pool[C]) drain() {
	if p.draining {
		return
	}
	p.draining = true
	for _, f := range p.pending {
		if !f.fail(errors.WithStack(ErrPoolClosed)) && f.getState() == leaseStateCanceled {
			p.hooks.Listener.LeaseCanceled(f.userData)
		}
	}
	p.pending = nil
}

func (p *Pool[C]) shutdownNow() {
	if p.shutdown {
		return
	}
	p.drain()
	for _, pc := range p.conns {
		p.closeConn(pc, false)
	}
	p.leases = nil
	p.cancel()
	if sw := p.starting; sw != nil {
		p.starting = nil
		close(sw.done)
	}
	p.shutdown = true
	atomic.StoreInt32(&p.state, poolStateStopped)
	p.hooks.Listener.Stopped()
}
