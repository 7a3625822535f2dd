package ajp

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrClientExists is returned by Registry.Create for a known address.
	ErrClientExists = errors.New("client already exists")
	// ErrClientNotFound is returned for an unknown address.
	ErrClientNotFound = errors.New("client not found")
)

// Registry holds one started Client per container address.
type Registry struct {
	Config  ClientConfig // used for new clients
	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewRegistry returns an empty Registry creating clients with cfg.
func NewRegistry(cfg ClientConfig) *Registry {
	return &Registry{
		Config:  cfg,
		clients: make(map[string]*Client),
	}
}

// Create starts a new Client for addr. The registry is not locked while
// the client starts.
func (r *Registry) Create(ctx context.Context, addr string) (*Client, error) {
	r.mu.Lock()
	_, ok := r.clients[addr]
	r.mu.Unlock()
	if ok {
		return nil, errors.Wrap(ErrClientExists, addr)
	}
	c, existing, err := r.create(ctx, addr)
	if existing != nil {
		return nil, errors.Wrap(ErrClientExists, addr)
	}
	return c, err
}

// create starts a Client for addr and adds it, unless another caller
// added one first, in which case that one is returned as existing.
func (r *Registry) create(ctx context.Context, addr string) (c, existing *Client, err error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, nil, errors.WithStack(ErrPoolClosed)
	}
	c = NewClient(addr, r.Config)
	ready, err := c.Start(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !ready {
		c.Logger.Warn("not all immortal connections are ready")
	}

	r.mu.Lock()
	if r.closed {
		err = errors.WithStack(ErrPoolClosed)
	} else if existing = r.clients[addr]; existing == nil {
		r.clients[addr] = c
	}
	r.mu.Unlock()
	if err != nil || existing != nil {
		c.Close(true)
		c.Wait()
		return nil, existing, err
	}
	return c, nil, nil
}

// Get returns the Client for addr, if any.
func (r *Registry) Get(addr string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[addr]
	return c, ok
}

// Client returns the Client for addr, creating it if needed.
func (r *Registry) Client(ctx context.Context, addr string) (*Client, error) {
	if c, ok := r.Get(addr); ok {
		return c, nil
	}
	c, existing, err := r.create(ctx, addr)
	if existing != nil {
		return existing, nil
	}
	return c, err
}

// Destroy removes the Client for addr and closes it.
func (r *Registry) Destroy(addr string, force bool) error {
	r.mu.Lock()
	c, ok := r.clients[addr]
	delete(r.clients, addr)
	r.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrClientNotFound, addr)
	}
	c.Close(force)
	return nil
}

// Addrs returns the known addresses in sorted order.
func (r *Registry) Addrs() (addrs []string) {
	r.mu.Lock()
	for addr := range r.clients {
		addrs = append(addrs, addr)
	}
	r.mu.Unlock()
	sort.Strings(addrs)
	return
}

// Clients returns the known clients ordered by address.
func (r *Registry) Clients() (clients []*Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Addr < clients[j].Addr })
	return
}

// Close closes all clients and waits for them to shut down. No clients
// can be created afterwards.
func (r *Registry) Close(force bool) {
	r.mu.Lock()
	r.closed = true
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close(force)
	}
	for _, c := range clients {
		c.Wait()
	}
}
