// Package pool provides a bounded set of reusable HTTP transport
// connections keyed by endpoint. Callers borrow a connection for the
// duration of one call and must release it on every exit path.
package pool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// PoolExhaustedError is returned when no connection could be acquired
// within the configured timeout. Retryable by the caller after backoff.
type PoolExhaustedError struct {
	Endpoint string
	Capacity int
	Waited   time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for %s (capacity %d, waited %v)",
		e.Endpoint, e.Capacity, e.Waited)
}

// ErrPoolClosed is returned from Acquire after Close.
type ErrPoolClosed struct{}

func (e *ErrPoolClosed) Error() string { return "connection pool is closed" }

// Conn is a pooled transport handle bound to one endpoint. A Conn is
// never held by two concurrent callers at once.
type Conn struct {
	endpoint  string
	client    *http.Client
	transport *http.Transport
	lastUsed  time.Time
	healthy   bool
}

// Endpoint returns the endpoint this connection is bound to.
func (c *Conn) Endpoint() string { return c.endpoint }

// HTTPClient returns the underlying transport handle.
func (c *Conn) HTTPClient() *http.Client { return c.client }

func (c *Conn) close() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

// Config holds pool sizing and timing knobs.
type Config struct {
	// SizePerEndpoint bounds outstanding connections per endpoint.
	SizePerEndpoint int

	// AcquireTimeout bounds how long Acquire blocks for a free slot.
	AcquireTimeout time.Duration

	// IdleTimeout: idle connections older than this are discarded on
	// acquire rather than reused.
	IdleTimeout time.Duration

	// RequestTimeout is the per-call timeout of the transport handle.
	RequestTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	DialTimeout time.Duration
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.SizePerEndpoint <= 0 {
		c.SizePerEndpoint = 4
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

type endpointPool struct {
	idle chan *Conn
	open int // outstanding connections, guarded by Pool.mu
}

// Pool manages bounded per-endpoint connection sets.
type Pool struct {
	cfg Config

	mu        sync.Mutex
	endpoints map[string]*endpointPool
	closed    bool
}

// New creates a connection pool.
func New(cfg Config) *Pool {
	cfg.SetDefaults()
	return &Pool{
		cfg:       cfg,
		endpoints: make(map[string]*endpointPool),
	}
}

func (p *Pool) endpointPool(endpoint string) *endpointPool {
	ep, ok := p.endpoints[endpoint]
	if !ok {
		ep = &endpointPool{idle: make(chan *Conn, p.cfg.SizePerEndpoint)}
		p.endpoints[endpoint] = ep
	}
	return ep
}

func (p *Pool) dial(endpoint string) *Conn {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   p.cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     p.cfg.IdleTimeout,
	}
	return &Conn{
		endpoint:  endpoint,
		transport: transport,
		client: &http.Client{
			Timeout:   p.cfg.RequestTimeout,
			Transport: transport,
		},
		lastUsed: time.Now(),
		healthy:  true,
	}
}

// Acquire returns a healthy connection for the endpoint, dialing a new
// one when under capacity, or blocks until one is released. Blocking is
// bounded by the pool's AcquireTimeout and the caller's context.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &ErrPoolClosed{}
	}
	ep := p.endpointPool(endpoint)
	p.mu.Unlock()

	started := time.Now()
	timeout := time.NewTimer(p.cfg.AcquireTimeout)
	defer timeout.Stop()

	for {
		// Fast path: reuse an idle connection.
		select {
		case c := <-ep.idle:
			if time.Since(c.lastUsed) > p.cfg.IdleTimeout {
				p.discard(ep, c)
				continue
			}
			c.lastUsed = time.Now()
			return c, nil
		default:
		}

		// Dial a new connection if under capacity.
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, &ErrPoolClosed{}
		}
		if ep.open < p.cfg.SizePerEndpoint {
			ep.open++
			p.mu.Unlock()
			return p.dial(endpoint), nil
		}
		p.mu.Unlock()

		// At capacity: wait for a release.
		select {
		case c := <-ep.idle:
			if time.Since(c.lastUsed) > p.cfg.IdleTimeout {
				p.discard(ep, c)
				continue
			}
			c.lastUsed = time.Now()
			return c, nil
		case <-timeout.C:
			return nil, &PoolExhaustedError{
				Endpoint: endpoint,
				Capacity: p.cfg.SizePerEndpoint,
				Waited:   time.Since(started),
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns the connection to the pool. A connection flagged
// unhealthy (after an I/O error) is evicted and never reused.
func (p *Pool) Release(c *Conn, healthy bool) {
	if c == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	ep := p.endpoints[c.endpoint]
	p.mu.Unlock()

	if closed || !healthy || ep == nil {
		if ep != nil {
			p.discard(ep, c)
		} else {
			c.close()
		}
		return
	}

	c.lastUsed = time.Now()
	c.healthy = true
	select {
	case ep.idle <- c:
	default:
		// Idle buffer full: should not happen while accounting is
		// consistent, but never block a release.
		p.discard(ep, c)
	}
}

func (p *Pool) discard(ep *endpointPool, c *Conn) {
	c.close()
	p.mu.Lock()
	if ep.open > 0 {
		ep.open--
	}
	p.mu.Unlock()
}

// InUse returns the number of outstanding (acquired) connections for an
// endpoint.
func (p *Pool) InUse(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.endpoints[endpoint]
	if !ok {
		return 0
	}
	return ep.open - len(ep.idle)
}

// Close drains and closes every connection. Subsequent Acquire calls fail.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	endpoints := make([]*endpointPool, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		endpoints = append(endpoints, ep)
	}
	p.mu.Unlock()

	for _, ep := range endpoints {
		drained := false
		for !drained {
			select {
			case c := <-ep.idle:
				c.close()
			default:
				drained = true
			}
		}
	}
}
