// Package conn provides a pooled-connection service instance: a lazily grown
// pool of connections to a single backend address that satisfies
// service.Instance, so discovery backends can hand out ready-to-use
// connection handles.
//
// The pool is a buffered channel used as a FIFO queue. Buffered channels are
// concurrency-safe and blocking-on-empty is built in.
package conn

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/multierr"

	"disco/service"
)

// ErrClosed is returned by Get once the instance has been shut down.
var ErrClosed = errors.New("conn: instance is shut down")

// Conn wraps a pooled connection. Callers that hit an I/O error mark the
// connection unusable before returning it, so it is discarded instead of
// being lent out again.
type Conn struct {
	net.Conn
	unusable bool
}

// MarkUnusable flags the connection for disposal on return.
func (c *Conn) MarkUnusable() { c.unusable = true }

// Instance is a pool of connections to one address. Connections are created
// lazily, borrowed with Get and returned with Put.
type Instance struct {
	addr     string
	maxConns int
	dial     func(ctx context.Context) (net.Conn, error)

	mu       sync.Mutex
	conns    chan *Conn
	curConns int
	closed   bool

	drainOnce sync.Once
	drained   chan struct{} // closed once every connection is gone
}

var _ service.Instance = (*Instance)(nil)

// New creates a pool for addr holding at most maxConns connections. A nil
// dial function defaults to TCP.
func New(addr string, maxConns int, dial func(ctx context.Context) (net.Conn, error)) *Instance {
	if dial == nil {
		dial = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Instance{
		addr:     addr,
		maxConns: maxConns,
		dial:     dial,
		conns:    make(chan *Conn, maxConns),
		drained:  make(chan struct{}),
	}
}

// Addr returns the backend address the pool dials.
func (p *Instance) Addr() string { return p.addr }

// Get borrows a connection.
// Strategy:
//  1. Take an idle connection if one is pooled
//  2. Otherwise dial a new one while under the limit
//  3. At the limit, block until a connection is returned or ctx ends
func (p *Instance) Get(ctx context.Context) (*Conn, error) {
	select {
	case c := <-p.conns:
		if c.unusable {
			p.retire(c)
			return p.Get(ctx)
		}
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.curConns < p.maxConns {
		p.curConns++
		p.mu.Unlock()
		netConn, err := p.dial(ctx)
		if err != nil {
			p.release()
			return nil, err
		}
		return &Conn{Conn: netConn}, nil
	}
	p.mu.Unlock()

	select {
	case c := <-p.conns:
		if c.unusable {
			p.retire(c)
			return p.Get(ctx)
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a borrowed connection to the pool. Unusable connections and
// returns after shutdown close the connection instead.
func (p *Instance) Put(c *Conn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || c.unusable {
		p.retire(c)
		return
	}
	p.conns <- c
	// The closed flag may have flipped between the check and the send, after
	// the shutdown drain already ran; reclaim so no connection is stranded.
	p.reclaimIfClosed()
}

// reclaimIfClosed retires a connection that landed in the channel after the
// shutdown drain. Without it a Put racing shutdown would strand the
// connection, leaking its slot and keeping the pool from draining.
func (p *Instance) reclaimIfClosed() {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		return
	}
	select {
	case c := <-p.conns:
		p.retire(c)
	default:
	}
}

// retire closes a connection and gives up its pool slot.
func (p *Instance) retire(c *Conn) {
	c.Close()
	p.release()
}

// release frees one pool slot and, after shutdown, signals once the last
// connection is gone.
func (p *Instance) release() {
	p.mu.Lock()
	p.curConns--
	last := p.closed && p.curConns == 0
	p.mu.Unlock()
	if last {
		p.drainOnce.Do(func() { close(p.drained) })
	}
}

// Shutdown closes every idle connection immediately. Borrowed connections
// are closed as they are returned.
func (p *Instance) Shutdown(ctx context.Context) error {
	idle, already := p.markClosed()
	if already {
		return nil
	}
	var errs error
	for _, c := range idle {
		errs = multierr.Append(errs, c.Conn.Close())
	}
	for range idle {
		p.release()
	}
	return errs
}

// ShutdownGracefully closes idle connections, then waits (bounded by ctx)
// for borrowed connections to be returned and closed.
func (p *Instance) ShutdownGracefully(ctx context.Context) error {
	idle, already := p.markClosed()
	if already {
		return nil
	}
	var errs error
	for _, c := range idle {
		errs = multierr.Append(errs, c.Conn.Close())
	}
	for range idle {
		p.release()
	}

	p.mu.Lock()
	remaining := p.curConns
	p.mu.Unlock()
	if remaining == 0 {
		return errs
	}

	for {
		select {
		case <-p.drained:
			return errs
		case c := <-p.conns:
			// A return raced the closed flag and slipped into the channel.
			p.retire(c)
		case <-ctx.Done():
			return multierr.Append(errs, ctx.Err())
		}
	}
}

// markClosed flips the pool into the closed state and drains the idle
// connections out of the channel. Reports whether the pool was already
// closed.
func (p *Instance) markClosed() (idle []*Conn, already bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, true
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.conns:
			idle = append(idle, c)
		default:
			return idle, false
		}
	}
}
