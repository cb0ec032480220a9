// Package pool keeps connected IMAP clients for reuse.
package pool

import (
	"context"
	"errors"
	"sync"
)

// Conn is the part of *client.Client the pool relies on.
type Conn interface {
	IsConnected() bool
	Close() error
}

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("pool: closed")

// Pool manages idle connections created by a factory.
type Pool[C Conn] struct {
	mu      sync.Mutex
	factory func(ctx context.Context) (C, error)
	idle    []C
	maxIdle int
	closed  bool
}

// New creates a pool keeping at most maxIdle idle connections.
func New[C Conn](maxIdle int, factory func(ctx context.Context) (C, error)) *Pool[C] {
	return &Pool[C]{
		factory: factory,
		maxIdle: maxIdle,
	}
}

// Get returns an idle connection that is still connected, or creates one.
func (p *Pool[C]) Get(ctx context.Context) (C, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero C
		return zero, ErrClosed
	}
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if c.IsConnected() {
			p.mu.Unlock()
			return c, nil
		}
		_ = c.Close()
	}
	p.mu.Unlock()

	return p.factory(ctx)
}

// Put returns a connection to the pool. Broken connections and those beyond
// the idle limit are closed.
func (p *Pool[C]) Put(c C) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle) >= p.maxIdle || !c.IsConnected() {
		_ = c.Close()
		return
	}
	p.idle = append(p.idle, c)
}

// Close closes all idle connections.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	for _, c := range p.idle {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.idle = nil
	return errors.Join(errs...)
}

// Len returns the number of idle connections.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
