package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"sync"
	"time"
)

// ALPN identifiers registered for mail protocols. Other hints are not
// offered, since a server with ALPN configured rejects unknown protocols.
var alpnProtocols = map[string]bool{
	"imap": true,
	"pop3": true,
}

// Conn is a Transport over a net.Conn.
//
// A single pump goroutine reads from the socket, but only while at least one
// Read is waiting. Chunks go to waiting Reads in FIFO order; a chunk that
// arrives with no Read waiting is held until the next Read.
type Conn struct {
	options *Options

	mu        sync.Mutex
	conn      net.Conn
	host      string
	pending   []*readRequest
	ready     [][]byte
	err       error
	closed    bool
	reading   bool
	upgrading bool

	wake chan struct{}
	done chan struct{}
}

type readRequest struct {
	ch chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// New returns an unconnected Conn. Call Connect to dial.
func New(opts ...Option) *Conn {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Conn{
		options: options,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// NewConn wraps an established connection. Connect must not be called.
func NewConn(nc net.Conn, opts ...Option) *Conn {
	c := New(opts...)
	c.attach(nc, "")
	return c
}

// Connect dials p.Addr(), with TLS when p.Secure is set.
func (c *Conn) Connect(ctx context.Context, p Params) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("transport: already connected")
	}
	c.mu.Unlock()

	if c.options.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.DialTimeout)
		defer cancel()
	}

	dial := c.options.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	nc, err := dial(ctx, "tcp", p.Addr())
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", p.Addr(), err)
	}
	if p.Secure {
		tc := tls.Client(nc, c.tlsConfig(nil, p.Host, p.Protocol))
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return fmt.Errorf("transport: tls handshake with %s: %w", p.Addr(), err)
		}
		nc = tc
	}

	c.options.Logger.Debug("connected", "addr", p.Addr(), "tls", p.Secure)
	c.attach(nc, p.Host)
	return nil
}

func (c *Conn) attach(nc net.Conn, host string) {
	c.mu.Lock()
	c.conn = nc
	c.host = host
	c.mu.Unlock()
	go c.pump()
}

func (c *Conn) tlsConfig(base *tls.Config, host, protocol string) *tls.Config {
	if base == nil {
		base = c.options.TLSConfig
	}
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if len(cfg.NextProtos) == 0 && alpnProtocols[protocol] {
		cfg.NextProtos = []string{protocol}
	}
	return cfg
}

// pump reads from the socket while Reads are waiting.
func (c *Conn) pump() {
	buf := make([]byte, c.options.ChunkSize)
	for {
		c.mu.Lock()
		for !c.closed && (len(c.pending) == 0 || c.upgrading) {
			c.mu.Unlock()
			select {
			case <-c.wake:
			case <-c.done:
				return
			}
			c.mu.Lock()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		nc := c.conn
		c.reading = true
		c.mu.Unlock()

		n, err := nc.Read(buf)

		c.mu.Lock()
		c.reading = false
		if n > 0 {
			c.deliverLocked(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			c.failLocked(err)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Conn) deliverLocked(chunk []byte) {
	if len(c.pending) == 0 {
		c.ready = append(c.ready, chunk)
		return
	}
	req := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	req.ch <- readResult{data: chunk}
}

func (c *Conn) failLocked(err error) {
	if c.err == nil {
		c.err = err
	}
	if !c.closed && !errors.Is(err, io.EOF) {
		c.options.Logger.Debug("transport read failed", "error", err)
	}
	for _, req := range c.pending {
		req.ch <- readResult{err: io.EOF}
	}
	c.pending = nil
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Read returns the next chunk from the connection, waiting behind any
// earlier Reads. If ctx ends first the request is withdrawn; a chunk that was
// already handed to it is kept for the next Read.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, io.EOF
	}
	if len(c.ready) > 0 {
		chunk := c.ready[0]
		c.ready[0] = nil
		c.ready = c.ready[1:]
		c.mu.Unlock()
		return chunk, nil
	}
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if c.err != nil {
		c.mu.Unlock()
		return nil, io.EOF
	}
	req := &readRequest{ch: make(chan readResult, 1)}
	c.pending = append(c.pending, req)
	c.mu.Unlock()
	c.signal()

	select {
	case res := <-req.ch:
		return res.data, res.err
	case <-ctx.Done():
		c.withdraw(req)
		return nil, ctx.Err()
	}
}

func (c *Conn) withdraw(req *readRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.pending, req); i >= 0 {
		c.pending = slices.Delete(c.pending, i, i+1)
		return
	}
	// Delivery happens under mu, so the result is already buffered.
	select {
	case res := <-req.ch:
		if len(res.data) > 0 {
			c.ready = slices.Insert(c.ready, 0, res.data)
		}
	default:
	}
}

// Write sends p. The context deadline becomes the socket write deadline and
// cancelling ctx aborts the write.
func (c *Conn) Write(ctx context.Context, p []byte) error {
	c.mu.Lock()
	nc := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || nc == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := nc.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := nc.Write(p); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// UpgradeTLS performs a client TLS handshake over the current connection.
// It fails with ErrUpgradeBusy when received plaintext has not been consumed
// or a read is in flight.
func (c *Conn) UpgradeTLS(ctx context.Context, config *tls.Config) error {
	c.mu.Lock()
	if c.closed || c.conn == nil || c.err != nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.reading || len(c.pending) > 0 || len(c.ready) > 0 {
		c.mu.Unlock()
		return ErrUpgradeBusy
	}
	c.upgrading = true
	nc, host := c.conn, c.host
	c.mu.Unlock()

	tc := tls.Client(nc, c.tlsConfig(config, host, ""))
	err := tc.HandshakeContext(ctx)

	c.mu.Lock()
	c.upgrading = false
	if err == nil {
		c.conn = tc
	}
	c.mu.Unlock()
	c.signal()

	if err != nil {
		return fmt.Errorf("transport: tls handshake: %w", err)
	}
	c.options.Logger.Debug("tls upgraded", "version", tls.VersionName(tc.ConnectionState().Version))
	return nil
}

// Close closes the connection. Pending and later Reads return io.EOF.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, req := range c.pending {
		req.ch <- readResult{err: io.EOF}
	}
	c.pending = nil
	c.ready = nil
	nc := c.conn
	close(c.done)
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

// IsConnected reports whether the connection is open and has not failed.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed && c.err == nil
}

// Err returns the error that ended the read side, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

var (
	_ Transport = (*Conn)(nil)
	_ Upgrader  = (*Conn)(nil)
)
