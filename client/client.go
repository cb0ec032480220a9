// Package client implements an IMAP client over a transport.Transport.
//
// Commands are strictly sequential: each one is tagged, written, and its
// response loop is driven until the tagged completion arrives. Literals are
// consumed by exact byte count and retained up to Options.LiteralLimit.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/transport"
	"github.com/meszmate/mailcore/wire"
)

// Client is an IMAP client bound to one transport.
type Client struct {
	t       transport.Transport
	cfg     mailcore.Config
	options *Options

	// cmdMu serializes command/response cycles.
	cmdMu sync.Mutex
	tags  tagGenerator
	lr    *wire.LineReader
	w     *wire.Writer

	mu       sync.Mutex
	state    mailcore.ConnState
	caps     mailcore.Capabilities
	selected *mailcore.MailboxStatus
}

// New creates a client for cfg over t. Call Connect to open the session.
func New(t transport.Transport, cfg *mailcore.Config, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, errors.New("client: nil transport")
	}
	if cfg == nil {
		return nil, errors.New("client: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Auth == nil {
		return nil, errors.New("client: an authentication method is required")
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Client{
		t:       t,
		cfg:     *cfg,
		options: options,
		tags:    tagGenerator{prefix: "A"},
	}, nil
}

// Connect opens the transport, reads the greeting, negotiates capabilities,
// upgrades to TLS when configured, authenticates and sends the client ID.
// Any failure is fatal for the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if s := c.State(); s != mailcore.ConnStateDisconnected {
		return fmt.Errorf("client: connect in state %s", s)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	err := c.t.Connect(dialCtx, transport.Params{
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		Secure:   c.cfg.Secure,
		StartTLS: c.cfg.StartTLS,
		Protocol: "imap",
	})
	cancel()
	if err != nil {
		return c.wrapErr("connect", err)
	}
	c.lr = wire.NewLineReader(c.t, c.options.MaxLineLength)
	c.w = wire.NewWriter(c.t)
	c.tags.reset()

	preauth, err := c.readGreeting(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.setState(mailcore.ConnStateConnected)

	if err := c.capability(ctx); err != nil {
		return c.fail(err)
	}
	c.setState(mailcore.ConnStateCapabilityKnown)

	if c.cfg.StartTLS {
		if err := c.startTLS(ctx); err != nil {
			return c.fail(err)
		}
	}

	if !preauth {
		if err := c.authenticate(ctx); err != nil {
			return c.fail(err)
		}
	}
	c.setState(mailcore.ConnStateAuthenticated)

	if len(c.cfg.ClientID) > 0 {
		if err := c.sendID(ctx); err != nil {
			c.options.Logger.Debug("ID command ignored", "error", err)
		}
	}
	return nil
}

// fail closes the transport after a fatal connection error.
func (c *Client) fail(err error) error {
	_ = c.t.Close()
	c.mu.Lock()
	c.state = mailcore.ConnStateClosed
	c.selected = nil
	c.mu.Unlock()
	return err
}

func (c *Client) readGreeting(ctx context.Context) (preauth bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	resp, err := wire.ReadResponse(ctx, c.lr, c.options.LiteralLimit)
	if err != nil {
		return false, &mailcore.ProtocolError{Stage: "greeting", Err: c.wrapErr("greeting", err)}
	}
	c.logRecv(resp)

	u, err := parseUntagged(resp)
	if err != nil {
		return false, &mailcore.ProtocolError{Stage: "greeting", Line: resp.Text, Err: err}
	}
	switch u.name {
	case "OK":
		return false, nil
	case "PREAUTH":
		return true, nil
	}
	return false, &mailcore.ProtocolError{Stage: "greeting", Line: resp.Text}
}

// State returns the current connection state.
func (c *Client) State() mailcore.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s mailcore.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Capabilities returns the capabilities announced by the server.
func (c *Client) Capabilities() mailcore.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps.Clone()
}

// Selected returns the selection state of the current mailbox, or nil.
func (c *Client) Selected() *mailcore.MailboxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	sel := *c.selected
	return &sel
}

// IsConnected reports whether the underlying transport is usable.
func (c *Client) IsConnected() bool {
	return c.State() != mailcore.ConnStateClosed && c.t.IsConnected()
}

// Close sends LOGOUT on a best-effort basis, then closes the transport. It is
// safe to call in any state and more than once. While another command is in
// flight, LOGOUT is skipped and closing the transport ends that command.
func (c *Client) Close() error {
	switch c.State() {
	case mailcore.ConnStateDisconnected, mailcore.ConnStateClosed:
	default:
		if c.cmdMu.TryLock() {
			ctx, cancel := context.WithTimeout(context.Background(), c.options.LogoutTimeout)
			if _, err := c.run(ctx, &command{name: "LOGOUT"}); err != nil {
				c.options.Logger.Debug("logout failed", "error", err)
			}
			cancel()
			c.cmdMu.Unlock()
		}
	}

	c.mu.Lock()
	c.state = mailcore.ConnStateClosed
	c.selected = nil
	c.mu.Unlock()
	return c.t.Close()
}

func (c *Client) requireAuth() error {
	switch c.State() {
	case mailcore.ConnStateAuthenticated, mailcore.ConnStateSelected, mailcore.ConnStateIdling:
		return nil
	case mailcore.ConnStateClosed:
		return mailcore.ErrClosed
	}
	return mailcore.ErrNotAuthenticated
}

func (c *Client) requireSelected() error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return mailcore.ErrNoMailboxSelected
	}
	return nil
}

// wrapErr classifies a read or write failure. A command abandoned by
// timeout or cancellation may still be answered later, and its responses
// would be read as those of the next command, so the session is closed.
func (c *Client) wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return c.fail(&mailcore.TimeoutError{Op: op, Limit: c.cfg.Timeout()})
	case errors.Is(err, context.Canceled):
		return c.fail(fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, transport.ErrNotConnected):
		c.mu.Lock()
		c.state = mailcore.ConnStateClosed
		c.selected = nil
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, mailcore.ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}
