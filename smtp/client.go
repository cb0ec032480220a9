// Package smtp implements an SMTP submission client over a
// transport.Transport, and the RFC 5322 message assembly it sends.
//
// The client negotiates EHLO (falling back to HELO), STARTTLS and AUTH in
// Connect. Each command waits for its complete reply before the next one is
// written.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/transport"
	"github.com/meszmate/mailcore/wire"
)

// State is the session state.
type State int

const (
	StateDisconnected State = iota
	StateGreeted
	StateHelloDone
	StateTLS
	StateAuthenticated
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateGreeted:
		return "greeted"
	case StateHelloDone:
		return "helo-done"
	case StateTLS:
		return "tls-upgraded"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Client is an SMTP client bound to one transport.
type Client struct {
	t       transport.Transport
	cfg     mailcore.Config
	options *Options

	// cmdMu serializes command/reply cycles.
	cmdMu sync.Mutex
	lr    *wire.LineReader
	w     *wire.Writer

	mu    sync.Mutex
	state State
	esmtp bool
	ext   map[string]string
}

// New creates a client for cfg over t. Authentication is optional.
func New(t transport.Transport, cfg *mailcore.Config, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, errors.New("smtp: nil transport")
	}
	if cfg == nil {
		return nil, errors.New("smtp: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Client{t: t, cfg: *cfg, options: options}, nil
}

// Connect opens the transport and runs the greeting, EHLO, optional STARTTLS
// and optional AUTH. Any failure closes the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if s := c.State(); s != StateDisconnected {
		return fmt.Errorf("smtp: connect in state %s", s)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	err := c.t.Connect(dialCtx, transport.Params{
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		Secure:   c.cfg.Secure,
		StartTLS: c.cfg.StartTLS,
		Protocol: "smtp",
	})
	cancel()
	if err != nil {
		return c.wrapErr("connect", err)
	}
	c.lr = wire.NewLineReader(c.t, c.options.MaxLineLength)
	c.w = wire.NewWriter(c.t)

	if err := c.readGreeting(ctx); err != nil {
		return c.fail(err)
	}
	c.setState(StateGreeted)

	if err := c.hello(ctx); err != nil {
		return c.fail(err)
	}
	c.setState(StateHelloDone)

	if c.cfg.StartTLS {
		if err := c.startTLS(ctx); err != nil {
			return c.fail(err)
		}
		c.setState(StateTLS)
	}

	if c.cfg.Auth != nil {
		if err := c.authenticate(ctx); err != nil {
			return c.fail(err)
		}
		c.setState(StateAuthenticated)
	}
	c.setState(StateReady)
	return nil
}

func (c *Client) fail(err error) error {
	_ = c.t.Close()
	c.setState(StateClosed)
	return err
}

func (c *Client) readGreeting(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	r, err := readReply(ctx, c.lr)
	if err != nil {
		return &mailcore.ProtocolError{Stage: "greeting", Err: c.wrapErr("greeting", err)}
	}
	c.logReply(r)
	if err := r.expect("greeting", 220); err != nil {
		return &mailcore.ProtocolError{Stage: "greeting", Err: err}
	}
	return nil
}

func (c *Client) heloName() string {
	if c.cfg.HeloName != "" {
		return c.cfg.HeloName
	}
	return "localhost"
}

// hello sends EHLO and records the announced extensions. A server that
// rejects EHLO with a permanent error gets HELO instead.
func (c *Client) hello(ctx context.Context) error {
	r, err := c.cmd(ctx, "EHLO", "EHLO "+c.heloName(), false)
	if err != nil {
		return &mailcore.ProtocolError{Stage: "EHLO", Err: err}
	}
	if r.Code == 250 {
		c.setExtensions(r.Lines[1:])
		return nil
	}
	if r.Code < 500 {
		return &mailcore.ProtocolError{Stage: "EHLO", Err: newReplyError("EHLO", r)}
	}

	r, err = c.cmd(ctx, "HELO", "HELO "+c.heloName(), false)
	if err == nil {
		err = r.expect("HELO", 250)
	}
	if err != nil {
		return &mailcore.ProtocolError{Stage: "HELO", Err: err}
	}
	c.mu.Lock()
	c.esmtp = false
	c.ext = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) setExtensions(lines []string) {
	ext := make(map[string]string, len(lines))
	for _, l := range lines {
		name, param, _ := strings.Cut(strings.TrimSpace(l), " ")
		if name != "" {
			ext[strings.ToUpper(name)] = param
		}
	}
	c.mu.Lock()
	c.esmtp = true
	c.ext = ext
	c.mu.Unlock()
}

// Extension reports whether the server announced the named EHLO extension
// and returns its parameters.
func (c *Client) Extension(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	param, ok := c.ext[strings.ToUpper(name)]
	return param, ok
}

// AuthMechanisms returns the mechanisms listed in the AUTH extension.
func (c *Client) AuthMechanisms() []string {
	param, ok := c.Extension("AUTH")
	if !ok {
		return nil
	}
	return strings.Fields(strings.ToUpper(param))
}

func (c *Client) startTLS(ctx context.Context) error {
	up, ok := c.t.(transport.Upgrader)
	if !ok {
		return &mailcore.ProtocolError{Stage: "STARTTLS", Err: errors.New("transport cannot upgrade to TLS")}
	}
	if _, ok := c.Extension("STARTTLS"); !ok {
		return &mailcore.ProtocolError{Stage: "STARTTLS", Err: mailcore.ErrNotSupported}
	}
	r, err := c.cmd(ctx, "STARTTLS", "STARTTLS", false)
	if err == nil {
		err = r.expect("STARTTLS", 220)
	}
	if err != nil {
		return &mailcore.ProtocolError{Stage: "STARTTLS", Err: err}
	}
	if c.lr.Buffered() > 0 {
		return &mailcore.ProtocolError{Stage: "STARTTLS", Err: errors.New("unexpected data after STARTTLS reply")}
	}

	upCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()
	if err := up.UpgradeTLS(upCtx, c.options.TLSConfig); err != nil {
		return &mailcore.ProtocolError{Stage: "STARTTLS", Err: err}
	}
	c.lr = wire.NewLineReader(c.t, c.options.MaxLineLength)

	c.mu.Lock()
	c.ext = nil
	c.mu.Unlock()
	return c.hello(ctx)
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// IsConnected reports whether the underlying transport is usable.
func (c *Client) IsConnected() bool {
	return c.State() != StateClosed && c.t.IsConnected()
}

// Close sends QUIT on a best-effort basis and closes the transport. It is
// safe to call in any state and more than once.
func (c *Client) Close() error {
	switch c.State() {
	case StateDisconnected, StateClosed:
	default:
		if c.cmdMu.TryLock() {
			ctx, cancel := context.WithTimeout(context.Background(), c.options.QuitTimeout)
			r, err := c.cmd(ctx, "QUIT", "QUIT", false)
			if err == nil {
				err = r.expect("QUIT", 221)
			}
			if err != nil {
				c.options.Logger.Debug("quit failed", "error", err)
			}
			cancel()
			c.cmdMu.Unlock()
		}
	}
	c.setState(StateClosed)
	return c.t.Close()
}

// cmd writes one command line and reads its reply. The caller holds cmdMu
// and checks the reply code.
func (c *Client) cmd(ctx context.Context, name, line string, redact bool) (*Reply, error) {
	start := time.Now()
	r, err := c.roundTrip(ctx, name, line, redact)
	if obs := c.options.Observer; obs != nil {
		var oerr error = err
		if err == nil && r.Code >= 400 {
			oerr = newReplyError(name, r)
		}
		obs.ObserveCommand(mailcore.ProtocolSMTP, name, time.Since(start), oerr)
	}
	return r, err
}

// errLineBreak is reported for a command line that would split in two.
var errLineBreak = errors.New("smtp: CR or LF in command")

func (c *Client) roundTrip(ctx context.Context, name, line string, redact bool) (*Reply, error) {
	if strings.ContainsAny(line, "\r\n") {
		return nil, fmt.Errorf("%s: %w", name, errLineBreak)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	if c.options.DebugLog {
		if redact {
			c.options.Logger.Debug("send", "line", name+" [redacted]")
		} else {
			c.options.Logger.Debug("send", "line", line)
		}
	}
	if err := c.w.WriteString(ctx, line+"\r\n"); err != nil {
		return nil, c.wrapErr(name, err)
	}
	r, err := readReply(ctx, c.lr)
	if err != nil {
		return nil, c.wrapErr(name, err)
	}
	c.logReply(r)
	return r, nil
}

func (c *Client) logReply(r *Reply) {
	if c.options.DebugLog {
		c.options.Logger.Debug("recv", "code", r.Code, "text", r.Text())
	}
}

// wrapErr classifies a read or write failure. SMTP replies carry no tag, so
// after a timeout or cancellation a late reply would be taken for the next
// command's; the session is closed instead.
func (c *Client) wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return c.fail(&mailcore.TimeoutError{Op: op, Limit: c.cfg.Timeout()})
	case errors.Is(err, context.Canceled):
		return c.fail(fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, transport.ErrNotConnected):
		c.setState(StateClosed)
		return fmt.Errorf("%s: %w", op, mailcore.ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}
