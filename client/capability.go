package client

import (
	"context"
	"errors"
	"slices"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/transport"
	"github.com/meszmate/mailcore/wire"
)

// capability issues CAPABILITY. A missing CAPABILITY response is a
// negotiation failure.
func (c *Client) capability(ctx context.Context) error {
	seen := false
	_, err := c.run(ctx, &command{
		name: "CAPABILITY",
		onData: func(u *untagged) error {
			if u.name == "CAPABILITY" {
				seen = true
			}
			return nil
		},
	})
	if err != nil {
		return &mailcore.ProtocolError{Stage: "capability", Err: err}
	}
	if !seen {
		return &mailcore.ProtocolError{Stage: "capability", Err: errors.New("no CAPABILITY response")}
	}
	return nil
}

// SupportsIdle returns true if the server supports IDLE.
func (c *Client) SupportsIdle() bool {
	return c.Capabilities().Idle
}

// SupportsLiteralPlus returns true if the server supports LITERAL+.
func (c *Client) SupportsLiteralPlus() bool {
	return c.Capabilities().LiteralPlus
}

// SupportsUIDPlus returns true if the server supports UIDPLUS.
func (c *Client) SupportsUIDPlus() bool {
	return c.Capabilities().UIDPlus
}

// startTLS upgrades the connection and re-reads capabilities, which may
// differ once the channel is protected.
func (c *Client) startTLS(ctx context.Context) error {
	up, ok := c.t.(transport.Upgrader)
	if !ok {
		return &mailcore.ProtocolError{Stage: "starttls", Err: errors.New("transport cannot upgrade to TLS")}
	}
	if !c.Capabilities().Has(mailcore.CapStartTLS) {
		return &mailcore.ProtocolError{Stage: "starttls", Err: mailcore.ErrNotSupported}
	}
	if _, err := c.run(ctx, &command{name: "STARTTLS"}); err != nil {
		return &mailcore.ProtocolError{Stage: "starttls", Err: err}
	}
	// Plaintext received after the OK could have been injected.
	if c.lr.Buffered() > 0 {
		return &mailcore.ProtocolError{Stage: "starttls", Err: errors.New("unexpected data after STARTTLS response")}
	}

	upCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()
	if err := up.UpgradeTLS(upCtx, c.options.TLSConfig); err != nil {
		return &mailcore.ProtocolError{Stage: "starttls", Err: err}
	}
	c.lr = wire.NewLineReader(c.t, c.options.MaxLineLength)

	c.mu.Lock()
	c.caps = mailcore.Capabilities{}
	c.mu.Unlock()
	return c.capability(ctx)
}

// sendID sends the RFC 2971 client identification.
func (c *Client) sendID(ctx context.Context) error {
	keys := make([]string, 0, len(c.cfg.ClientID))
	for k := range c.cfg.ClientID {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	_, err := c.run(ctx, &command{
		name: "ID",
		args: func(e *wire.Encoder) {
			e.SP().Atom("(")
			for i, k := range keys {
				if i > 0 {
					e.SP()
				}
				e.QuotedString(k).SP().QuotedString(c.cfg.ClientID[k])
			}
			e.Atom(")")
		},
	})
	return err
}
