package client

import (
	"context"
	"errors"
	"time"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/wire"
)

// Idle issues IDLE and reports EXISTS and EXPUNGE notifications to onEvent
// until maxDuration elapses, ctx ends, or the server ends the command. It
// then sends DONE and waits for the completion. The wait for the initial
// continuation and the DONE drain are bounded by the command timeout; the
// idle period itself only by maxDuration. A zero maxDuration idles until ctx
// ends.
//
// A server without the IDLE capability yields mailcore.ErrNotSupported.
func (c *Client) Idle(ctx context.Context, onEvent func(mailcore.IdleEvent), maxDuration time.Duration) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	if !c.Capabilities().Idle {
		return mailcore.ErrNotSupported
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	start := time.Now()
	err := c.idle(ctx, onEvent, maxDuration)
	if obs := c.options.Observer; obs != nil {
		obs.ObserveCommand(mailcore.ProtocolIMAP, "IDLE", time.Since(start), err)
	}
	return err
}

func (c *Client) idle(ctx context.Context, onEvent func(mailcore.IdleEvent), maxDuration time.Duration) error {
	prev := c.State()
	tag := c.tags.Next()

	startCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()
	if err := c.send(startCtx, wire.NewEncoder(tag, "IDLE").Bytes(), "", false); err != nil {
		return c.wrapErr("IDLE", err)
	}

	// Wait for the continuation.
	for {
		resp, err := wire.ReadResponse(startCtx, c.lr, c.options.LiteralLimit)
		if err != nil {
			return c.wrapErr("IDLE", err)
		}
		c.logRecv(resp)
		if len(resp.Text) > 0 && resp.Text[0] == '+' {
			break
		}
		if done, err := c.idleResponse(resp, tag, onEvent); done {
			return err
		}
	}

	c.setState(mailcore.ConnStateIdling)
	defer func() {
		c.mu.Lock()
		if c.state == mailcore.ConnStateIdling {
			c.state = prev
		}
		c.mu.Unlock()
	}()

	idleCtx, stop := ctx, context.CancelFunc(func() {})
	if maxDuration > 0 {
		idleCtx, stop = context.WithTimeout(ctx, maxDuration)
	}
	defer stop()

	for {
		resp, err := wire.ReadResponse(idleCtx, c.lr, c.options.LiteralLimit)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return c.wrapErr("IDLE", err)
		}
		c.logRecv(resp)
		if done, err := c.idleResponse(resp, tag, onEvent); done {
			return err
		}
	}

	// DONE is sent even when ctx was cancelled, so the session stays usable.
	doneCtx, cancelDone := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout())
	defer cancelDone()
	if err := c.send(doneCtx, []byte("DONE\r\n"), "", false); err != nil {
		return c.wrapErr("IDLE", err)
	}
	for {
		resp, err := wire.ReadResponse(doneCtx, c.lr, c.options.LiteralLimit)
		if err != nil {
			return c.wrapErr("IDLE", err)
		}
		c.logRecv(resp)
		if done, err := c.idleResponse(resp, tag, onEvent); done {
			return err
		}
	}
}

// idleResponse handles one response during IDLE. It reports done when the
// tagged completion arrived.
func (c *Client) idleResponse(resp *wire.Response, tag string, onEvent func(mailcore.IdleEvent)) (bool, error) {
	if len(resp.Text) > 0 && resp.Text[0] == '*' {
		u, err := parseUntagged(resp)
		if err != nil {
			return false, nil
		}
		if u.hasNum && onEvent != nil {
			switch u.name {
			case "EXISTS":
				onEvent(mailcore.IdleEvent{Kind: mailcore.IdleExists, Num: u.num})
			case "EXPUNGE":
				onEvent(mailcore.IdleEvent{Kind: mailcore.IdleExpunge, Num: u.num})
			}
		}
		c.handleIdleUntagged(u)
		return false, nil
	}
	if len(resp.Text) > 0 && resp.Text[0] == '+' {
		return false, nil
	}
	respTag, status, err := parseTagged(resp)
	if err != nil {
		return true, &mailcore.ProtocolError{Stage: "IDLE", Line: resp.Text, Err: err}
	}
	if respTag != tag {
		return false, nil
	}
	if status.Type != mailcore.StatusResponseTypeOK {
		return true, &mailcore.CommandError{Command: "IDLE", StatusResponse: status}
	}
	return true, nil
}

// handleIdleUntagged updates selection state without calling the
// unilateral data handler; IDLE reports through onEvent instead.
func (c *Client) handleIdleUntagged(u *untagged) {
	switch {
	case u.hasNum && u.name == "EXISTS":
		c.mu.Lock()
		if c.selected != nil {
			c.selected.Exists = u.num
		}
		c.mu.Unlock()
	case u.hasNum && u.name == "EXPUNGE":
		c.mu.Lock()
		if c.selected != nil && c.selected.Exists > 0 {
			c.selected.Exists--
		}
		c.mu.Unlock()
	case isStatusName(u.name):
		if u.name == string(mailcore.StatusResponseTypeBYE) {
			c.options.Logger.Debug("server said BYE during IDLE")
		}
	}
}
