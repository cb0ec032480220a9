package client

import (
	"context"
	"fmt"
	"time"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/wire"
)

// tagGenerator generates command tags "A0001", "A0002", ...
// It is only used under cmdMu.
type tagGenerator struct {
	prefix  string
	counter int
}

// Next returns the next unique tag.
func (g *tagGenerator) Next() string {
	g.counter++
	return fmt.Sprintf("%s%04d", g.prefix, g.counter)
}

func (g *tagGenerator) reset() {
	g.counter = 0
}

// command is one IMAP command and its response handling.
type command struct {
	// name is the command name used in errors, logs and metrics.
	name string
	// args writes everything after the name.
	args func(e *wire.Encoder)
	// literal is sent after the command line, either once the server sends
	// a continuation or, if nonSync, right away.
	literal []byte
	nonSync bool
	// redact hides the arguments from the debug log.
	redact bool
	// keep overrides Options.LiteralLimit when non-zero.
	keep int64
	// onData is called for each untagged response.
	onData func(u *untagged) error
	// onCont answers a continuation request that is not for the literal.
	onCont func(text string) ([]byte, error)
}

// execute runs cmd under the command lock.
func (c *Client) execute(ctx context.Context, cmd *command) (*mailcore.StatusResponse, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() == mailcore.ConnStateClosed {
		return nil, mailcore.ErrClosed
	}
	return c.run(ctx, cmd)
}

// run sends cmd and drives the response loop until its tagged completion.
// The caller holds cmdMu.
func (c *Client) run(ctx context.Context, cmd *command) (*mailcore.StatusResponse, error) {
	start := time.Now()
	status, err := c.roundTrip(ctx, cmd)
	if obs := c.options.Observer; obs != nil {
		obs.ObserveCommand(mailcore.ProtocolIMAP, cmd.name, time.Since(start), err)
	}
	return status, err
}

func (c *Client) roundTrip(ctx context.Context, cmd *command) (*mailcore.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	tag := c.tags.Next()
	e := wire.NewEncoder(tag, cmd.name)
	if cmd.args != nil {
		cmd.args(e)
	}
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.name, err)
	}
	if err := c.send(ctx, e.Bytes(), tag+" "+cmd.name, cmd.redact); err != nil {
		return nil, c.wrapErr(cmd.name, err)
	}

	literalPending := cmd.literal != nil
	if literalPending && cmd.nonSync {
		if err := c.sendLiteral(ctx, cmd.literal); err != nil {
			return nil, c.wrapErr(cmd.name, err)
		}
		literalPending = false
	}

	keep := c.options.LiteralLimit
	if cmd.keep != 0 {
		keep = cmd.keep
	}

	var dataErr error
	for {
		resp, err := wire.ReadResponse(ctx, c.lr, keep)
		if err != nil {
			return nil, c.wrapErr(cmd.name, err)
		}
		c.logRecv(resp)

		switch {
		case len(resp.Text) > 0 && resp.Text[0] == '+':
			text := continuationText(resp.Text)
			var reply []byte
			switch {
			case literalPending:
				err = c.sendLiteral(ctx, cmd.literal)
				literalPending = false
			case cmd.onCont != nil:
				reply, err = cmd.onCont(text)
				if err == nil {
					err = c.send(ctx, append(reply, '\r', '\n'), "(continuation)", true)
				}
			default:
				err = &mailcore.ProtocolError{Stage: cmd.name, Line: resp.Text}
			}
			if err != nil {
				return nil, c.wrapErr(cmd.name, err)
			}

		case len(resp.Text) > 1 && resp.Text[0] == '*':
			u, err := parseUntagged(resp)
			if err != nil {
				c.options.Logger.Debug("malformed untagged response", "line", resp.Text, "error", err)
				continue
			}
			c.handleUntagged(u)
			if cmd.onData != nil {
				if u, err = parseUntagged(resp); err == nil {
					err = cmd.onData(u)
				}
				if err != nil && dataErr == nil {
					dataErr = fmt.Errorf("%s: %w", cmd.name, err)
				}
			}

		default:
			respTag, status, err := parseTagged(resp)
			if err != nil {
				return nil, &mailcore.ProtocolError{Stage: cmd.name, Line: resp.Text, Err: err}
			}
			if respTag != tag {
				// Completion of an earlier command that timed out.
				c.options.Logger.Debug("discarding stale completion", "tag", respTag)
				continue
			}
			c.handleStatusCode(status)
			if status.Type != mailcore.StatusResponseTypeOK {
				return status, &mailcore.CommandError{Command: cmd.name, StatusResponse: status}
			}
			return status, dataErr
		}
	}
}

func (c *Client) send(ctx context.Context, line []byte, logLine string, redact bool) error {
	if c.options.DebugLog {
		if redact {
			c.options.Logger.Debug("send", "line", logLine+" [redacted]")
		} else {
			c.options.Logger.Debug("send", "line", string(line[:len(line)-2]))
		}
	}
	return c.w.Write(ctx, line)
}

func (c *Client) sendLiteral(ctx context.Context, data []byte) error {
	if c.options.DebugLog {
		c.options.Logger.Debug("send literal", "bytes", len(data))
	}
	buf := make([]byte, 0, len(data)+2)
	buf = append(buf, data...)
	buf = append(buf, '\r', '\n')
	return c.w.Write(ctx, buf)
}

func (c *Client) logRecv(resp *wire.Response) {
	if c.options.DebugLog {
		c.options.Logger.Debug("recv", "line", resp.Text, "literals", len(resp.Literals))
	}
}

func continuationText(line string) string {
	if len(line) > 2 {
		return line[2:]
	}
	return ""
}
