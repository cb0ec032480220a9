package smtp

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/meszmate/mailcore"
)

// SendMail assembles msg and submits it to every To, Cc and Bcc recipient.
// Bcc recipients do not appear in the headers.
func (c *Client) SendMail(ctx context.Context, msg *Message) error {
	from, rcpt, err := msg.envelope()
	if err != nil {
		return err
	}
	data, err := BuildMessage(msg, c.options.Now(), c.heloName())
	if err != nil {
		return fmt.Errorf("smtp: build message: %w", err)
	}
	return c.Send(ctx, from, rcpt, data)
}

// Send submits prepared message data. data must not be dot-stuffed; Send
// does that and appends the end-of-data marker. A failure after MAIL FROM
// resets the transaction so the session stays usable.
func (c *Client) Send(ctx context.Context, from string, rcpt []string, data []byte) error {
	if len(rcpt) == 0 {
		return fmt.Errorf("smtp: no recipients")
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.requireReady(); err != nil {
		return err
	}
	if err := c.checkSize(len(data)); err != nil {
		return err
	}

	mailFrom := "MAIL FROM:<" + from + ">"
	if _, ok := c.Extension("SIZE"); ok {
		mailFrom += " SIZE=" + strconv.Itoa(len(data))
	}
	if _, ok := c.Extension("8BITMIME"); ok && has8Bit(data) {
		mailFrom += " BODY=8BITMIME"
	}
	if err := c.step(ctx, "MAIL FROM", mailFrom, 250); err != nil {
		return err
	}

	err := c.transaction(ctx, rcpt, data)
	if err != nil && c.State() == StateReady {
		if _, rerr := c.cmd(ctx, "RSET", "RSET", false); rerr != nil {
			c.options.Logger.Debug("reset failed", "error", rerr)
		}
	}
	return err
}

func (c *Client) transaction(ctx context.Context, rcpt []string, data []byte) error {
	for _, to := range rcpt {
		if err := c.step(ctx, "RCPT TO", "RCPT TO:<"+to+">", 250, 251); err != nil {
			return err
		}
	}
	if err := c.step(ctx, "DATA", "DATA", 354); err != nil {
		return err
	}

	start := time.Now()
	err := c.writeData(ctx, data)
	if obs := c.options.Observer; obs != nil {
		obs.ObserveCommand(mailcore.ProtocolSMTP, "DATA END", time.Since(start), err)
	}
	return err
}

// writeData streams the dot-stuffed message and waits for the final reply.
func (c *Client) writeData(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	stuffed := DotStuff(data)
	buf := make([]byte, 0, len(stuffed)+5)
	buf = append(buf, stuffed...)
	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		buf = append(buf, '\r', '\n')
	}
	buf = append(buf, ".\r\n"...)

	if c.options.DebugLog {
		c.options.Logger.Debug("send data", "bytes", len(data))
	}
	if err := c.w.Write(ctx, buf); err != nil {
		return c.wrapErr("DATA", err)
	}
	r, err := readReply(ctx, c.lr)
	if err != nil {
		return c.wrapErr("DATA", err)
	}
	c.logReply(r)
	return r.expect("DATA end", 250)
}

// step runs one command and checks its reply code.
func (c *Client) step(ctx context.Context, name, line string, codes ...int) error {
	r, err := c.cmd(ctx, name, line, false)
	if err != nil {
		return err
	}
	return r.expect(name, codes...)
}

func (c *Client) requireReady() error {
	switch s := c.State(); s {
	case StateReady:
		return nil
	case StateClosed:
		return mailcore.ErrClosed
	default:
		return fmt.Errorf("smtp: not ready in state %s", s)
	}
}

// checkSize rejects a message larger than the limit announced with SIZE.
func (c *Client) checkSize(n int) error {
	param, ok := c.Extension("SIZE")
	if !ok || param == "" {
		return nil
	}
	limit, err := strconv.Atoi(param)
	if err != nil || limit <= 0 || n <= limit {
		return nil
	}
	return fmt.Errorf("smtp: message of %d bytes exceeds the server limit of %d", n, limit)
}

func has8Bit(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return true
		}
	}
	return false
}
