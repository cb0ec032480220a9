package smtp

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/auth"
)

// authenticate runs AUTH with the configured method. XOAUTH2 with a
// provider gets one refresh and one retry when the server rejects the token.
func (c *Client) authenticate(ctx context.Context) error {
	if m, ok := c.cfg.Auth.(mailcore.XOAuth2Auth); ok && m.Refreshable() && !c.cfg.OAuth.DisableRetryOnAuthFailure {
		_, err := auth.WithRefresh(ctx, m.Provider, auth.IsAuthFailure, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.authSASL(ctx)
		})
		return err
	}
	return c.authSASL(ctx)
}

// authSASL drives the 334 challenge loop of one AUTH exchange.
func (c *Client) authSASL(ctx context.Context) error {
	mechName := c.cfg.Auth.Mechanism()
	mech, err := auth.NewClient(ctx, &c.cfg, c.cfg.Auth, c.options.Now())
	if err != nil {
		return &mailcore.AuthError{Mechanism: mechName, Err: err}
	}
	name, ir, err := mech.Start()
	if err != nil {
		return &mailcore.AuthError{Mechanism: mechName, Err: err}
	}
	if mechs := c.AuthMechanisms(); !slices.Contains(mechs, name) {
		c.options.Logger.Debug("mechanism not announced, trying anyway", "mechanism", name, "announced", mechs)
	}

	line := "AUTH " + name
	if ir != nil {
		line += " " + auth.EncodeInitialResponse(ir)
	}
	r, err := c.cmd(ctx, "AUTH", line, true)
	for err == nil && r.Code == 334 {
		challenge, derr := base64.StdEncoding.DecodeString(r.Text())
		if derr != nil {
			challenge = []byte(r.Text())
		}
		resp, merr := mech.Next(challenge)
		if merr != nil {
			// Cancel the exchange; the server answers with 501.
			if _, err := c.cmd(ctx, "AUTH", "*", false); err != nil {
				return err
			}
			return &mailcore.AuthError{Mechanism: name, Err: merr}
		}
		r, err = c.cmd(ctx, "AUTH", base64.StdEncoding.EncodeToString(resp), true)
	}
	if err != nil {
		return err
	}
	if err := r.expect("AUTH "+name, 235); err != nil {
		var re *ReplyError
		if errors.As(err, &re) && !re.AuthFailure() && re.Code < 500 {
			return err
		}
		return &mailcore.AuthError{Mechanism: name, Err: err}
	}
	return nil
}
