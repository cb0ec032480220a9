package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/meszmate/mailcore"
	"github.com/meszmate/mailcore/auth"
	"github.com/meszmate/mailcore/wire"
)

// authenticate runs the configured method. XOAUTH2 with a provider is
// retried once after a forced token refresh when the server rejects it.
func (c *Client) authenticate(ctx context.Context) error {
	switch m := c.cfg.Auth.(type) {
	case mailcore.LoginAuth:
		return c.login(ctx, m)
	case mailcore.XOAuth2Auth:
		if c.retryOnAuthFailure() {
			_, err := auth.WithRefresh(ctx, m.Provider, auth.IsAuthFailure, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, c.authenticateSASL(ctx)
			})
			return err
		}
	}
	return c.authenticateSASL(ctx)
}

// retryOnAuthFailure reports whether the single refresh-and-retry applies.
func (c *Client) retryOnAuthFailure() bool {
	m, ok := c.cfg.Auth.(mailcore.XOAuth2Auth)
	return ok && m.Refreshable() && !c.cfg.OAuth.DisableRetryOnAuthFailure
}

// withAuthRetry runs op through the refresh-and-retry policy.
func withAuthRetry[T any](ctx context.Context, c *Client, op func(context.Context) (T, error)) (T, error) {
	if !c.retryOnAuthFailure() {
		return op(ctx)
	}
	provider := c.cfg.Auth.(mailcore.XOAuth2Auth).Provider
	return auth.WithRefresh(ctx, provider, auth.IsAuthFailure, op)
}

// login issues LOGIN with quoted credentials.
func (c *Client) login(ctx context.Context, m mailcore.LoginAuth) error {
	if c.Capabilities().Has("LOGINDISABLED") {
		return &mailcore.AuthError{Mechanism: "LOGIN", Err: mailcore.ErrNotSupported}
	}
	_, err := c.run(ctx, &command{
		name:   "LOGIN",
		redact: true,
		args: func(e *wire.Encoder) {
			e.SP().QuotedString(m.Username).SP().QuotedString(m.Password)
		},
	})
	if err != nil {
		return authError("LOGIN", err)
	}
	return nil
}

// authenticateSASL runs AUTHENTICATE. The initial response goes on the
// command line when the server announced SASL-IR, otherwise in reply to the
// first continuation. A continuation the mechanism cannot answer cancels the
// exchange with "*".
func (c *Client) authenticateSASL(ctx context.Context) error {
	mech, err := auth.NewClient(ctx, &c.cfg, c.cfg.Auth, c.options.Now())
	if err != nil {
		return &mailcore.AuthError{Mechanism: c.cfg.Auth.Mechanism(), Err: err}
	}
	name, ir, err := mech.Start()
	if err != nil {
		return &mailcore.AuthError{Mechanism: c.cfg.Auth.Mechanism(), Err: err}
	}
	caps := c.Capabilities()
	if !caps.HasAuth(name) {
		c.options.Logger.Debug("mechanism not announced, trying anyway", "mechanism", name)
	}

	inline := ir != nil && caps.Has(mailcore.CapSASLIR)
	irPending := ir != nil && !inline
	var mechErr error

	_, err = c.run(ctx, &command{
		name:   "AUTHENTICATE",
		redact: true,
		args: func(e *wire.Encoder) {
			e.SP().Atom(name)
			if inline {
				e.SP().Atom(auth.EncodeInitialResponse(ir))
			}
		},
		onCont: func(text string) ([]byte, error) {
			if irPending {
				irPending = false
				return []byte(auth.EncodeInitialResponse(ir)), nil
			}
			challenge, err := base64.StdEncoding.DecodeString(text)
			if err != nil {
				challenge = []byte(text)
			}
			resp, err := mech.Next(challenge)
			if err != nil {
				mechErr = err
				return []byte("*"), nil
			}
			return []byte(base64.StdEncoding.EncodeToString(resp)), nil
		},
	})
	if err != nil {
		if mechErr != nil {
			err = errors.Join(err, mechErr)
		}
		return authError(name, err)
	}
	return nil
}

// authError wraps a server rejection; transport failures and timeouts pass
// through unchanged.
func authError(mech string, err error) error {
	var ce *mailcore.CommandError
	if errors.As(err, &ce) {
		return &mailcore.AuthError{Mechanism: mech, Err: err}
	}
	if mailcore.IsTimeout(err) || errors.Is(err, mailcore.ErrClosed) {
		return err
	}
	return fmt.Errorf("%s: %w", mech, err)
}
