// Package auth provides the SASL client mechanisms and bearer token handling
// shared by the IMAP and SMTP clients.
//
// Mechanisms implement sasl.Client from github.com/emersion/go-sasl: PLAIN
// comes from that package, LOGIN and XOAUTH2 are implemented here.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/meszmate/mailcore"
)

// Mechanism names.
const (
	Plain   = "PLAIN"
	Login   = "LOGIN"
	XOAuth2 = "XOAUTH2"
)

// ErrUnexpectedChallenge is returned by a mechanism that received more
// challenges than its exchange has steps.
var ErrUnexpectedChallenge = errors.New("auth: unexpected server challenge")

// EncodeInitialResponse encodes a SASL initial response for the wire. An
// empty response is sent as "=".
func EncodeInitialResponse(ir []byte) string {
	if len(ir) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(ir)
}

// NewClient returns a SASL client for method. For XOAuth2Auth the bearer token
// is resolved first, refreshing it proactively when it is about to expire.
func NewClient(ctx context.Context, cfg *mailcore.Config, method mailcore.AuthMethod, now time.Time) (sasl.Client, error) {
	switch m := method.(type) {
	case mailcore.PlainAuth:
		return sasl.NewPlainClient("", m.Username, m.Password), nil
	case mailcore.LoginAuth:
		return NewLoginClient(m.Username, m.Password), nil
	case mailcore.XOAuth2Auth:
		token, err := ResolveBearer(ctx, cfg, m, now)
		if err != nil {
			return nil, err
		}
		return NewXOAuth2Client(m.Username, token), nil
	case nil:
		return nil, errors.New("auth: no authentication method configured")
	default:
		return nil, fmt.Errorf("auth: unsupported method %T", method)
	}
}
