package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/meszmate/mailcore"
)

var authFailureRe = regexp.MustCompile(`(?i)AUTHENTICATIONFAILED|AUTHORIZATIONFAILED|INVALID ?CREDENTIALS|\[AUTH|\bAUTHENTICATE\b|\bXOAUTH2\b|\bLOGIN\b`)

// authFailer is implemented by protocol errors that classify themselves,
// such as SMTP reply errors.
type authFailer interface {
	AuthFailure() bool
}

// IsAuthFailure reports whether err carries a server reply rejecting the
// credentials, as opposed to a transport, protocol or token provider
// failure. An AuthError counts only through the reply it wraps. Timeouts are
// never auth failures.
func IsAuthFailure(err error) bool {
	if err == nil || mailcore.IsTimeout(err) {
		return false
	}
	var af authFailer
	if errors.As(err, &af) {
		return af.AuthFailure()
	}
	var ce *mailcore.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case mailcore.ResponseCodeAuthenticationFailed, mailcore.ResponseCodeAuthorizationFailed, mailcore.ResponseCodeExpired:
			return true
		}
		return authFailureRe.MatchString(ce.Command) || authFailureRe.MatchString(ce.Text)
	}
	return false
}

// WithRefresh runs op and, when it fails with an auth failure and a provider
// is available, refreshes the token once and runs op exactly one more time.
// A failed refresh is reported joined with the original error.
func WithRefresh[T any](ctx context.Context, p mailcore.TokenProvider, isAuthFailure func(error) bool, op func(context.Context) (T, error)) (T, error) {
	v, err := op(ctx)
	if err == nil || p == nil || !isAuthFailure(err) {
		return v, err
	}
	if _, rerr := p.RefreshAccessToken(ctx); rerr != nil {
		var zero T
		return zero, errors.Join(err, fmt.Errorf("auth: refresh after failure: %w", rerr))
	}
	return op(ctx)
}
