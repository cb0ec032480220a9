package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meszmate/mailcore"
)

// ErrNoToken is returned when no usable bearer token could be obtained.
var ErrNoToken = errors.New("auth: no access token available")

// ResolveBearer returns the bearer token to present for a. A provider takes
// precedence over a static token. With auto refresh enabled, a token whose
// expiry falls within the refresh skew of now is refreshed before use. A token
// without an explicit expiry is inspected as a JWT for its exp claim.
func ResolveBearer(ctx context.Context, cfg *mailcore.Config, a mailcore.XOAuth2Auth, now time.Time) (string, error) {
	if a.Provider == nil {
		if a.AccessToken == "" {
			return "", ErrNoToken
		}
		return a.AccessToken, nil
	}

	tok, err := a.Provider.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: get access token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrNoToken
	}
	if cfg != nil && cfg.OAuth.DisableAutoRefresh {
		return tok.AccessToken, nil
	}

	var skew time.Duration = mailcore.DefaultRefreshSkew
	if cfg != nil {
		skew = cfg.Skew()
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry, _ = ExpiryFromJWT(tok.AccessToken)
	}
	if expiry.IsZero() || expiry.Sub(now) > skew {
		return tok.AccessToken, nil
	}

	tok, err = a.Provider.RefreshAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: refresh access token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

// ExpiryFromJWT reads the exp claim of token without verifying its signature.
// Opaque tokens report false.
func ExpiryFromJWT(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
