package mailcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultCommandTimeout bounds every command/response cycle.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultRefreshSkew is how close to expiry a bearer token is refreshed
	// before use.
	DefaultRefreshSkew = 60 * time.Second
)

// Config is the connection configuration of one client instance. It must not
// be modified after it is passed to a client.
type Config struct {
	Host string
	Port int
	// Secure selects implicit TLS.
	Secure bool
	// StartTLS upgrades a plain connection after the greeting.
	StartTLS bool
	// Auth is the authentication method; nil skips authentication (SMTP only).
	Auth AuthMethod
	// CommandTimeout bounds each command; zero means DefaultCommandTimeout.
	CommandTimeout time.Duration
	// ClientID is sent with the IMAP ID command after authentication.
	ClientID map[string]string
	// HeloName is the SMTP EHLO domain; empty means "localhost".
	HeloName string
	// OAuth tunes bearer token handling for XOAuth2Auth.
	OAuth OAuthOptions
}

// OAuthOptions tunes proactive and reactive token refresh.
type OAuthOptions struct {
	// RefreshSkew is the window before expiry in which a token is refreshed
	// proactively; zero means DefaultRefreshSkew.
	RefreshSkew time.Duration
	// DisableAutoRefresh turns off proactive refresh.
	DisableAutoRefresh bool
	// DisableRetryOnAuthFailure turns off the single refresh-and-retry.
	DisableRetryOnAuthFailure bool
}

// Timeout returns the effective command timeout.
func (c *Config) Timeout() time.Duration {
	if c.CommandTimeout > 0 {
		return c.CommandTimeout
	}
	return DefaultCommandTimeout
}

// Skew returns the effective refresh skew.
func (c *Config) Skew() time.Duration {
	if c.OAuth.RefreshSkew > 0 {
		return c.OAuth.RefreshSkew
	}
	return DefaultRefreshSkew
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("mailcore: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mailcore: invalid port %d", c.Port)
	}
	if c.Secure && c.StartTLS {
		return errors.New("mailcore: secure and starttls are mutually exclusive")
	}
	if c.Auth != nil {
		if err := c.Auth.validate(); err != nil {
			return err
		}
	}
	return nil
}

// AuthMethod is one of PlainAuth, LoginAuth or XOAuth2Auth.
type AuthMethod interface {
	// Mechanism returns the SASL mechanism name.
	Mechanism() string
	validate() error
}

// PlainAuth authenticates with SASL PLAIN.
type PlainAuth struct {
	Username string
	Password string
}

// Mechanism returns "PLAIN".
func (PlainAuth) Mechanism() string { return "PLAIN" }

func (a PlainAuth) validate() error {
	if a.Username == "" {
		return errors.New("mailcore: PLAIN requires a username")
	}
	return nil
}

// LoginAuth authenticates with the IMAP LOGIN command or SMTP AUTH LOGIN.
type LoginAuth struct {
	Username string
	Password string
}

// Mechanism returns "LOGIN".
func (LoginAuth) Mechanism() string { return "LOGIN" }

func (a LoginAuth) validate() error {
	if a.Username == "" {
		return errors.New("mailcore: LOGIN requires a username")
	}
	return nil
}

// XOAuth2Auth authenticates with an OAuth bearer token. When Provider is set
// it takes precedence over AccessToken.
type XOAuth2Auth struct {
	Username    string
	AccessToken string
	Provider    TokenProvider
}

// Mechanism returns "XOAUTH2".
func (XOAuth2Auth) Mechanism() string { return "XOAUTH2" }

func (a XOAuth2Auth) validate() error {
	if a.Username == "" {
		return errors.New("mailcore: XOAUTH2 requires a username")
	}
	if a.Provider == nil && a.AccessToken == "" {
		return errors.New("mailcore: XOAUTH2 requires an access token or a token provider")
	}
	return nil
}

// Refreshable reports whether a provider is configured.
func (a XOAuth2Auth) Refreshable() bool {
	return a.Provider != nil
}

// Token is a bearer token as handed out by a TokenProvider.
type Token struct {
	AccessToken string
	// Expiry is zero when unknown.
	Expiry       time.Time
	RefreshToken string
}

// TokenProvider supplies bearer tokens. It is implemented outside this
// module; the clients only consume it.
type TokenProvider interface {
	// AccessToken returns a currently valid token.
	AccessToken(ctx context.Context) (*Token, error)
	// RefreshAccessToken forces a refresh and returns the new token.
	RefreshAccessToken(ctx context.Context) (*Token, error)
}
