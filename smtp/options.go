package smtp

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/meszmate/mailcore"
)

// Option is a functional option for configuring the client.
type Option func(*Options)

// Options holds client configuration beyond mailcore.Config.
type Options struct {
	// TLSConfig is used for the STARTTLS upgrade.
	TLSConfig *tls.Config

	Logger *slog.Logger

	// DebugLog logs every command and reply at Debug level. AUTH payloads
	// are redacted.
	DebugLog bool

	// Observer, if set, is told about every completed command.
	Observer mailcore.Observer

	// MaxLineLength bounds a single reply line.
	MaxLineLength int

	// QuitTimeout bounds the best-effort QUIT in Close.
	QuitTimeout time.Duration

	// Now returns the current time, used for the Date header and token
	// expiry checks.
	Now func() time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Logger:        slog.Default(),
		MaxLineLength: 4096,
		QuitTimeout:   5 * time.Second,
		Now:           time.Now,
	}
}

// WithTLSConfig sets the TLS configuration used for STARTTLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithDebugLog enables protocol logging.
func WithDebugLog(enabled bool) Option {
	return func(o *Options) {
		o.DebugLog = enabled
	}
}

// WithObserver sets the command observer.
func WithObserver(obs mailcore.Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithQuitTimeout sets the timeout of the QUIT sent on Close.
func WithQuitTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.QuitTimeout = d
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}
