package client

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/meszmate/mailcore"
)

// Option is a functional option for configuring the client.
type Option func(*Options)

// Options holds all client configuration beyond mailcore.Config.
type Options struct {
	// TLSConfig is used for the STARTTLS upgrade.
	TLSConfig *tls.Config

	// Logger is the structured logger.
	Logger *slog.Logger

	// DebugLog enables wire-level protocol logging at Debug level.
	// Credentials are redacted.
	DebugLog bool

	// Observer, if set, is told about every completed command.
	Observer mailcore.Observer

	// LiteralLimit is how many bytes of each response literal are retained.
	// Larger literals are still consumed in full.
	LiteralLimit int64

	// MaxLineLength bounds a single response line.
	MaxLineLength int

	// LogoutTimeout bounds the best-effort LOGOUT in Close.
	LogoutTimeout time.Duration

	// UnilateralDataHandler is told about EXISTS and EXPUNGE responses
	// that arrive during ordinary commands.
	UnilateralDataHandler *UnilateralDataHandler

	// Now returns the current time; used for token expiry checks.
	Now func() time.Time
}

// UnilateralDataHandler handles unsolicited server data.
type UnilateralDataHandler struct {
	Expunge func(seqNum uint32)
	Exists  func(count uint32)
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Logger:        slog.Default(),
		LiteralLimit:  64 * 1024,
		MaxLineLength: 1 << 20,
		LogoutTimeout: 5 * time.Second,
		Now:           time.Now,
	}
}

// WithTLSConfig sets the TLS configuration for STARTTLS.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = config
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithDebugLog enables wire-level protocol logging.
func WithDebugLog(enable bool) Option {
	return func(o *Options) {
		o.DebugLog = enable
	}
}

// WithObserver sets the command observer.
func WithObserver(obs mailcore.Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithLiteralLimit sets how many bytes of each literal are kept.
func WithLiteralLimit(n int64) Option {
	return func(o *Options) {
		o.LiteralLimit = n
	}
}

// WithMaxLineLength bounds response line length.
func WithMaxLineLength(n int) Option {
	return func(o *Options) {
		o.MaxLineLength = n
	}
}

// WithLogoutTimeout sets the LOGOUT timeout used by Close.
func WithLogoutTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.LogoutTimeout = d
	}
}

// WithUnilateralDataHandler sets the handler for unsolicited data.
func WithUnilateralDataHandler(h *UnilateralDataHandler) Option {
	return func(o *Options) {
		o.UnilateralDataHandler = h
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}
