package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

// Option is a functional option for configuring a Conn.
type Option func(*Options)

// Options holds all Conn configuration.
type Options struct {
	// TLSConfig is cloned for implicit TLS and STARTTLS. ServerName defaults
	// to the dialed host.
	TLSConfig *tls.Config

	// DialTimeout bounds the TCP and TLS handshake when the context has no
	// earlier deadline.
	DialTimeout time.Duration

	// ChunkSize is the size of a single socket read.
	ChunkSize int

	// Logger is the structured logger.
	Logger *slog.Logger

	// Dial opens the underlying connection; nil means a net.Dialer.
	Dial DialFunc
}

// DialFunc opens a stream connection, like net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		DialTimeout: 30 * time.Second,
		ChunkSize:   32 * 1024,
		Logger:      slog.Default(),
	}
}

// WithTLSConfig sets the TLS configuration.
func WithTLSConfig(config *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = config
	}
}

// WithDialTimeout sets the dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DialTimeout = d
	}
}

// WithChunkSize sets the socket read size.
func WithChunkSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ChunkSize = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithDialer replaces the network dialer, for proxies and tests.
func WithDialer(dial DialFunc) Option {
	return func(o *Options) {
		o.Dial = dial
	}
}
