// Package transport provides the byte transport the protocol clients run on.
//
// A Transport moves opaque chunks of bytes. It knows nothing about lines,
// tags or replies; framing is the job of the wire package.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
)

// Params describes where and how to connect.
type Params struct {
	Host string
	Port int
	// Secure dials with implicit TLS.
	Secure bool
	// StartTLS records that the protocol client will request an upgrade after
	// the greeting. The transport itself does not act on it until UpgradeTLS.
	StartTLS bool
	// Protocol is a hint such as "imap" or "smtp". For TLS connections it is
	// offered as the ALPN protocol.
	Protocol string
}

// Addr returns host:port.
func (p Params) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Transport is a bidirectional byte stream.
//
// At most one Read is served at a time; concurrent Reads are queued and
// satisfied in the order they were issued.
type Transport interface {
	// Connect opens the connection.
	Connect(ctx context.Context, p Params) error
	// Write sends p in full or returns an error.
	Write(ctx context.Context, p []byte) error
	// Read returns the next chunk. It returns io.EOF once the stream ended or
	// the transport was closed.
	Read(ctx context.Context) ([]byte, error)
	// Close closes the connection and resolves every pending Read with io.EOF.
	Close() error
	// IsConnected reports whether the connection is usable.
	IsConnected() bool
}

// Upgrader is implemented by transports that can switch an established
// plain connection to TLS, as needed for STARTTLS.
type Upgrader interface {
	UpgradeTLS(ctx context.Context, config *tls.Config) error
}

var (
	// ErrNotConnected is returned when writing to a transport that is not connected.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrUpgradeBusy is returned when a TLS upgrade is attempted while
	// plaintext is buffered or a read is in flight.
	ErrUpgradeBusy = errors.New("transport: cannot upgrade with unread data or a read in flight")
)
