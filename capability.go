package mailcore

import (
	"strings"
)

// Cap represents an IMAP capability.
type Cap string

// Capabilities the clients look at.
const (
	CapIMAP4rev1   Cap = "IMAP4rev1"
	CapIdle        Cap = "IDLE"
	CapLiteralPlus Cap = "LITERAL+"
	CapUIDPlus     Cap = "UIDPLUS"
	CapStartTLS    Cap = "STARTTLS"
	CapID          Cap = "ID"
	CapSASLIR      Cap = "SASL-IR"
)

// Capabilities is the server's capability announcement, captured once per
// connection.
type Capabilities struct {
	// Auth lists the SASL mechanisms from AUTH= entries, upper-cased.
	Auth        []string
	Idle        bool
	LiteralPlus bool
	UIDPlus     bool
	// Raw is the full capability list as announced.
	Raw []string
}

// ParseCapabilities builds Capabilities from the atoms following
// "CAPABILITY".
func ParseCapabilities(fields []string) Capabilities {
	var caps Capabilities
	for _, f := range fields {
		caps.Raw = append(caps.Raw, f)
		upper := strings.ToUpper(f)
		switch {
		case strings.HasPrefix(upper, "AUTH="):
			caps.Auth = append(caps.Auth, upper[len("AUTH="):])
		case upper == string(CapIdle):
			caps.Idle = true
		case upper == string(CapLiteralPlus):
			caps.LiteralPlus = true
		case upper == string(CapUIDPlus):
			caps.UIDPlus = true
		}
	}
	return caps
}

// Has reports whether the named capability was announced.
func (c Capabilities) Has(name Cap) bool {
	for _, s := range c.Raw {
		if strings.EqualFold(s, string(name)) {
			return true
		}
	}
	return false
}

// HasAuth reports whether the server announced the SASL mechanism.
func (c Capabilities) HasAuth(mech string) bool {
	for _, m := range c.Auth {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Capabilities) Clone() Capabilities {
	out := c
	out.Auth = append([]string(nil), c.Auth...)
	out.Raw = append([]string(nil), c.Raw...)
	return out
}
