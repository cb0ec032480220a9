// Package mailcore holds the types shared by the IMAP and SMTP clients.
//
// The protocol engines live in the client (IMAP) and smtp packages. Both are
// driven over a transport.Transport and configured with a Config.
package mailcore

import (
	"fmt"
	"strings"
	"time"
)

// ConnState represents the state of an IMAP client connection.
type ConnState int

const (
	// ConnStateDisconnected is the state before Connect.
	ConnStateDisconnected ConnState = iota
	// ConnStateConnected is the state after an affirmative greeting.
	ConnStateConnected
	// ConnStateCapabilityKnown is the state after CAPABILITY completed.
	ConnStateCapabilityKnown
	// ConnStateAuthenticated is the state after successful authentication.
	ConnStateAuthenticated
	// ConnStateSelected is the state after a mailbox has been selected.
	ConnStateSelected
	// ConnStateIdling is the transient state while IDLE is running.
	ConnStateIdling
	// ConnStateClosed is the terminal state after Close.
	ConnStateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateConnected:
		return "connected"
	case ConnStateCapabilityKnown:
		return "capability known"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateIdling:
		return "idling"
	case ConnStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Flag represents an IMAP message flag.
type Flag string

// Standard message flags defined in RFC 9051.
const (
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
)

// StoreMode specifies how flags are modified by a UID STORE.
type StoreMode int

const (
	// StoreReplace replaces existing flags.
	StoreReplace StoreMode = iota
	// StoreAdd adds to existing flags.
	StoreAdd
	// StoreRemove removes from existing flags.
	StoreRemove
)

// String returns the IMAP data item name for the mode.
func (m StoreMode) String() string {
	switch m {
	case StoreAdd:
		return "+FLAGS"
	case StoreRemove:
		return "-FLAGS"
	default:
		return "FLAGS"
	}
}

// MailboxStatus is the selection state recorded by the last successful SELECT.
type MailboxStatus struct {
	// Name is the selected mailbox, as given by the caller (not UTF-7 encoded).
	Name string
	// Exists is the message count reported by the EXISTS response.
	Exists uint32
	// FirstUnseen is the sequence number from the UNSEEN response code, 0 if absent.
	FirstUnseen uint32
	// UIDValidity and UIDNext are recorded when the server sends them.
	UIDValidity uint32
	UIDNext     uint32
	// ReadOnly is set when the server answered with [READ-ONLY].
	ReadOnly bool
}

// MailboxInfo describes one mailbox returned by LIST.
type MailboxInfo struct {
	// Name is the decoded (Unicode) mailbox name.
	Name string
	// Path is Name with the hierarchy delimiter replaced by "/".
	Path       string
	Delimiter  string
	Attributes []string
}

// Address is a parsed mailbox address.
type Address struct {
	Name  string
	Email string
}

// String returns the address in "Name <email>" format.
func (a Address) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}

// Envelope is the summary of one message returned by FetchEnvelopes.
type Envelope struct {
	UID   UID
	Flags []Flag
	// Size is RFC822.SIZE, zero when the server did not report it.
	Size      int64
	Date      time.Time
	Subject   string
	From      []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	InReplyTo string
	MessageID string
	// Preview is at most the requested number of bytes of body text.
	Preview        string
	HasAttachments bool
}

// HasFlag reports whether the envelope carries the given flag.
func (e *Envelope) HasFlag(f Flag) bool {
	for _, have := range e.Flags {
		if strings.EqualFold(string(have), string(f)) {
			return true
		}
	}
	return false
}

// FetchBodySpec selects a message body or MIME part.
type FetchBodySpec struct {
	UID UID
	// Part is a MIME part path such as "1.2"; empty means the whole message.
	Part string
	// MaxBytes caps the fetched size with a server-side partial range.
	// Zero fetches everything.
	MaxBytes int64
}

// BodyResult is the outcome of FetchBody.
type BodyResult struct {
	UID       UID
	Part      string
	Bytes     []byte
	Truncated bool
	// ContentType and Filename are best-effort and may be empty.
	ContentType string
	Filename    string
}

// InternalDateLayout is the format used for IMAP internal dates.
const InternalDateLayout = "02-Jan-2006 15:04:05 -0700"

// AppendOptions specifies options for the APPEND command.
type AppendOptions struct {
	// Flags is the list of flags to set on the message.
	Flags []Flag
	// InternalDate is the internal date to set on the message.
	InternalDate time.Time
}

// AppendResult is the result of an APPEND command. Both fields are zero
// unless the server supports UIDPLUS.
type AppendResult struct {
	UIDValidity uint32
	UID         UID
}

// IdleEventKind distinguishes IDLE notifications.
type IdleEventKind int

const (
	// IdleExists reports a new message count.
	IdleExists IdleEventKind = iota
	// IdleExpunge reports the sequence number of an expunged message.
	IdleExpunge
)

// String returns the IMAP response name of the event kind.
func (k IdleEventKind) String() string {
	switch k {
	case IdleExists:
		return "EXISTS"
	case IdleExpunge:
		return "EXPUNGE"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// IdleEvent is one untagged notification received while idling.
type IdleEvent struct {
	Kind IdleEventKind
	Num  uint32
}
