package mailcore

import "time"

// Observer is notified after every command a client completes, successfully
// or not. Implementations must be safe for concurrent use by several clients.
type Observer interface {
	ObserveCommand(protocol, command string, d time.Duration, err error)
}

// Protocol names passed to Observer.
const (
	ProtocolIMAP = "imap"
	ProtocolSMTP = "smtp"
)
