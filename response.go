package mailcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatusResponseType represents the type of a status response.
type StatusResponseType string

const (
	StatusResponseTypeOK      StatusResponseType = "OK"
	StatusResponseTypeNO      StatusResponseType = "NO"
	StatusResponseTypeBAD     StatusResponseType = "BAD"
	StatusResponseTypeBYE     StatusResponseType = "BYE"
	StatusResponseTypePREAUTH StatusResponseType = "PREAUTH"
)

// ResponseCode represents a response code in brackets.
type ResponseCode string

// Response codes the clients act on.
const (
	ResponseCodeAlert                ResponseCode = "ALERT"
	ResponseCodeCapability           ResponseCode = "CAPABILITY"
	ResponseCodeReadOnly             ResponseCode = "READ-ONLY"
	ResponseCodeReadWrite            ResponseCode = "READ-WRITE"
	ResponseCodeUIDNext              ResponseCode = "UIDNEXT"
	ResponseCodeUIDValidity          ResponseCode = "UIDVALIDITY"
	ResponseCodeUnseen               ResponseCode = "UNSEEN"
	ResponseCodeAppendUID            ResponseCode = "APPENDUID"
	ResponseCodeAuthenticationFailed ResponseCode = "AUTHENTICATIONFAILED"
	ResponseCodeAuthorizationFailed  ResponseCode = "AUTHORIZATIONFAILED"
	ResponseCodeExpired              ResponseCode = "EXPIRED"
)

// StatusResponse represents an IMAP status response.
type StatusResponse struct {
	// Type is the response type (OK, NO, BAD, BYE, PREAUTH).
	Type StatusResponseType
	// Code is the optional response code name.
	Code ResponseCode
	// CodeArg is the raw argument of the response code.
	CodeArg string
	// Text is the human-readable text.
	Text string
}

// Error returns the status response as an error string.
func (r *StatusResponse) Error() string {
	var b strings.Builder
	b.WriteString(string(r.Type))
	if r.Code != "" {
		b.WriteString(" [")
		b.WriteString(string(r.Code))
		if r.CodeArg != "" {
			b.WriteString(" ")
			b.WriteString(r.CodeArg)
		}
		b.WriteString("]")
	}
	if r.Text != "" {
		b.WriteString(" ")
		b.WriteString(r.Text)
	}
	return b.String()
}

// CommandError is returned when a command completed without an affirmative
// status: the server said no.
type CommandError struct {
	// Command is the command name, e.g. "UID SEARCH".
	Command string
	*StatusResponse
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.StatusResponse.Error())
}

// TimeoutError is returned when the server sent nothing within the command
// timeout: the server said nothing.
type TimeoutError struct {
	Op string
	// Limit is the command timeout that elapsed.
	Limit time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Op, e.Limit)
}

// Timeout reports true, matching net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Unwrap returns context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ProtocolError reports a malformed or unexpected server response during a
// connection stage (greeting, capability negotiation, TLS upgrade). It is
// fatal for the connection.
type ProtocolError struct {
	Stage string
	Line  string
	Err   error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := e.Stage + ": unexpected response"
	if e.Line != "" {
		msg += " " + fmt.Sprintf("%q", e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthError wraps the failure of an authentication exchange. Err is the
// server reply when the server rejected the exchange, otherwise the local
// failure that prevented it.
type AuthError struct {
	Mechanism string
	Err       error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Mechanism, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error { return e.Err }

var (
	// ErrNoMailboxSelected is returned by operations that need a selected mailbox.
	ErrNoMailboxSelected = errors.New("mailcore: no mailbox selected")
	// ErrNotAuthenticated is returned by operations that need an
	// authenticated session.
	ErrNotAuthenticated = errors.New("mailcore: not authenticated")
	// ErrClosed is returned when the connection ended or the client was closed.
	ErrClosed = errors.New("mailcore: connection closed")
	// ErrNotSupported is returned when the server lacks a required capability.
	ErrNotSupported = errors.New("mailcore: not supported by server")
)

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
