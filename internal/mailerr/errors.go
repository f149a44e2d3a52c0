// Package mailerr defines the error taxonomy shared by the mail pipeline.
// Every failure that can cross the HTTP boundary is an *Error with a Kind,
// so handlers can map it to a stable status and code.
package mailerr

import (
	"errors"
	"fmt"
)

// Kind classifies a mail pipeline failure.
type Kind string

const (
	KindCredentialsNotFound  Kind = "credentials_not_found"
	KindConnectionFailed     Kind = "connection_failed"
	KindAuthFailed           Kind = "auth_failed"
	KindTimeout              Kind = "timeout"
	KindMailboxNotFound      Kind = "mailbox_not_found"
	KindFetchStream          Kind = "fetch_stream"
	KindInvalidRecipient     Kind = "invalid_recipient"
	KindConfigurationInvalid Kind = "configuration_invalid"
	KindSendFailed           Kind = "send_failed"
)

// Phase tags a timeout with the stage of the session lifecycle it hit.
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseFetch   Phase = "fetch"
)

// Error is a classified mail pipeline error.
type Error struct {
	Kind  Kind
	Phase Phase
	// Message is safe to show to the user.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Phase != "" {
		msg += " (" + string(e.Phase) + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind. A target without a phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Sentinels for errors.Is checks.
var (
	ErrCredentialsNotFound  = &Error{Kind: KindCredentialsNotFound}
	ErrConnectionFailed     = &Error{Kind: KindConnectionFailed}
	ErrAuthFailed           = &Error{Kind: KindAuthFailed}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrConnectTimeout       = &Error{Kind: KindTimeout, Phase: PhaseConnect}
	ErrFetchTimeout         = &Error{Kind: KindTimeout, Phase: PhaseFetch}
	ErrMailboxNotFound      = &Error{Kind: KindMailboxNotFound}
	ErrFetchStream          = &Error{Kind: KindFetchStream}
	ErrInvalidRecipient     = &Error{Kind: KindInvalidRecipient}
	ErrConfigurationInvalid = &Error{Kind: KindConfigurationInvalid}
	ErrSendFailed           = &Error{Kind: KindSendFailed}
)

// New returns a classified error wrapping err.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf returns a classified error with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Timeout returns a timeout error for the given phase.
func Timeout(phase Phase, err error) *Error {
	return &Error{Kind: KindTimeout, Phase: phase, Message: "operation timed out", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PhaseOf returns the phase of the first *Error in err's chain, or "" if none.
func PhaseOf(err error) Phase {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase
	}
	return ""
}

// UserMessage returns the human-readable part of err suitable for API responses.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return ""
}
