// Package fault defines the closed set of failure kinds reported by the
// browser controller and a structured error carrying one of them.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of failure.
type Kind string

const (
	TransportUnavailable    Kind = "TransportUnavailable"
	ProtocolVersionMismatch Kind = "ProtocolVersionMismatch"
	CommandTimeout          Kind = "CommandTimeout"
	CommandRejected         Kind = "CommandRejected"
	LaunchTimeout           Kind = "LaunchTimeout"
	NavigationFailed        Kind = "NavigationFailed"
	ElementNotFound         Kind = "ElementNotFound"
	ElementNotInteractable  Kind = "ElementNotInteractable"
	ScriptError             Kind = "ScriptError"
	UnknownCommand          Kind = "UnknownCommand"
	InvalidArgument         Kind = "InvalidArgument"
	Interrupted             Kind = "Interrupted"
	SessionDead             Kind = "SessionDead"

	// Internal marks errors that were never classified.
	Internal Kind = "Internal"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{
	TransportUnavailable,
	ProtocolVersionMismatch,
	CommandTimeout,
	CommandRejected,
	LaunchTimeout,
	NavigationFailed,
	ElementNotFound,
	ElementNotInteractable,
	ScriptError,
	UnknownCommand,
	InvalidArgument,
	Interrupted,
	SessionDead,
	Internal,
}

// Error is a failure of a known kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind. It returns nil if err is nil.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error renders "Kind: message: underlying". The underlying text is kept
// verbatim so native diagnostics reach the user unchanged.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the error text without the kind prefix.
func (e *Error) Detail() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

// KindOf reports the kind of the outermost *Error in err's chain, or
// Internal if there is none. It returns "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Detail returns err's message without a kind prefix.
func Detail(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Detail()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
