// Package neterr defines the error taxonomy shared across the networking
// core: a small closed set of kinds, each carrying an optional wrapped
// cause, rather than one bespoke error type per failure site.
package neterr

import (
	"errors"
	"fmt"
)

// Kind classifies a networking error. See spec §7 for the full taxonomy.
type Kind int

const (
	_ Kind = iota
	// ConfigInvalid marks a fatal construction-time configuration error.
	ConfigInvalid
	// TransportError marks a listen/dial failure at the peer level.
	TransportError
	// ProtocolViolation marks a session-terminating wire protocol breach.
	ProtocolViolation
	// Timeout marks a session or idle timeout.
	Timeout
	// PeerDisconnected marks a session killed by its peer going away.
	PeerDisconnected
	// NoPeer marks a failed peer assignment; transient, caller may retry.
	NoPeer
	// StorageError marks a server-side storage read failure.
	StorageError
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "ConfigInvalid"
	case TransportError:
		return "TransportError"
	case ProtocolViolation:
		return "ProtocolViolation"
	case Timeout:
		return "Timeout"
	case PeerDisconnected:
		return "PeerDisconnected"
	case NoPeer:
		return "NoPeer"
	case StorageError:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// Error is the single error type the networking core returns. It pairs a
// Kind with an optional underlying cause and a human-readable note.
type Error struct {
	Kind Kind
	Note string
	Err  error
}

func New(kind Kind, note string) *Error {
	return &Error{Kind: kind, Note: note}
}

func Wrap(kind Kind, note string, cause error) *Error {
	return &Error{Kind: kind, Note: note, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Note == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Note, e.Err)
	}
	if e.Note == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Note)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
