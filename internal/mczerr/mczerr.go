// Package mczerr defines the typed error kinds the compression substrate
// distinguishes, per the error-handling design: hot paths never panic or
// terminate the process, they return one of these wrapped in a status.
package mczerr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error category used by callers to decide how to react
// (bump a counter, fall back to uncompressed storage, drop the item).
type Kind int

const (
	// Invalid marks bad arguments or an unknown namespace in a lookup.
	Invalid Kind = iota
	// NotFound marks a namespace with no stats, or an id absent from the
	// current routing table.
	NotFound
	// Unsupported marks an operation the core deliberately refuses.
	// MaybeDecompress does not use it for a chunked item: it returns such
	// an item's bytes unchanged with StatusNoOp.
	Unsupported
	// Io marks a manifest or blob read/write failure.
	Io
	// CodecError wraps an error from the compression codec, preserving
	// its textual name.
	CodecError
	// OutOfMemory marks an allocation failure.
	OutOfMemory
	// Corrupt marks an unreadable frame header.
	Corrupt
	// Overflow marks a decompressed size exceeding the caller's buffer.
	Overflow
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case NotFound:
		return "not_found"
	case Unsupported:
		return "unsupported"
	case Io:
		return "io"
	case CodecError:
		return "codec_error"
	case OutOfMemory:
		return "out_of_memory"
	case Corrupt:
		return "corrupt"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Error is the sum-type error value returned from every fallible entry
// point named in the spec.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mcz: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("mcz: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, mczerr.New(SomeKind, "", nil)), matching on
// Kind alone; KindOf below compares a Kind directly
// (KindOf(err) == mczerr.Corrupt).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New builds a typed error for op, wrapping err (which may be nil).
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or Invalid if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Invalid
}
