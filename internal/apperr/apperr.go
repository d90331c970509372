// Package apperr defines the failure kinds shared by every redaction stage.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can pick a response code without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	// MissingInput: a required file or field was not supplied.
	MissingInput
	// SourceUnavailable: remote fetch failed, local file missing or source kind invalid.
	SourceUnavailable
	// DecodeFailure: an image, video or document could not be read.
	DecodeFailure
	// ModelFailure: a detector, embedder or NER collaborator failed.
	ModelFailure
	// EncodeFailure: writing an output image, video, archive or document failed.
	EncodeFailure
)

func (k Kind) String() string {
	switch k {
	case MissingInput:
		return "MISSING_INPUT"
	case SourceUnavailable:
		return "SOURCE_UNAVAILABLE"
	case DecodeFailure:
		return "DECODE_FAILURE"
	case ModelFailure:
		return "MODEL_FAILURE"
	case EncodeFailure:
		return "ENCODE_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Remote marks SourceUnavailable errors caused by a remote fetch (502 rather than 400).
	Remote bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err produces an error whose message is op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an error of the given kind from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Remote wraps err as a SourceUnavailable failure caused by a remote fetch.
func Remote(op string, err error) *Error {
	return &Error{Kind: SourceUnavailable, Op: op, Err: err, Remote: true}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRemote reports whether err carries a remote SourceUnavailable failure.
func IsRemote(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Remote
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
