// Package ccerr defines the error taxonomy shared across the codec, cache
// store, preprocessor, chunk server and viewer: a closed set of sentinel
// kinds, each fatal to the operation that surfaced it and never retried
// automatically.
package ccerr

import "errors"

// Kind is a machine-readable error category, suitable for logging and for
// surfacing to a UI layer that wants to branch on the failure type without
// string matching.
type Kind string

const (
	FileNotFound      Kind = "file_not_found"
	UnsupportedFormat Kind = "unsupported_format"
	DecodeFailed      Kind = "decode_failed"
	IO                Kind = "io_error"
	NotPreprocessed   Kind = "not_preprocessed"
	FramingError      Kind = "framing_error"
	GPUUploadFailed   Kind = "gpu_upload_failed"
)

// Sentinel errors usable with errors.Is, one per Kind.
var (
	ErrFileNotFound      = errors.New(string(FileNotFound))
	ErrUnsupportedFormat = errors.New(string(UnsupportedFormat))
	ErrDecodeFailed      = errors.New(string(DecodeFailed))
	ErrIO                = errors.New(string(IO))
	ErrNotPreprocessed   = errors.New(string(NotPreprocessed))
	ErrFramingError      = errors.New(string(FramingError))
	ErrGPUUploadFailed   = errors.New(string(GPUUploadFailed))
)

// Error is the opaque-message-plus-kind error returned across every
// component boundary named in the request surface.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindSentinel maps a Kind to its sentinel so errors.Is(wrapped, sentinel)
// works regardless of which Kind constructor built the error.
func kindSentinel(kind Kind) error {
	switch kind {
	case FileNotFound:
		return ErrFileNotFound
	case UnsupportedFormat:
		return ErrUnsupportedFormat
	case DecodeFailed:
		return ErrDecodeFailed
	case IO:
		return ErrIO
	case NotPreprocessed:
		return ErrNotPreprocessed
	case FramingError:
		return ErrFramingError
	case GPUUploadFailed:
		return ErrGPUUploadFailed
	default:
		return nil
	}
}

// New wraps err under the given Kind. The result satisfies
// errors.Is(result, sentinelForKind) in addition to unwrapping to err.
func New(kind Kind, err error) *Error {
	sentinel := kindSentinel(kind)
	if err == nil {
		return &Error{Kind: kind, Err: sentinel}
	}
	return &Error{Kind: kind, Err: &joined{sentinel: sentinel, err: err}}
}

// joined lets Error.Unwrap surface both the kind's sentinel (for errors.Is)
// and the underlying cause (for %w formatting / inspection), without
// depending on errors.Join's text rendering.
type joined struct {
	sentinel error
	err      error
}

func (j *joined) Error() string {
	return j.err.Error()
}

func (j *joined) Unwrap() []error {
	return []error{j.sentinel, j.err}
}
