// Package apierr classifies the failures the core can encounter talking to an
// upstream server, so callers can log consistently and decide whether a
// failure is survivable for the current cycle or fatal to the process.
package apierr

import "fmt"

// Kind is the error taxonomy described for the core: transient I/O failures
// are survivable (skip this operation, try again next schedule); Config and
// Fatal are not transient, but only Fatal halts the process.
type Kind int

const (
	// Transport covers network-unreachable and timeout failures.
	Transport Kind = iota
	// Protocol covers an HTTP status >= 400 returned by an upstream server.
	Protocol
	// Decode covers a response body that failed to parse as JSON/XML.
	Decode
	// Semantic covers a well-formed response missing an element the caller
	// needed (e.g. a playlist entry with no entry-id).
	Semantic
	// Config covers a bad cron expression, a reference to an unknown server,
	// or an empty target set.
	Config
	// Fatal covers an unreadable or schema-invalid configuration file.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Decode:
		return "decode"
	case Semantic:
		return "semantic"
	case Config:
		return "config"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind and the operation that
// produced it, so a log line can report (operation, kind, error) uniformly.
type Error struct {
	Kind      Kind
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error for the given kind/operation/cause.
func New(kind Kind, operation string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to Transport for anything else — the conservative
// assumption for an unclassified I/O failure.
func KindOf(err error) Kind {
	var apiErr *Error
	if asError(err, &apiErr) {
		return apiErr.Kind
	}
	return Transport
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryableThisCycle reports whether the failure's taxonomy means "skip
// this operation, try again next schedule" (Transport/Protocol/Decode/
// Semantic) as opposed to Config/Fatal, which need operator attention.
func IsRetryableThisCycle(err error) bool {
	switch KindOf(err) {
	case Transport, Protocol, Decode, Semantic:
		return true
	default:
		return false
	}
}
