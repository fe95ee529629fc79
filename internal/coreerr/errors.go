// Package coreerr defines the error-kind taxonomy the core uses to decide
// how a failure propagates (see spec §7: Error Handling Design).
package coreerr

import "errors"

// Kind classifies an error so session/pool/cache code can decide on
// retry, surface-to-client, or backpressure behavior without string
// matching.
type Kind int

const (
	// KindUnknown is the zero value; never returned by core constructors.
	KindUnknown Kind = iota
	// KindInputMalformed: the protocol codec could not parse client bytes.
	KindInputMalformed
	// KindBackendTransient: a recoverable backend failure (network hiccup,
	// auth rejection, server restart).
	KindBackendTransient
	// KindBackendPermanent: an unrecoverable backend failure (protocol
	// violation, unauthorized, missing schema).
	KindBackendPermanent
	// KindResourceExhausted: connection cap, cache budget, or memory
	// pressure; callers apply backpressure rather than fail the process.
	KindResourceExhausted
	// KindPolicy: the router declined to produce a target set.
	KindPolicy
	// KindFatal: an invariant was broken; the process should abort. The
	// core never triggers this itself — it is surfaced for the caller to
	// decide.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInputMalformed:
		return "input_malformed"
	case KindBackendTransient:
		return "backend_transient"
	case KindBackendPermanent:
		return "backend_permanent"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindPolicy:
		return "policy"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with context, per spec §7 ("return a sum type
// {value, error-kind + context}").
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Context + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Context
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Context: context, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err isn't (or
// doesn't wrap) a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Sentinel errors for conditions that don't need per-call context.
var (
	// ErrResourceBusy is returned when a connection cap is reached and the
	// waiter queue is also full (spec §8, boundary behaviors).
	ErrResourceBusy = errors.New("resource busy")
	// ErrNotMovable is returned when a migration is requested for a
	// session that isn't movable.
	ErrNotMovable = errors.New("session not movable")
	// ErrNoTarget is returned by a router that cannot name any target.
	ErrNoTarget = errors.New("no target available")
	// ErrCacheDisabled names the zero-budget cache condition. Cache.Lookup
	// and Cache.Insert do not return it: a disabled cache reports a miss
	// and drops inserts.
	ErrCacheDisabled = errors.New("cache disabled")
)
