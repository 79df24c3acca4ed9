// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import "fmt"

// ErrorKind is a closed enumeration of user-visible error kinds (spec §7).
type ErrorKind int

const (
	// KindOK indicates success. Used internally; callers see a nil error
	// rather than an [*Error] with this kind.
	KindOK ErrorKind = iota

	// KindWouldBlock is a normal control signal, not an error: the
	// operation did not complete and the caller remains registered for
	// readiness.
	KindWouldBlock

	// KindBadArgument indicates invalid caller input (e.g. a Config with no
	// Reactor or AddressMonitor, a duplicate event callback registration).
	KindBadArgument

	// KindUnable indicates the request cannot be satisfied (e.g. a
	// REQUIRED/BANNED conflict, or a security property with no security
	// stage wired in).
	KindUnable

	// KindIO indicates an I/O failure on a socket.
	KindIO

	// KindMessageTooBig indicates a send exceeded the atomicity limit for
	// a datagram/message protocol, or a received message exceeded the
	// caller's read buffer capacity.
	KindMessageTooBig

	// KindInternal indicates an invariant violation or allocation failure
	// inside the core.
	KindInternal

	// KindResolverTimeout indicates DNS resolution ended with zero answers:
	// either its deadline passed, or every query pair failed or answered
	// without an address before then.
	KindResolverTimeout

	// KindResolverPolicy indicates DNS resolution failed due to a policy
	// violation (e.g. no upstream servers available for the requested
	// family).
	KindResolverPolicy
)

// String returns the canonical name of the [ErrorKind].
func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindWouldBlock:
		return "WOULD_BLOCK"
	case KindBadArgument:
		return "BAD_ARGUMENT"
	case KindUnable:
		return "UNABLE"
	case KindIO:
		return "IO"
	case KindMessageTooBig:
		return "MESSAGE_TOO_BIG"
	case KindInternal:
		return "INTERNAL"
	case KindResolverTimeout:
		return "RESOLVER_TIMEOUT"
	case KindResolverPolicy:
		return "RESOLVER_POLICY"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an [ErrorKind] with an optional underlying cause.
//
// Inside a single callback path, errors surface as the return value; the
// Reactor never sees them. Errors during asynchronous I/O are reported via
// the flow's on_error callback instead; see [Flow.SetCallbacks].
type Error struct {
	Kind  ErrorKind
	Cause error
}

// newError builds an [*Error] for the given kind, wrapping cause (which may
// be nil).
func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause, enabling [errors.Is]/[errors.As].
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an [*Error] with the same [ErrorKind],
// enabling errors.Is(err, neat.ErrWouldBlock) style checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel errors for use with [errors.Is]. Each carries no cause; compare
// only by [ErrorKind] via [*Error.Is].
var (
	ErrWouldBlock      = newError(KindWouldBlock, nil)
	ErrBadArgument     = newError(KindBadArgument, nil)
	ErrUnable          = newError(KindUnable, nil)
	ErrIO              = newError(KindIO, nil)
	ErrMessageTooBig   = newError(KindMessageTooBig, nil)
	ErrInternal        = newError(KindInternal, nil)
	ErrResolverTimeout = newError(KindResolverTimeout, nil)
	ErrResolverPolicy  = newError(KindResolverPolicy, nil)
)
