package otr4err

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for programmatic handling.
type Kind int

const (
	// ProtocolViolation marks malformed or out-of-sequence framing.
	ProtocolViolation Kind = iota
	// AuthenticationFailed marks a MAC or ring-signature verification failure.
	AuthenticationFailed
	// NotEncrypted marks an operation that requires ENCRYPTED_MESSAGES.
	NotEncrypted
	// PolicyViolation marks a policy-forbidden action (e.g. require-encryption plaintext).
	PolicyViolation
	// InvalidParameter marks a caller bug: a bad argument to a public operation.
	InvalidParameter
	// OutOfResource marks an allocation or capacity failure.
	OutOfResource
	// Expired marks a profile or session past its expiry.
	Expired
	// Replay marks an already-seen counter or fragment identifier.
	Replay
	// Internal marks an invariant violation inside the core itself.
	Internal
)

func (k Kind) String() string {
	switch k {
	case ProtocolViolation:
		return "protocol_violation"
	case AuthenticationFailed:
		return "authentication_failed"
	case NotEncrypted:
		return "not_encrypted"
	case PolicyViolation:
		return "policy_violation"
	case InvalidParameter:
		return "invalid_parameter"
	case OutOfResource:
		return "out_of_resource"
	case Expired:
		return "expired"
	case Replay:
		return "replay"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// sentinels let callers do errors.Is(err, otr4err.ErrNotEncrypted) without
// reaching into the Error struct.
var (
	ErrProtocolViolation   = &Error{Kind: ProtocolViolation, Op: "", Msg: "protocol violation"}
	ErrAuthenticationFailed = &Error{Kind: AuthenticationFailed, Op: "", Msg: "authentication failed"}
	ErrNotEncrypted        = &Error{Kind: NotEncrypted, Op: "", Msg: "conversation is not encrypted"}
	ErrPolicyViolation     = &Error{Kind: PolicyViolation, Op: "", Msg: "policy violation"}
	ErrInvalidParameter    = &Error{Kind: InvalidParameter, Op: "", Msg: "invalid parameter"}
	ErrOutOfResource       = &Error{Kind: OutOfResource, Op: "", Msg: "out of resource"}
	ErrExpired             = &Error{Kind: Expired, Op: "", Msg: "expired"}
	ErrReplay              = &Error{Kind: Replay, Op: "", Msg: "replay detected"}
	ErrInternal            = &Error{Kind: Internal, Op: "", Msg: "internal invariant violation"}
)

func sentinelFor(k Kind) *Error {
	switch k {
	case ProtocolViolation:
		return ErrProtocolViolation
	case AuthenticationFailed:
		return ErrAuthenticationFailed
	case NotEncrypted:
		return ErrNotEncrypted
	case PolicyViolation:
		return ErrPolicyViolation
	case InvalidParameter:
		return ErrInvalidParameter
	case OutOfResource:
		return ErrOutOfResource
	case Expired:
		return ErrExpired
	case Replay:
		return ErrReplay
	default:
		return ErrInternal
	}
}

// Error is the single error type returned by this module's packages.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "ratchet.Decrypt"
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, otr4err.ErrNotEncrypted) match any *Error of the
// same Kind, regardless of Op/Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind, rooted at op, describing msg.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error of the given kind, rooted at op, wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: "failed", Err: err}
}

// Wrapf builds an *Error of the given kind, rooted at op, with a formatted
// message, wrapping err.
func Wrapf(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	return errors.Is(err, sentinelFor(k))
}
