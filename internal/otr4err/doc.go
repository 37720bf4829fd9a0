// Package otr4err defines the error taxonomy shared across the protocol
// core. Every fallible operation in otr4, ratchet, rsig, fragment, smp,
// and profile returns (or wraps) an *Error with one of the Kind values
// below, so callers can branch with errors.Is/errors.As instead of
// string-matching messages.
package otr4err
