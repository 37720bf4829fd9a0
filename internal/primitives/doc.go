// Package primitives abstracts the curve/DH group, symmetric AEAD, and key
// derivation function the protocol core builds on, the same way
// ericlagergren/dr abstracts its Ratchet primitive behind swappable djb/nist
// backends. Nothing above this package imports a concrete curve or cipher
// package: ratchet, rsig, and smp all operate on the opaque Scalar/Element
// values a Group produces.
//
// The default production backend (ristrettobackend) stands in for the
// Ed448/DH-3072 pair a real OTRv4 deployment would use; a second backend
// (modpbackend) supplies the classical finite-field Diffie-Hellman
// contribution the wire format's sender_DH field assumes.
package primitives
