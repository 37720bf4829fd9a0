// Package rsig implements the three-public-key deniable ring signature
// used throughout the DAKE: Authenticate produces a signature that proves
// the signer holds the private key for exactly one of three declared
// public keys, without revealing which, and Verify checks one.
//
// Both operate against the primitives.Group facade, so the algorithm
// itself never imports a concrete curve package — composing
// ScalarBaseMult/ScalarMult/AddElements the way avahowell-occlude builds
// its OPAQUE key exchange directly out of bare ristretto255 group
// operations.
package rsig
