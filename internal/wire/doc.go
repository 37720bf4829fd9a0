// Package wire implements the byte-level encodings the protocol core's
// messages are built from: big-endian length-prefixed OTR-MPI integers,
// TLV records, length-prefixed DATA byte strings, and the base64
// "?OTR:...." envelope wrapping. None of it is protocol-message-aware; it
// only knows how to read and write these primitive shapes.
package wire
