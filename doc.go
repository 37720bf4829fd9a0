// Package otr4 implements a deniable, forward-secret, post-compromise-
// secure peer-to-peer messaging core, OTRv4-shaped, layered over an
// arbitrary message-oriented transport supplied by the host through
// Callbacks.
//
// A Client owns one local long-term identity; a Conversation tracks one
// peer's DAKE handshake and, once established, its Double Ratchet session.
// The core performs no I/O and no blocking operation itself — every
// externally observable effect (sending bytes, persisting state, asking
// the user a question) happens through a Callbacks value supplied at
// construction.
package otr4
