// Package smp implements the Socialist Millionaires' Protocol: a
// four-message zero-knowledge equality test that lets two parties learn
// only whether their secrets match, carried inside TLV records over an
// already-encrypted Conversation.
//
// The state machine shape (EXPECT1..EXPECT4, terminal SUCCEEDED/FAILED/
// ABORTED, message-driven transitions) follows the otr3-style smpState
// interface surfaced in the retrieval pack; the zero-knowledge exchange
// itself runs entirely over the primitives.Group facade.
package smp
