// Package fragment implements OTRv4 message fragmentation: splitting an
// outbound payload across bounded-size transport frames and reassembling
// inbound frames, including out-of-order arrival and context expiry.
//
// The teacher repository has no fragmentation layer of its own (its relay
// transports whole envelopes), so this package is new code written in its
// idiom; frame-grammar edge cases follow original_source/src/fragment.c.
package fragment
