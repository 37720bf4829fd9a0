// Package ratchet implements the Double-Ratchet key-management engine:
// root/chain/header derivation, the DH ratchet step, skipped-message-key
// storage with bounded FIFO eviction, and revealed-MAC-key bookkeeping.
//
// The algorithm is generalized from the teacher's fixed-X25519/ChaCha20
// ratchet to operate entirely through the primitives.Group/AEAD/KDF
// facade plus the modpbackend classical DH group, the same way
// ericlagergren/dr separates its Ratchet algorithm from its djb/nist
// primitive backends.
package ratchet
