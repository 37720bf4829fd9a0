// Package fingerprint tracks per-peer long-term-key trust independent of
// any one Conversation's lifetime: the first time a key is seen, whether
// it has since been verified (via SMP or an out-of-band manual check),
// and revocation.
package fingerprint
