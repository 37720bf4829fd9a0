package otr4

import "otr4/internal/wire"

// phi builds the authenticated context folded into every DAKE transcript:
// both parties' instance tags in a canonical (sorted) order plus the
// application-supplied shared session state and the initial query message,
// so two honest peers always compute identical bytes regardless of which
// one is "sender" for transport purposes.
func phi(ourInstanceTag, theirInstanceTag uint32, sharedSessionState, initialQueryMessage string) []byte {
	lo, hi := ourInstanceTag, theirInstanceTag
	if lo > hi {
		lo, hi = hi, lo
	}
	w := wire.NewWriter()
	w.WriteUint32(lo)
	w.WriteUint32(hi)
	w.WriteData([]byte(sharedSessionState))
	w.WriteData([]byte(initialQueryMessage))
	return w.Bytes()
}
