package ratchet

import "runtime"

// wipe zeroes b in place. Best-effort against compiler elision, mirroring
// the teacher's internal/crypto.Wipe.
//
//go:noinline
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
