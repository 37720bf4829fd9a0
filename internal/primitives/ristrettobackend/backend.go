package ristrettobackend

import "otr4/internal/primitives"

// Backend returns the default production primitives.Backend: ristretto255
// for Group, XChaCha20-Poly1305 for AEAD, HKDF-SHA3-256 for KDF.
func Backend() primitives.Backend {
	return primitives.Backend{
		Group: New(),
		AEAD:  NewAEAD(),
		KDF:   NewKDF(),
	}
}
