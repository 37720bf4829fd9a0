package ristrettobackend

import (
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"otr4/internal/primitives"
)

type kdf struct{}

// NewKDF returns an HKDF-SHA3-256 primitives.KDF implementation. usage is
// folded in as the HKDF "info" parameter, giving domain separation between
// callers (root-key derivation, chain-key derivation, message-key
// derivation) that all draw from the same facade.
func NewKDF() primitives.KDF { return kdf{} }

func (kdf) Derive(usage string, ikm, salt []byte, outLen int) []byte {
	r := hkdf.New(sha3.New256, ikm, salt, []byte(usage))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF only fails when the requested length exceeds 255*HashSize;
		// every caller in this module requests at most 128 bytes.
		panic("ristrettobackend: hkdf expansion exhausted")
	}
	return out
}
