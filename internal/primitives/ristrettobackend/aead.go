package ristrettobackend

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"otr4/internal/primitives"
)

type aead struct{}

// NewAEAD returns an XChaCha20-Poly1305 primitives.AEAD implementation.
func NewAEAD() primitives.AEAD { return aead{} }

func (aead) KeySize() int   { return chacha20poly1305.KeySize }
func (aead) NonceSize() int { return chacha20poly1305.NonceSizeX }

func (aead) Seal(key, nonce, plaintext, ad []byte) []byte {
	c, err := chacha20poly1305.NewX(key)
	if err != nil {
		// A correctly sized key never fails construction; a failure here
		// means a caller passed a key of the wrong length, a programmer
		// error the facade's callers are responsible for avoiding.
		panic(fmt.Sprintf("ristrettobackend: bad AEAD key: %v", err))
	}
	return c.Seal(nil, nonce, plaintext, ad)
}

func (aead) Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	c, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ristrettobackend: bad AEAD key: %w", err)
	}
	pt, err := c.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("ristrettobackend: open: %w", err)
	}
	return pt, nil
}
