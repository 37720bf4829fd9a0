package primitives

import "io"

// Scalar is an opaque group scalar (an element of Z_q).
type Scalar interface {
	// Bytes returns the canonical encoding of the scalar.
	Bytes() []byte
}

// Element is an opaque group element (a point on the curve).
type Element interface {
	// Bytes returns the canonical encoding of the element.
	Bytes() []byte
}

// Group abstracts the prime-order group the DAKE, ratchet, and ring
// signature operate over.
type Group interface {
	// GenerateScalar samples a uniformly random non-zero scalar.
	GenerateScalar(rand io.Reader) (Scalar, error)

	ScalarBaseMult(Scalar) Element
	ScalarMult(Scalar, Element) Element
	// Generator returns the group's fixed base point, for protocols (SMP)
	// that need to name it explicitly rather than only through ScalarBaseMult.
	Generator() Element

	AddElements(Element, Element) Element
	// NegateElement returns the additive inverse of e, so callers can build
	// subtraction as AddElements(a, NegateElement(b)) without needing a
	// scalar "one" to multiply through.
	NegateElement(e Element) Element
	AddScalars(Scalar, Scalar) Scalar
	SubScalars(Scalar, Scalar) Scalar
	MultiplyScalars(Scalar, Scalar) Scalar

	// ScalarFromHash derives a scalar deterministically from domain and the
	// concatenation of data, used for Fiat-Shamir challenges and key
	// derivation from hashed transcripts.
	ScalarFromHash(domain string, data ...[]byte) Scalar

	EncodeElement(Element) []byte
	DecodeElement([]byte) (Element, error)
	EncodeScalar(Scalar) []byte
	DecodeScalar([]byte) (Scalar, error)

	// Identity returns the group's neutral element, for accumulation loops.
	Identity() Element
	// ZeroScalar returns the additive identity scalar.
	ZeroScalar() Scalar

	// Sign and Verify expose a long-term-key signature scheme over the same
	// group, used by ClientProfile/PrekeyProfile (internal/profile).
	Sign(priv Scalar, msg []byte) []byte
	Verify(pub Element, msg, sig []byte) bool
}

// AEAD abstracts the authenticated encryption primitive the ratchet and
// data-message layer use to seal ciphertext.
type AEAD interface {
	Seal(key, nonce, plaintext, ad []byte) []byte
	Open(key, nonce, ciphertext, ad []byte) ([]byte, error)
	KeySize() int
	NonceSize() int
}

// KDF abstracts key derivation. usage is a short domain-separation label
// (e.g. "otr4-ratchet-root", "otr4-msg-key"); Derive must be deterministic given
// identical inputs.
type KDF interface {
	Derive(usage string, ikm, salt []byte, outLen int) []byte
}

// Backend bundles a concrete Group/AEAD/KDF triple.
type Backend struct {
	Group Group
	AEAD  AEAD
	KDF   KDF
}
