// Package ristrettobackend implements the primitives.Group/AEAD/KDF facade
// over the ristretto255 prime-order group, XChaCha20-Poly1305, and
// SHA-3/HKDF-SHA3-256 — the default production backend for the protocol
// core, standing in for the Ed448/DH-3072 pair the core's specification
// excludes from scope.
package ristrettobackend

import (
	"fmt"
	"io"

	ristretto "github.com/gtank/ristretto255"
	"golang.org/x/crypto/sha3"

	"otr4/internal/primitives"
)

type scalar struct{ s *ristretto.Scalar }

func (v scalar) Bytes() []byte { return v.s.Encode(nil) }

type element struct{ e *ristretto.Element }

func (v element) Bytes() []byte { return v.e.Encode(nil) }

// group implements primitives.Group over ristretto255. Signing is a
// deterministic Schnorr scheme built directly from the group's own
// ScalarBaseMult/ScalarFromHash operations, the same composition style
// avahowell-occlude uses to build OPAQUE's key exchange out of bare
// ristretto255 group operations — no second signature curve is introduced.
type group struct{}

// New returns the default ristretto255-backed Group implementation.
func New() primitives.Group { return group{} }

func (group) GenerateScalar(rand io.Reader) (primitives.Scalar, error) {
	var b [64]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return nil, fmt.Errorf("ristrettobackend: read entropy: %w", err)
	}
	s := ristretto.NewScalar().SetUniformBytes(b[:])
	return scalar{s}, nil
}

func (group) ScalarBaseMult(s primitives.Scalar) primitives.Element {
	ss := s.(scalar).s
	return element{ristretto.NewIdentityElement().ScalarBaseMult(ss)}
}

func (group) ScalarMult(s primitives.Scalar, e primitives.Element) primitives.Element {
	ss := s.(scalar).s
	ee := e.(element).e
	return element{ristretto.NewIdentityElement().ScalarMult(ss, ee)}
}

func (group) AddElements(a, b primitives.Element) primitives.Element {
	return element{ristretto.NewIdentityElement().Add(a.(element).e, b.(element).e)}
}

func (group) NegateElement(e primitives.Element) primitives.Element {
	return element{ristretto.NewIdentityElement().Negate(e.(element).e)}
}

func (group) AddScalars(a, b primitives.Scalar) primitives.Scalar {
	return scalar{ristretto.NewScalar().Add(a.(scalar).s, b.(scalar).s)}
}

func (group) SubScalars(a, b primitives.Scalar) primitives.Scalar {
	return scalar{ristretto.NewScalar().Subtract(a.(scalar).s, b.(scalar).s)}
}

func (group) MultiplyScalars(a, b primitives.Scalar) primitives.Scalar {
	return scalar{ristretto.NewScalar().Multiply(a.(scalar).s, b.(scalar).s)}
}

func (group) ScalarFromHash(domain string, data ...[]byte) primitives.Scalar {
	h := sha3.NewShake256()
	_, _ = h.Write([]byte(domain))
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out [64]byte
	_, _ = h.Read(out[:])
	return scalar{ristretto.NewScalar().SetUniformBytes(out[:])}
}

func (group) EncodeElement(e primitives.Element) []byte { return e.(element).e.Encode(nil) }

func (group) DecodeElement(b []byte) (primitives.Element, error) {
	e := ristretto.NewIdentityElement()
	if err := e.Decode(b); err != nil {
		return nil, fmt.Errorf("ristrettobackend: decode element: %w", err)
	}
	return element{e}, nil
}

func (group) EncodeScalar(s primitives.Scalar) []byte { return s.(scalar).s.Encode(nil) }

func (group) DecodeScalar(b []byte) (primitives.Scalar, error) {
	s := ristretto.NewScalar()
	if err := s.Decode(b); err != nil {
		return nil, fmt.Errorf("ristrettobackend: decode scalar: %w", err)
	}
	return scalar{s}, nil
}

func (group) Identity() primitives.Element { return element{ristretto.NewIdentityElement()} }

// Generator returns the ristretto255 base point, obtained as 1·G via the
// canonical little-endian encoding of the scalar 1 rather than a
// library-specific constant, so it depends on nothing but ScalarBaseMult.
func (group) Generator() primitives.Element {
	one := make([]byte, 32)
	one[0] = 1
	s := ristretto.NewScalar()
	if err := s.Decode(one); err != nil {
		panic("ristrettobackend: canonical scalar 1 failed to decode: " + err.Error())
	}
	return element{ristretto.NewIdentityElement().ScalarBaseMult(s)}
}

func (group) ZeroScalar() primitives.Scalar { return scalar{ristretto.NewScalar().Zero()} }

const (
	signNonceDomain     = "otr4-sign-nonce"
	signChallengeDomain = "otr4-sign-challenge"
)

// Sign produces a deterministic Schnorr signature over msg under priv. The
// nonce is derived from priv and msg rather than sampled fresh, so signing
// never depends on an external entropy source and is reproducible for
// testing.
func (g group) Sign(priv primitives.Scalar, msg []byte) []byte {
	ss := priv.(scalar).s
	pub := g.ScalarBaseMult(priv)

	k := g.ScalarFromHash(signNonceDomain, ss.Encode(nil), msg)
	r := g.ScalarBaseMult(k)

	c := g.ScalarFromHash(signChallengeDomain, r.Bytes(), pub.Bytes(), msg)
	cs := ristretto.NewScalar().Multiply(c.(scalar).s, ss)
	s := ristretto.NewScalar().Add(k.(scalar).s, cs)

	sig := make([]byte, 0, 64)
	sig = append(sig, r.Bytes()...)
	sig = append(sig, s.Encode(nil)...)
	return sig
}

// Verify checks a signature produced by Sign against pub, the signer's
// public group element priv·G.
func (g group) Verify(pub primitives.Element, msg, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	r, err := g.DecodeElement(sig[:32])
	if err != nil {
		return false
	}
	s, err := g.DecodeScalar(sig[32:])
	if err != nil {
		return false
	}

	c := g.ScalarFromHash(signChallengeDomain, r.Bytes(), pub.Bytes(), msg)
	lhs := g.ScalarBaseMult(s)
	rhs := g.AddElements(r, g.ScalarMult(c, pub))
	return subtleBytesEqual(lhs.Bytes(), rhs.Bytes())
}

func subtleBytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
