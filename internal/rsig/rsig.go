package rsig

import (
	"crypto/rand"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
)

// Signature is a three-key deniable ring signature: {c1,r1,c2,r2,c3,r3}.
type Signature struct {
	C [3]primitives.Scalar
	R [3]primitives.Scalar
}

// Encode concatenates the six scalar fields in order, the representation
// carried in Auth-R/Auth-I/Non-Interactive-Auth messages.
func Encode(group primitives.Group, sig Signature) []byte {
	var out []byte
	for i := 0; i < 3; i++ {
		out = append(out, group.EncodeScalar(sig.C[i])...)
		out = append(out, group.EncodeScalar(sig.R[i])...)
	}
	return out
}

// Decode parses a signature produced by Encode. scalarLen is the backend's
// per-scalar encoding width.
func Decode(group primitives.Group, scalarLen int, b []byte) (Signature, error) {
	var sig Signature
	if len(b) != 6*scalarLen {
		return sig, otr4err.New(otr4err.ProtocolViolation, "rsig.Decode", "wrong signature length")
	}
	for i := 0; i < 3; i++ {
		c, err := group.DecodeScalar(b[i*2*scalarLen : i*2*scalarLen+scalarLen])
		if err != nil {
			return sig, otr4err.Wrap(otr4err.ProtocolViolation, "rsig.Decode", err)
		}
		r, err := group.DecodeScalar(b[i*2*scalarLen+scalarLen : i*2*scalarLen+2*scalarLen])
		if err != nil {
			return sig, otr4err.Wrap(otr4err.ProtocolViolation, "rsig.Decode", err)
		}
		sig.C[i], sig.R[i] = c, r
	}
	return sig, nil
}

// Authenticate produces a ring signature proving knowledge of signerPriv
// for exactly one of A1, A2, A3 (the one equal to signerPub), without
// revealing which. It fails with InvalidParameter if signerPub matches
// none of the three, or if any two of the three keys coincide.
func Authenticate(
	group primitives.Group,
	usage string,
	domain string,
	signerPriv primitives.Scalar,
	signerPub primitives.Element,
	a [3]primitives.Element,
	msg []byte,
) (Signature, error) {
	if elementsEqual(group, a[0], a[1]) || elementsEqual(group, a[1], a[2]) || elementsEqual(group, a[0], a[2]) {
		return Signature{}, otr4err.New(otr4err.InvalidParameter, "rsig.Authenticate", "declared keys must be pairwise distinct")
	}
	real := -1
	for i, ai := range a {
		if elementsEqual(group, ai, signerPub) {
			real = i
			break
		}
	}
	if real < 0 {
		return Signature{}, otr4err.New(otr4err.InvalidParameter, "rsig.Authenticate", "signer key is not among the declared keys")
	}

	var c, r [3]primitives.Scalar
	var t [3]primitives.Element

	for i := 0; i < 3; i++ {
		if i == real {
			continue
		}
		ci, err := group.GenerateScalar(rand.Reader)
		if err != nil {
			return Signature{}, otr4err.Wrap(otr4err.OutOfResource, "rsig.Authenticate", err)
		}
		ri, err := group.GenerateScalar(rand.Reader)
		if err != nil {
			return Signature{}, otr4err.Wrap(otr4err.OutOfResource, "rsig.Authenticate", err)
		}
		c[i], r[i] = ci, ri
		t[i] = group.AddElements(group.ScalarBaseMult(ri), group.ScalarMult(ci, a[i]))
	}

	ephemeral, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		return Signature{}, otr4err.Wrap(otr4err.OutOfResource, "rsig.Authenticate", err)
	}
	t[real] = group.ScalarBaseMult(ephemeral)

	c3 := challenge(group, usage, domain, a, t, msg)

	var sum primitives.Scalar = group.ZeroScalar()
	for i := 0; i < 3; i++ {
		if i == real {
			continue
		}
		sum = group.AddScalars(sum, c[i])
	}
	c[real] = group.SubScalars(c3, sum)
	r[real] = group.SubScalars(ephemeral, group.MultiplyScalars(c[real], signerPriv))

	return Signature{C: c, R: r}, nil
}

// Verify checks sig against the three declared public keys. It returns
// true iff the signer held the private key for one of a[0..2] at signing
// time and no byte of the signature has been altered.
func Verify(
	group primitives.Group,
	usage string,
	domain string,
	a [3]primitives.Element,
	msg []byte,
	sig Signature,
) bool {
	var t [3]primitives.Element
	for i := 0; i < 3; i++ {
		t[i] = group.AddElements(group.ScalarBaseMult(sig.R[i]), group.ScalarMult(sig.C[i], a[i]))
	}
	c := challenge(group, usage, domain, a, t, msg)

	sum := group.AddScalars(group.AddScalars(sig.C[0], sig.C[1]), sig.C[2])
	return scalarsEqual(group, sum, c)
}

func challenge(group primitives.Group, usage, domain string, a, t [3]primitives.Element, msg []byte) primitives.Scalar {
	data := make([][]byte, 0, 8)
	data = append(data, []byte(usage))
	for _, ai := range a {
		data = append(data, group.EncodeElement(ai))
	}
	for _, ti := range t {
		data = append(data, group.EncodeElement(ti))
	}
	data = append(data, msg)
	return group.ScalarFromHash(domain, data...)
}

func elementsEqual(group primitives.Group, a, b primitives.Element) bool {
	return bytesEqual(group.EncodeElement(a), group.EncodeElement(b))
}

func scalarsEqual(group primitives.Group, a, b primitives.Scalar) bool {
	return bytesEqual(group.EncodeScalar(a), group.EncodeScalar(b))
}

func bytesEqual(x, y []byte) bool {
	if len(x) != len(y) {
		return false
	}
	var v byte
	for i := range x {
		v |= x[i] ^ y[i]
	}
	return v == 0
}

