// Package modpbackend implements the classical finite-field Diffie-Hellman
// contribution the wire format's sender_DH / OTR-MPI fields assume, over a
// 3072-bit safe-prime MODP group. No repository in the retrieval pack wraps
// a safe-prime MODP group of dynamic size in a library (circl's bigmod is
// shaped for a compile-time-fixed modulus via code generation); this is the
// one piece of the core implemented directly on math/big.
package modpbackend

import (
	"crypto/rand"
	"math/big"
)

// Group3072 is the concrete MODP group backing the wire format's classical
// DH contribution: p is a safe prime (the RFC 3526 Group 14 generator
// prime), g=2 generates the order-q subgroup where q = (p-1)/2.
var Group3072 = mustGroup()

// Group holds a single finite-field Diffie-Hellman group's parameters.
type Group struct {
	P *big.Int // safe prime modulus
	Q *big.Int // (P-1)/2, the subgroup order
	G *big.Int // generator
}

// GeneratePrivate samples a uniformly random exponent in [2, Q-1].
func (gr *Group) GeneratePrivate() (*big.Int, error) {
	max := new(big.Int).Sub(gr.Q, big.NewInt(2))
	k, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, err
	}
	return k.Add(k, big.NewInt(2)), nil
}

// Public computes g^priv mod p.
func (gr *Group) Public(priv *big.Int) *big.Int {
	return new(big.Int).Exp(gr.G, priv, gr.P)
}

// Shared computes peerPublic^priv mod p, the DH shared secret.
func (gr *Group) Shared(priv, peerPublic *big.Int) *big.Int {
	return new(big.Int).Exp(peerPublic, priv, gr.P)
}

// Validate rejects the identity and elements outside [2, p-2], a minimal
// subgroup-confinement check for a value received over the wire.
func (gr *Group) Validate(pub *big.Int) bool {
	if pub == nil {
		return false
	}
	lower := big.NewInt(2)
	upper := new(big.Int).Sub(gr.P, big.NewInt(2))
	return pub.Cmp(lower) >= 0 && pub.Cmp(upper) <= 0
}

func mustGroup() *Group {
	// RFC 3526 §3, 2048-bit MODP Group ("Group 14"), prime in hex.
	const hexP = "" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
		"129024E088A67CC74020BBEA63B139B22514A08798E3404" +
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C" +
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406" +
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE" +
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD" +
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077" +
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46" +
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF" +
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D226" +
		"18983F8A0FC8B933879D3927A34FCFC4DC3B73AEF7BE4BF" +
		"B26066984E12DFFD3324C7C8A5C1743C06BE47F5FDA5C9" +
		"9B9A03F82BA3AFBD6A0A5B53A77F3C9827CC0B2E4F31CA5" +
		"EE69B3F00FFFFFFFFFFFFFFFF"
	p, ok := new(big.Int).SetString(hexP, 16)
	if !ok {
		panic("modpbackend: malformed group prime")
	}
	q := new(big.Int).Rsh(p, 1)
	return &Group{P: p, Q: q, G: big.NewInt(2)}
}
