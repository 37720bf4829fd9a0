package ratchet

import (
	"crypto/rand"
	"math/big"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/primitives/modpbackend"
)

const (
	usageRoot      = "otr4-ratchet-root"
	usageChainNext = "otr4-chain-key"
	usageMsgKey    = "otr4-msg-key"
	usageMACKey    = "otr4-mac-key"
)

// Header carries the ratchet-layer fields of a data message: everything a
// peer needs to locate or derive the message key. Instance tags, flags,
// nonce, ciphertext, and auth tag are the data-message layer's concern
// (package otr4) and are not modeled here.
type Header struct {
	PreviousChainLength uint32   // PN: length of the previous sending chain
	RatchetID           uint32   // i: count of completed DH-ratchet steps
	MessageID           uint32   // j: index within the current chain
	ECDHPub             []byte   // sender's current ECDH public value
	DHPub               *big.Int // sender's current DH public value, present iff RatchetID%3==0
}

// DHKeyPair is a classical finite-field Diffie-Hellman keypair over the
// modpbackend group, rotated every third ratchet per the wire format.
type DHKeyPair struct {
	Priv *big.Int
	Pub  *big.Int
}

// State is one Conversation's Double-Ratchet state. It is not safe for
// concurrent use; the protocol core serializes access per Conversation.
type State struct {
	backend primitives.Backend
	modp    *modpbackend.Group

	rootKey []byte

	ourECDHPriv  primitives.Scalar
	ourECDHPub   primitives.Element
	theirECDHPub primitives.Element // nil until the first inbound message (responder, lazily)

	ourDH   *DHKeyPair
	theirDH *big.Int

	sendChainKey []byte // nil until a send chain exists
	recvChainKey []byte // nil until a receive chain exists

	ns, nr, pn uint32
	ratchetID  uint32

	maxSkipped int
	skipped    *skippedKeyStore

	pendingMAC  queue[[]byte] // MAC keys used so far in the current receive chain
	revealedMAC queue[[]byte] // MAC keys ready to piggyback on the next send
}

// InitAsInitiator builds ratchet state for the DAKE party that completes
// the handshake holding the peer's current ECDH/DH public contribution. It
// immediately derives a sending chain so the initiator can send right
// away; the receiving chain stays unset until a message actually arrives.
func InitAsInitiator(
	backend primitives.Backend,
	modp *modpbackend.Group,
	rootKey []byte,
	ourDH *DHKeyPair,
	theirECDHPub primitives.Element,
	theirDH *big.Int,
	maxSkipped int,
) (*State, error) {
	ourPriv, err := backend.Group.GenerateScalar(rand.Reader)
	if err != nil {
		return nil, otr4err.Wrap(otr4err.OutOfResource, "ratchet.InitAsInitiator", err)
	}
	ourPub := backend.Group.ScalarBaseMult(ourPriv)

	s := &State{
		backend:      backend,
		modp:         modp,
		rootKey:      append([]byte(nil), rootKey...),
		ourECDHPriv:  ourPriv,
		ourECDHPub:   ourPub,
		theirECDHPub: theirECDHPub,
		ourDH:        ourDH,
		theirDH:      theirDH,
		maxSkipped:   maxSkipped,
		skipped:      newSkippedKeyStore(maxSkipped),
	}
	s.primeSendingChain()
	return s, nil
}

// primeSendingChain derives the initiator's first sending chain directly
// from the root key, using its fresh ECDH/DH keypair against the peer's
// contribution already known from the DAKE. This is the "lazy ratchet"
// asymmetry: the initiator can send immediately, while the responder's
// sending chain stays unset until it has something of the initiator's to
// ratchet against.
func (s *State) primeSendingChain() {
	combined := s.backend.Group.ScalarMult(s.ourECDHPriv, s.theirECDHPub).Bytes()
	if s.ratchetID%3 == 0 && s.ourDH != nil && s.theirDH != nil {
		combined = append(combined, s.modp.Shared(s.ourDH.Priv, s.theirDH).Bytes()...)
	}
	out := s.backend.KDF.Derive(usageRoot, combined, s.rootKey, 128)
	wipe(s.rootKey)
	s.rootKey, s.sendChainKey = out[:64], out[64:128]
}

// InitAsResponder builds ratchet state for the DAKE party whose ECDH/DH
// public contribution the initiator used to prime its sending chain. The
// responder has no sending chain and no receiving chain until the
// initiator's first data message arrives and triggers the first ratchet
// step.
func InitAsResponder(
	backend primitives.Backend,
	modp *modpbackend.Group,
	rootKey []byte,
	ourECDHPriv primitives.Scalar,
	ourDH *DHKeyPair,
	maxSkipped int,
) *State {
	return &State{
		backend:     backend,
		modp:        modp,
		rootKey:     append([]byte(nil), rootKey...),
		ourECDHPriv: ourECDHPriv,
		ourECDHPub:  backend.Group.ScalarBaseMult(ourECDHPriv),
		ourDH:       ourDH,
		maxSkipped:  maxSkipped,
		skipped:     newSkippedKeyStore(maxSkipped),
	}
}

// DeriveRootKey computes the initial 64-byte root key from the DAKE's
// combined shared secret, per §4.2: root key = KDF(usage_root, K, 64).
func DeriveRootKey(kdf primitives.KDF, sharedSecret []byte) []byte {
	return kdf.Derive(usageRoot, sharedSecret, nil, 64)
}

// ratchetOnReceive performs a full DH-ratchet step triggered by an inbound
// message carrying a new sender ECDH contribution, per §4.2 step 2-3: it
// derives the receiving chain against our *current* keypair, then
// generates a fresh keypair and derives the following sending chain
// against it, so we are always ready to reply after a ratchet step.
func (s *State) ratchetOnReceive(theirNewECDHPub primitives.Element, theirNewDH *big.Int, dhPresent bool) {
	s.theirECDHPub = theirNewECDHPub
	if dhPresent {
		s.theirDH = theirNewDH
	}

	// Phase 1: receiving chain, against our existing keypair.
	combined := s.backend.Group.ScalarMult(s.ourECDHPriv, s.theirECDHPub).Bytes()
	if s.ratchetID%3 == 0 && s.ourDH != nil && s.theirDH != nil {
		combined = append(combined, s.modp.Shared(s.ourDH.Priv, s.theirDH).Bytes()...)
	}
	out := s.backend.KDF.Derive(usageRoot, combined, s.rootKey, 128)
	wipe(s.rootKey)
	s.rootKey, s.recvChainKey = out[:64], out[64:128]
	s.nr = 0

	// Whatever MAC keys authenticated the just-completed receiving chain
	// will never authenticate again: reveal them.
	s.revealedMAC.items = append(s.revealedMAC.items, s.pendingMAC.drain()...)

	s.ratchetID++

	// Phase 2: fresh keypair, sending chain against it.
	s.ourECDHPriv, _ = s.backend.Group.GenerateScalar(rand.Reader)
	s.ourECDHPub = s.backend.Group.ScalarBaseMult(s.ourECDHPriv)
	if s.ratchetID%3 == 0 && s.modp != nil {
		if priv, err := s.modp.GeneratePrivate(); err == nil {
			s.ourDH = &DHKeyPair{Priv: priv, Pub: s.modp.Public(priv)}
		}
	}

	combined2 := s.backend.Group.ScalarMult(s.ourECDHPriv, s.theirECDHPub).Bytes()
	if s.ratchetID%3 == 0 && s.ourDH != nil && s.theirDH != nil {
		combined2 = append(combined2, s.modp.Shared(s.ourDH.Priv, s.theirDH).Bytes()...)
	}
	out2 := s.backend.KDF.Derive(usageRoot, combined2, s.rootKey, 128)
	wipe(s.rootKey)
	s.rootKey = out2[:64]
	s.pn = s.ns
	s.ns = 0
	s.sendChainKey = out2[64:128]
}

// deriveMessageKeys derives the (encryption key, mac key) pair for the
// current value of chainKey, without advancing it.
func (s *State) deriveMessageKeys(chainKey []byte) (encKey, macKey []byte) {
	encKey = s.backend.KDF.Derive(usageMsgKey, chainKey, nil, s.backend.AEAD.KeySize())
	macKey = s.backend.KDF.Derive(usageMACKey, chainKey, nil, 32)
	return encKey, macKey
}

func (s *State) advanceChainKey(chainKey []byte) []byte {
	next := s.backend.KDF.Derive(usageChainNext, chainKey, nil, 64)
	return next
}

// Encrypt seals plaintext under the current sending chain, producing the
// message's Header and ciphertext plus the MAC keys to piggyback on this
// message (drained from the receiving side's completed chains, per §4.2's
// MAC-key-revelation rule).
func (s *State) Encrypt(plaintext, ad []byte) (Header, []byte, [][]byte, error) {
	if s.sendChainKey == nil {
		return Header{}, nil, nil, otr4err.New(otr4err.Internal, "ratchet.Encrypt", "no sending chain established")
	}

	encKey, _ := s.deriveMessageKeys(s.sendChainKey)
	nonce := make([]byte, s.backend.AEAD.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Header{}, nil, nil, otr4err.Wrap(otr4err.OutOfResource, "ratchet.Encrypt", err)
	}

	h := Header{
		PreviousChainLength: s.pn,
		RatchetID:           s.ratchetID,
		MessageID:           s.ns,
		ECDHPub:             s.ourECDHPub.Bytes(),
	}
	if s.ratchetID%3 == 0 && s.ourDH != nil {
		h.DHPub = s.ourDH.Pub
	}

	header := encodeHeaderAD(h, ad)
	ct := s.backend.AEAD.Seal(encKey, nonce, plaintext, header)
	wipe(encKey)

	ct = append(append([]byte(nil), nonce...), ct...)

	revealed := s.revealedMAC.drain()

	s.sendChainKey = s.advanceChainKey(s.sendChainKey)
	s.ns++

	return h, ct, revealed, nil
}

// Decrypt opens a received message. On success it returns the plaintext;
// on any failure it returns an otr4err of kind ProtocolViolation,
// AuthenticationFailed or Replay and leaves the State's externally-observable fields unchanged
// except for skipped-key bookkeeping performed strictly before the
// decrypt attempt, which is safe to keep even on failure since those keys
// are derived, not secret material the caller already trusted.
func (s *State) Decrypt(h Header, ad, ciphertext []byte) ([]byte, error) {
	nonceSize := s.backend.AEAD.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, otr4err.New(otr4err.ProtocolViolation, "ratchet.Decrypt", "ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]

	id := skippedKeyID{ratchetID: h.RatchetID, messageID: h.MessageID}

	if mk, ok := s.skipped.take(id); ok {
		header := encodeHeaderAD(h, ad)
		pt, err := s.backend.AEAD.Open(mk, nonce, body, header)
		wipe(mk)
		if err != nil {
			return nil, otr4err.Wrap(otr4err.AuthenticationFailed, "ratchet.Decrypt", err)
		}
		return pt, nil
	}

	theirECDHPub, err := s.backend.Group.DecodeElement(h.ECDHPub)
	if err != nil {
		return nil, otr4err.Wrap(otr4err.ProtocolViolation, "ratchet.Decrypt", err)
	}

	isNewRatchet := s.theirECDHPub == nil || !bytesEqual(s.theirECDHPub.Bytes(), h.ECDHPub)

	if !isNewRatchet {
		if h.RatchetID != s.ratchetID || h.MessageID < s.nr {
			return nil, otr4err.New(otr4err.Replay, "ratchet.Decrypt", "already-seen counter")
		}
		return s.decryptWithinChain(h, ad, nonce, body)
	}

	// New sender ECDH contribution: skip ahead through the end of the
	// current receiving chain (if any) up to h.PreviousChainLength,
	// storing each derived key, then rotate.
	if s.recvChainKey != nil {
		if err := s.skipReceivingKeysUntil(h.PreviousChainLength); err != nil {
			return nil, err
		}
	}

	s.ratchetOnReceive(theirECDHPub, h.DHPub, h.DHPub != nil)

	if h.MessageID > 0 {
		if err := s.skipReceivingKeysUntil(h.MessageID); err != nil {
			return nil, err
		}
	}

	return s.decryptWithinChain(h, ad, nonce, body)
}

func (s *State) decryptWithinChain(h Header, ad, nonce, body []byte) ([]byte, error) {
	encKey, macKey := s.deriveMessageKeys(s.recvChainKey)
	header := encodeHeaderAD(h, ad)
	pt, err := s.backend.AEAD.Open(encKey, nonce, body, header)
	wipe(encKey)
	if err != nil {
		wipe(macKey)
		return nil, otr4err.Wrap(otr4err.AuthenticationFailed, "ratchet.Decrypt", err)
	}
	s.pendingMAC.pushBack(macKey)
	s.recvChainKey = s.advanceChainKey(s.recvChainKey)
	s.nr++
	return pt, nil
}

// skipReceivingKeysUntil derives and stores message keys for every index
// in [nr, upto) of the current receiving chain, advancing the chain key
// as it goes, per §4.2 step 1.
func (s *State) skipReceivingKeysUntil(upto uint32) error {
	if upto < s.nr {
		return otr4err.New(otr4err.ProtocolViolation, "ratchet.skipReceivingKeysUntil", "non-monotonic skip bound")
	}
	for s.nr < upto {
		encKey, _ := s.deriveMessageKeys(s.recvChainKey)
		s.skipped.put(skippedKeyID{ratchetID: s.ratchetID, messageID: s.nr}, encKey)
		s.recvChainKey = s.advanceChainKey(s.recvChainKey)
		s.nr++
	}
	return nil
}

// SkippedKeyCount reports the number of stored skipped message keys,
// exposed for the skipped-key-bound testable property.
func (s *State) SkippedKeyCount() int { return s.skipped.len() }

// Close zeroizes all secret material held by the ratchet state.
func (s *State) Close() {
	wipe(s.rootKey)
	wipe(s.sendChainKey)
	wipe(s.recvChainKey)
	for _, mk := range s.pendingMAC.drain() {
		wipe(mk)
	}
	for _, mk := range s.revealedMAC.drain() {
		wipe(mk)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// encodeHeaderAD binds the header fields and caller-supplied associated
// data into the AEAD's associated-data input, so tampering with any
// header field is detected as an authentication failure.
func encodeHeaderAD(h Header, ad []byte) []byte {
	out := make([]byte, 0, 16+len(h.ECDHPub)+len(ad))
	out = appendUint32(out, h.PreviousChainLength)
	out = appendUint32(out, h.RatchetID)
	out = appendUint32(out, h.MessageID)
	out = append(out, h.ECDHPub...)
	if h.DHPub != nil {
		out = append(out, h.DHPub.Bytes()...)
	}
	out = append(out, ad...)
	return out
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
