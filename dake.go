package otr4

import (
	"math/big"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/primitives/modpbackend"
	"otr4/internal/profile"
	"otr4/internal/rsig"
	"otr4/internal/wire"
)

// Message type bytes, carried right after the fixed protocol-version field
// in every envelope this package emits.
const (
	msgTypeIdentity           uint8 = 0x01
	msgTypeAuthR              uint8 = 0x02
	msgTypeAuthI              uint8 = 0x03
	msgTypeData               uint8 = 0x04
	msgTypeNonInteractiveAuth uint8 = 0x05
)

const protocolVersion uint16 = 4

// groupElementLen is the canonical encoding width, in bytes, of a single
// scalar or element under the ristretto255 backend. Every backend this
// package is built against today shares this width, so wire code takes it
// as a plain constant rather than threading a Group method through every
// call site.
const groupElementLen = 32

// Ring-signature usage/domain constants. Usage differs per message so a
// signature produced for one DAKE message can never be replayed as
// another; domain is a fixed protocol separator.
const (
	ringDomain  = "OTR4"
	usageAuthR  = "OTR4-Auth-R"
	usageAuthI  = "OTR4-Auth-I"
	usageNIAuth = "OTR4-Non-Interactive-Auth"
)

type ephemeral struct {
	ecdhPub primitives.Element
	dhPub   *big.Int
}

func (e ephemeral) encode(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteData(group.EncodeElement(e.ecdhPub))
	w.WriteMPI(e.dhPub)
	return w.Bytes()
}

func decodeEphemeral(group primitives.Group, r *wire.Reader) (ephemeral, error) {
	ecdhBytes, err := r.ReadData()
	if err != nil {
		return ephemeral{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.decodeEphemeral", err)
	}
	ecdhPub, err := group.DecodeElement(ecdhBytes)
	if err != nil {
		return ephemeral{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.decodeEphemeral", err)
	}
	dhPub, err := r.ReadMPI()
	if err != nil {
		return ephemeral{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.decodeEphemeral", err)
	}
	if dhPub.Sign() == 0 {
		dhPub = nil
	}
	return ephemeral{ecdhPub: ecdhPub, dhPub: dhPub}, nil
}

// identityMessage is the DAKE's first message: a party announces its
// Client Profile and a fresh ephemeral ECDH/DH contribution.
type identityMessage struct {
	senderInstanceTag   uint32
	receiverInstanceTag uint32
	senderProfile       profile.ClientProfile
	eph                 ephemeral
}

func (m identityMessage) marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteUint16(protocolVersion)
	w.WriteUint8(msgTypeIdentity)
	w.WriteUint32(m.senderInstanceTag)
	w.WriteUint32(m.receiverInstanceTag)
	w.WriteData(m.senderProfile.Marshal(group))
	w.WriteFixed(m.eph.encode(group))
	return w.Bytes()
}

func unmarshalIdentity(group primitives.Group, body []byte) (identityMessage, error) {
	r := wire.NewReader(body)
	senderTag, err := r.ReadUint32()
	if err != nil {
		return identityMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalIdentity", err)
	}
	receiverTag, err := r.ReadUint32()
	if err != nil {
		return identityMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalIdentity", err)
	}
	cp, err := profile.UnmarshalClientProfile(group, r)
	if err != nil {
		return identityMessage{}, err
	}
	eph, err := decodeEphemeral(group, r)
	if err != nil {
		return identityMessage{}, err
	}
	return identityMessage{senderInstanceTag: senderTag, receiverInstanceTag: receiverTag, senderProfile: cp, eph: eph}, nil
}

// authRMessage is sent in reply to an Identity message: the sender's own
// Client Profile and ephemeral contribution, plus a ring signature over
// the transcript binding both parties' profiles, ephemerals, and phi.
type authRMessage struct {
	senderInstanceTag   uint32
	receiverInstanceTag uint32
	senderProfile       profile.ClientProfile
	eph                 ephemeral
	sigma               rsig.Signature
}

func (m authRMessage) marshal(group primitives.Group, scalarLen int) []byte {
	w := wire.NewWriter()
	w.WriteUint16(protocolVersion)
	w.WriteUint8(msgTypeAuthR)
	w.WriteUint32(m.senderInstanceTag)
	w.WriteUint32(m.receiverInstanceTag)
	w.WriteData(m.senderProfile.Marshal(group))
	w.WriteFixed(m.eph.encode(group))
	w.WriteFixed(rsig.Encode(group, m.sigma))
	return w.Bytes()
}

func unmarshalAuthR(group primitives.Group, scalarLen int, body []byte) (authRMessage, error) {
	r := wire.NewReader(body)
	senderTag, err := r.ReadUint32()
	if err != nil {
		return authRMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalAuthR", err)
	}
	receiverTag, err := r.ReadUint32()
	if err != nil {
		return authRMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalAuthR", err)
	}
	cp, err := profile.UnmarshalClientProfile(group, r)
	if err != nil {
		return authRMessage{}, err
	}
	eph, err := decodeEphemeral(group, r)
	if err != nil {
		return authRMessage{}, err
	}
	sigBytes, err := r.ReadFixed(6 * scalarLen)
	if err != nil {
		return authRMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalAuthR", err)
	}
	sigma, err := rsig.Decode(group, scalarLen, sigBytes)
	if err != nil {
		return authRMessage{}, err
	}
	return authRMessage{senderInstanceTag: senderTag, receiverInstanceTag: receiverTag, senderProfile: cp, eph: eph, sigma: sigma}, nil
}

// authIMessage completes the interactive DAKE: just a ring signature over
// the same transcript Auth-R signed, from the other party's perspective.
type authIMessage struct {
	senderInstanceTag   uint32
	receiverInstanceTag uint32
	sigma               rsig.Signature
}

func (m authIMessage) marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteUint16(protocolVersion)
	w.WriteUint8(msgTypeAuthI)
	w.WriteUint32(m.senderInstanceTag)
	w.WriteUint32(m.receiverInstanceTag)
	w.WriteFixed(rsig.Encode(group, m.sigma))
	return w.Bytes()
}

func unmarshalAuthI(group primitives.Group, scalarLen int, body []byte) (authIMessage, error) {
	r := wire.NewReader(body)
	senderTag, err := r.ReadUint32()
	if err != nil {
		return authIMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalAuthI", err)
	}
	receiverTag, err := r.ReadUint32()
	if err != nil {
		return authIMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalAuthI", err)
	}
	sigBytes, err := r.ReadFixed(6 * scalarLen)
	if err != nil {
		return authIMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalAuthI", err)
	}
	sigma, err := rsig.Decode(group, scalarLen, sigBytes)
	if err != nil {
		return authIMessage{}, err
	}
	return authIMessage{senderInstanceTag: senderTag, receiverInstanceTag: receiverTag, sigma: sigma}, nil
}

// nonInteractiveAuthMessage completes a non-interactive DAKE in one shot:
// the initiator's Client Profile and fresh ephemeral, the id of the
// responder's PrekeyMessage it authenticated against, and a ring
// signature over the same transcript shape Auth-R/Auth-I use.
type nonInteractiveAuthMessage struct {
	senderInstanceTag   uint32
	receiverInstanceTag uint32
	senderProfile       profile.ClientProfile
	eph                 ephemeral
	prekeyMessageID     uint32
	sigma               rsig.Signature
}

func (m nonInteractiveAuthMessage) marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteUint16(protocolVersion)
	w.WriteUint8(msgTypeNonInteractiveAuth)
	w.WriteUint32(m.senderInstanceTag)
	w.WriteUint32(m.receiverInstanceTag)
	w.WriteData(m.senderProfile.Marshal(group))
	w.WriteFixed(m.eph.encode(group))
	w.WriteUint32(m.prekeyMessageID)
	w.WriteFixed(rsig.Encode(group, m.sigma))
	return w.Bytes()
}

func unmarshalNonInteractiveAuth(group primitives.Group, body []byte) (nonInteractiveAuthMessage, error) {
	r := wire.NewReader(body)
	senderTag, err := r.ReadUint32()
	if err != nil {
		return nonInteractiveAuthMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalNonInteractiveAuth", err)
	}
	receiverTag, err := r.ReadUint32()
	if err != nil {
		return nonInteractiveAuthMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalNonInteractiveAuth", err)
	}
	cp, err := profile.UnmarshalClientProfile(group, r)
	if err != nil {
		return nonInteractiveAuthMessage{}, err
	}
	eph, err := decodeEphemeral(group, r)
	if err != nil {
		return nonInteractiveAuthMessage{}, err
	}
	prekeyID, err := r.ReadUint32()
	if err != nil {
		return nonInteractiveAuthMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalNonInteractiveAuth", err)
	}
	sigBytes, err := r.ReadFixed(6 * groupElementLen)
	if err != nil {
		return nonInteractiveAuthMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalNonInteractiveAuth", err)
	}
	sigma, err := rsig.Decode(group, groupElementLen, sigBytes)
	if err != nil {
		return nonInteractiveAuthMessage{}, err
	}
	return nonInteractiveAuthMessage{
		senderInstanceTag:   senderTag,
		receiverInstanceTag: receiverTag,
		senderProfile:       cp,
		eph:                 eph,
		prekeyMessageID:     prekeyID,
		sigma:               sigma,
	}, nil
}

// dakeTranscript builds the bytes the Auth-R/Auth-I ring signatures cover:
// phi plus both parties' Client Profiles and ephemeral contributions, in a
// fixed order (identity-sender's fields first) so both parties compute
// identical bytes regardless of which one is signing.
func dakeTranscript(group primitives.Group, identityProfile profile.ClientProfile, identityEph ephemeral, authRProfile profile.ClientProfile, authREph ephemeral, phiBytes []byte) []byte {
	w := wire.NewWriter()
	w.WriteFixed(phiBytes)
	w.WriteData(identityProfile.Marshal(group))
	w.WriteFixed(identityEph.encode(group))
	w.WriteData(authRProfile.Marshal(group))
	w.WriteFixed(authREph.encode(group))
	return w.Bytes()
}

// ringFor3 builds the three-key ring {selfLongTerm, selfForging, peerLongTerm}
// used for both Auth-R (self=Alice) and Auth-I (self=Bob): a verifier who
// holds peerLongTerm's private key cannot distinguish "signed by self" from
// "signed by peer, pretending", which is exactly the point.
func ringFor3(selfLongTerm, selfForging, peerLongTerm primitives.Element) [3]primitives.Element {
	return [3]primitives.Element{selfLongTerm, selfForging, peerLongTerm}
}

// combinedSharedSecret mixes the ECDH output over the ristretto group with
// the classical DH output over modp into the single byte string
// ratchet.DeriveRootKey consumes, per §4.2's "K mixed from ECDH over Ed448
// and DH over MODP-3072".
func combinedSharedSecret(backend primitives.Backend, modp *modpbackend.Group, ourEphPriv primitives.Scalar, theirEphPub primitives.Element, ourDHPriv, theirDHPub *big.Int) []byte {
	ecdh := backend.Group.ScalarMult(ourEphPriv, theirEphPub).Bytes()
	dh := modp.Shared(ourDHPriv, theirDHPub).Bytes()
	return append(ecdh, dh...)
}
