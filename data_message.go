package otr4

import (
	"otr4/internal/otr4err"
	"otr4/internal/ratchet"
	"otr4/internal/wire"
)

// dataMessage is the wire form of one ratchet-encrypted payload: the
// ratchet Header fields plus the sealed ciphertext blob (nonce || ct ||
// tag, as returned by ratchet.State.Encrypt) and any MAC keys being
// revealed this round.
type dataMessage struct {
	senderInstanceTag   uint32
	receiverInstanceTag uint32
	header              ratchet.Header
	ciphertext          []byte
	revealedMACKeys     [][]byte
}

func (m dataMessage) marshal() []byte {
	w := wire.NewWriter()
	w.WriteUint16(protocolVersion)
	w.WriteUint8(msgTypeData)
	w.WriteUint32(m.senderInstanceTag)
	w.WriteUint32(m.receiverInstanceTag)
	w.WriteUint8(0) // flags, unused
	w.WriteUint32(m.header.PreviousChainLength)
	w.WriteUint32(m.header.RatchetID)
	w.WriteUint32(m.header.MessageID)
	w.WriteData(m.header.ECDHPub)
	w.WriteMPI(m.header.DHPub)
	w.WriteData(m.ciphertext)
	macs := wire.NewWriter()
	for _, mk := range m.revealedMACKeys {
		macs.WriteData(mk)
	}
	w.WriteData(macs.Bytes())
	return w.Bytes()
}

func unmarshalDataMessage(body []byte) (dataMessage, error) {
	r := wire.NewReader(body)
	senderTag, err := r.ReadUint32()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	receiverTag, err := r.ReadUint32()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	if _, err := r.ReadUint8(); err != nil { // flags
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	pn, err := r.ReadUint32()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	ratchetID, err := r.ReadUint32()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	messageID, err := r.ReadUint32()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	ecdh, err := r.ReadData()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	dhPub, err := r.ReadMPI()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	if dhPub.Sign() == 0 {
		dhPub = nil
	}
	ct, err := r.ReadData()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	macsBlob, err := r.ReadData()
	if err != nil {
		return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
	}
	macsReader := wire.NewReader(macsBlob)
	var macs [][]byte
	for macsReader.Remaining() > 0 {
		mk, err := macsReader.ReadData()
		if err != nil {
			return dataMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalDataMessage", err)
		}
		macs = append(macs, mk)
	}

	return dataMessage{
		senderInstanceTag:   senderTag,
		receiverInstanceTag: receiverTag,
		header: ratchet.Header{
			PreviousChainLength: pn,
			RatchetID:           ratchetID,
			MessageID:           messageID,
			ECDHPub:             ecdh,
			DHPub:               dhPub,
		},
		ciphertext:      ct,
		revealedMACKeys: macs,
	}, nil
}

// encodePlaintext combines a human-readable message with any TLV records
// (SMP steps, disconnect notice, padding) into the single byte string the
// ratchet actually encrypts.
func encodePlaintext(message []byte, tlvs []wire.TLV, padding int) []byte {
	w := wire.NewWriter()
	w.WriteData(message)
	for _, t := range tlvs {
		w.WriteTLV(t)
	}
	if padding > 1 {
		// The padding travels as a type-0 TLV (2-byte type, 4-byte length)
		// sized so the whole plaintext is a multiple of padding.
		padLen := (padding - (len(w.Bytes())+6)%padding) % padding
		w.WriteTLV(wire.TLV{Type: 0, Value: make([]byte, padLen)})
	}
	return w.Bytes()
}

func decodePlaintext(b []byte) (message []byte, tlvs []wire.TLV, err error) {
	r := wire.NewReader(b)
	message, err = r.ReadData()
	if err != nil {
		return nil, nil, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.decodePlaintext", err)
	}
	tlvs, err = r.ReadTLVs()
	if err != nil {
		return nil, nil, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.decodePlaintext", err)
	}
	return message, tlvs, nil
}

const tlvDisconnect uint16 = 1
