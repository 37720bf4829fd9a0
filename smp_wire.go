package otr4

import (
	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/smp"
	"otr4/internal/wire"
)

// Encoding SMP's zero-knowledge messages onto TLV payloads. Each dlProof/
// dleqProof/pqProof is a fixed-size run of scalars, so these are flat
// concatenations rather than length-prefixed fields.

func writeElement(w *wire.Writer, group primitives.Group, e primitives.Element) {
	w.WriteFixed(group.EncodeElement(e))
}

func readElement(group primitives.Group, r *wire.Reader, elementLen int) (primitives.Element, error) {
	b, err := r.ReadFixed(elementLen)
	if err != nil {
		return nil, err
	}
	return group.DecodeElement(b)
}

func writeScalar(w *wire.Writer, group primitives.Group, s primitives.Scalar) {
	w.WriteFixed(group.EncodeScalar(s))
}

func readScalar(group primitives.Group, r *wire.Reader, scalarLen int) (primitives.Scalar, error) {
	b, err := r.ReadFixed(scalarLen)
	if err != nil {
		return nil, err
	}
	return group.DecodeScalar(b)
}

func marshalSMP1(group primitives.Group, m smp.Message1) []byte {
	w := wire.NewWriter()
	w.WriteData([]byte(m.Question))
	writeElement(w, group, m.G2A)
	writeScalar(w, group, m.ProofG2A.C)
	writeScalar(w, group, m.ProofG2A.D)
	writeElement(w, group, m.G3A)
	writeScalar(w, group, m.ProofG3A.C)
	writeScalar(w, group, m.ProofG3A.D)
	return w.Bytes()
}

func unmarshalSMP1(group primitives.Group, elementLen, scalarLen int, b []byte) (smp.Message1, error) {
	r := wire.NewReader(b)
	q, err := r.ReadData()
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	g2a, err := readElement(group, r, elementLen)
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	c1, err := readScalar(group, r, scalarLen)
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	d1, err := readScalar(group, r, scalarLen)
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	g3a, err := readElement(group, r, elementLen)
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	c2, err := readScalar(group, r, scalarLen)
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	d2, err := readScalar(group, r, scalarLen)
	if err != nil {
		return smp.Message1{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP1", err)
	}
	return smp.Message1{
		Question: string(q),
		G2A:      g2a, ProofG2A: smp.DLProof{C: c1, D: d1},
		G3A: g3a, ProofG3A: smp.DLProof{C: c2, D: d2},
	}, nil
}

func marshalSMP2(group primitives.Group, m smp.Message2) []byte {
	w := wire.NewWriter()
	writeElement(w, group, m.G2B)
	writeScalar(w, group, m.ProofG2B.C)
	writeScalar(w, group, m.ProofG2B.D)
	writeElement(w, group, m.G3B)
	writeScalar(w, group, m.ProofG3B.C)
	writeScalar(w, group, m.ProofG3B.D)
	writeElement(w, group, m.Pb)
	writeElement(w, group, m.Qb)
	writeScalar(w, group, m.ProofPQ.C)
	writeScalar(w, group, m.ProofPQ.D1)
	writeScalar(w, group, m.ProofPQ.D2)
	return w.Bytes()
}

func unmarshalSMP2(group primitives.Group, elementLen, scalarLen int, b []byte) (smp.Message2, error) {
	r := wire.NewReader(b)
	read := func() (primitives.Scalar, error) { return readScalar(group, r, scalarLen) }
	readE := func() (primitives.Element, error) { return readElement(group, r, elementLen) }

	g2b, err := readE()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	c1, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	d1, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	g3b, err := readE()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	c2, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	d2, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	pb, err := readE()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	qb, err := readE()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	c3, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	pd1, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}
	pd2, err := read()
	if err != nil {
		return smp.Message2{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP2", err)
	}

	return smp.Message2{
		G2B: g2b, ProofG2B: smp.DLProof{C: c1, D: d1},
		G3B: g3b, ProofG3B: smp.DLProof{C: c2, D: d2},
		Pb: pb, Qb: qb,
		ProofPQ: smp.PQProof{C: c3, D1: pd1, D2: pd2},
	}, nil
}

func marshalSMP3(group primitives.Group, m smp.Message3) []byte {
	w := wire.NewWriter()
	writeElement(w, group, m.Pa)
	writeElement(w, group, m.Qa)
	writeScalar(w, group, m.ProofPQ.C)
	writeScalar(w, group, m.ProofPQ.D1)
	writeScalar(w, group, m.ProofPQ.D2)
	writeElement(w, group, m.Ra)
	writeScalar(w, group, m.ProofR.C)
	writeScalar(w, group, m.ProofR.D)
	return w.Bytes()
}

func unmarshalSMP3(group primitives.Group, elementLen, scalarLen int, b []byte) (smp.Message3, error) {
	r := wire.NewReader(b)
	read := func() (primitives.Scalar, error) { return readScalar(group, r, scalarLen) }
	readE := func() (primitives.Element, error) { return readElement(group, r, elementLen) }

	pa, err := readE()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	qa, err := readE()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	c1, err := read()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	d1, err := read()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	d2, err := read()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	ra, err := readE()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	c2, err := read()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}
	d3, err := read()
	if err != nil {
		return smp.Message3{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP3", err)
	}

	return smp.Message3{
		Pa: pa, Qa: qa,
		ProofPQ: smp.PQProof{C: c1, D1: d1, D2: d2},
		Ra:      ra,
		ProofR:  smp.DLEQProof{C: c2, D: d3},
	}, nil
}

func marshalSMP4(group primitives.Group, m smp.Message4) []byte {
	w := wire.NewWriter()
	writeElement(w, group, m.Rb)
	writeScalar(w, group, m.ProofR.C)
	writeScalar(w, group, m.ProofR.D)
	return w.Bytes()
}

func unmarshalSMP4(group primitives.Group, elementLen, scalarLen int, b []byte) (smp.Message4, error) {
	r := wire.NewReader(b)
	rb, err := readElement(group, r, elementLen)
	if err != nil {
		return smp.Message4{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP4", err)
	}
	c, err := readScalar(group, r, scalarLen)
	if err != nil {
		return smp.Message4{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP4", err)
	}
	d, err := readScalar(group, r, scalarLen)
	if err != nil {
		return smp.Message4{}, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.unmarshalSMP4", err)
	}
	return smp.Message4{Rb: rb, ProofR: smp.DLEQProof{C: c, D: d}}, nil
}
