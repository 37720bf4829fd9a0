package smp

import (
	"crypto/rand"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
)

// State enumerates the SMP state machine's positions.
type State int

const (
	Expect1 State = iota
	Expect2
	Expect3
	Expect4
	Succeeded
	Failed
	Aborted
)

// TLV record type numbers carrying SMP messages over the encrypted
// channel, following the convention the OTR family of protocols uses.
const (
	TLVSMP1     uint16 = 2
	TLVSMP2     uint16 = 3
	TLVSMP3     uint16 = 4
	TLVSMP4     uint16 = 5
	TLVSMPAbort uint16 = 6
	TLVSMP1Q    uint16 = 7
)

// DLProof is a Schnorr proof of knowledge of the discrete log of pub with
// respect to the group's generator.
type DLProof struct {
	C primitives.Scalar
	D primitives.Scalar
}

func proveKnowledge(group primitives.Group, label string, x primitives.Scalar) DLProof {
	r, _ := group.GenerateScalar(rand.Reader)
	R := group.ScalarBaseMult(r)
	c := group.ScalarFromHash(label, group.EncodeElement(R))
	d := group.SubScalars(r, group.MultiplyScalars(c, x))
	return DLProof{C: c, D: d}
}

func verifyKnowledge(group primitives.Group, label string, pub primitives.Element, p DLProof) bool {
	lhs := group.AddElements(group.ScalarBaseMult(p.D), group.ScalarMult(p.C, pub))
	c := group.ScalarFromHash(label, group.EncodeElement(lhs))
	return bytesEqual(group.EncodeScalar(c), group.EncodeScalar(p.C))
}

// DLEQProof is a Chaum-Pedersen proof that pub1=x*base1 and pub2=x*base2
// share the same discrete log x.
type DLEQProof struct {
	C primitives.Scalar
	D primitives.Scalar
}

func proveEquality(group primitives.Group, label string, base1, base2 primitives.Element, x primitives.Scalar) DLEQProof {
	r, _ := group.GenerateScalar(rand.Reader)
	t1 := group.ScalarMult(r, base1)
	t2 := group.ScalarMult(r, base2)
	c := group.ScalarFromHash(label, group.EncodeElement(t1), group.EncodeElement(t2))
	d := group.SubScalars(r, group.MultiplyScalars(c, x))
	return DLEQProof{C: c, D: d}
}

func verifyEquality(group primitives.Group, label string, base1, base2, pub1, pub2 primitives.Element, p DLEQProof) bool {
	t1 := group.AddElements(group.ScalarMult(p.D, base1), group.ScalarMult(p.C, pub1))
	t2 := group.AddElements(group.ScalarMult(p.D, base2), group.ScalarMult(p.C, pub2))
	c := group.ScalarFromHash(label, group.EncodeElement(t1), group.EncodeElement(t2))
	return bytesEqual(group.EncodeScalar(c), group.EncodeScalar(p.C))
}

// PQProof is a compound proof of knowledge of (r, x) such that P=r*g3 and
// Q=r*G+x*g2, used for the (Pa,Qa)/(Pb,Qb) commitments.
type PQProof struct {
	C  primitives.Scalar
	D1 primitives.Scalar
	D2 primitives.Scalar
}

func provePQ(group primitives.Group, label string, g3, g2 primitives.Element, r, x primitives.Scalar) PQProof {
	rp, _ := group.GenerateScalar(rand.Reader)
	xp, _ := group.GenerateScalar(rand.Reader)

	t1 := group.ScalarMult(rp, g3)
	t2 := group.AddElements(group.ScalarBaseMult(rp), group.ScalarMult(xp, g2))

	c := group.ScalarFromHash(label, group.EncodeElement(t1), group.EncodeElement(t2))
	d1 := group.SubScalars(rp, group.MultiplyScalars(c, r))
	d2 := group.SubScalars(xp, group.MultiplyScalars(c, x))
	return PQProof{C: c, D1: d1, D2: d2}
}

func verifyPQ(group primitives.Group, label string, g3, g2, p, q primitives.Element, proof PQProof) bool {
	t1 := group.AddElements(group.ScalarMult(proof.D1, g3), group.ScalarMult(proof.C, p))
	rhs := group.AddElements(group.ScalarBaseMult(proof.D1), group.ScalarMult(proof.D2, g2))
	t2 := group.AddElements(rhs, group.ScalarMult(proof.C, q))
	c := group.ScalarFromHash(label, group.EncodeElement(t1), group.EncodeElement(t2))
	return bytesEqual(group.EncodeScalar(c), group.EncodeScalar(proof.C))
}

// Message1 opens the exchange, optionally carrying a question for the
// responder's UI to display.
type Message1 struct {
	Question string
	G2A      primitives.Element
	ProofG2A DLProof
	G3A      primitives.Element
	ProofG3A DLProof
}

// Message2 is the responder's answer.
type Message2 struct {
	G2B      primitives.Element
	ProofG2B DLProof
	G3B      primitives.Element
	ProofG3B DLProof
	Pb       primitives.Element
	Qb       primitives.Element
	ProofPQ  PQProof
}

// Message3 carries the initiator's half of the combined commitment.
type Message3 struct {
	Pa      primitives.Element
	Qa      primitives.Element
	ProofPQ PQProof
	Ra      primitives.Element
	ProofR  DLEQProof
}

// Message4 carries the responder's final contribution; both sides can now
// compare Pa/Pb against Ra^b3 / Rb^a3 to learn equality without learning
// the secrets themselves.
type Message4 struct {
	Rb     primitives.Element
	ProofR DLEQProof
}

// Session holds one Conversation's in-progress SMP exchange.
type Session struct {
	group primitives.Group
	state State

	secret primitives.Scalar // x = H(secret), derived once Start/Respond is called

	a2, a3 primitives.Scalar
	b3     primitives.Scalar
	g2, g3 primitives.Element
	g3a    primitives.Element
	g3b    primitives.Element

	pa, qa primitives.Element
	pb, qb primitives.Element
}

// NewSession returns a fresh Session in Expect1.
func NewSession(group primitives.Group) *Session {
	return &Session{group: group, state: Expect1}
}

// State reports the session's current position.
func (s *Session) State() State { return s.state }

func deriveSecret(group primitives.Group, secret []byte) primitives.Scalar {
	return group.ScalarFromHash("otr4-smp-secret", secret)
}

// sub returns a - b for group elements, via the facade's NegateElement.
func sub(group primitives.Group, a, b primitives.Element) primitives.Element {
	return group.AddElements(a, group.NegateElement(b))
}

// Start builds the initiator's Message1 from a (possibly empty) question
// and the shared secret, transitioning Expect1 -> Expect2.
func (s *Session) Start(question string, secret []byte) (Message1, error) {
	if s.state != Expect1 {
		return Message1{}, otr4err.New(otr4err.ProtocolViolation, "smp.Start", "SMP already in progress")
	}
	s.secret = deriveSecret(s.group, secret)

	a2, _ := s.group.GenerateScalar(rand.Reader)
	a3, _ := s.group.GenerateScalar(rand.Reader)
	s.a2, s.a3 = a2, a3

	g2a := s.group.ScalarBaseMult(a2)
	g3a := s.group.ScalarBaseMult(a3)
	s.g3a = g3a

	s.state = Expect2
	return Message1{
		Question: question,
		G2A:      g2a, ProofG2A: proveKnowledge(s.group, "otr4-smp1-g2a", a2),
		G3A: g3a, ProofG3A: proveKnowledge(s.group, "otr4-smp1-g3a", a3),
	}, nil
}

// Respond consumes the initiator's Message1 and the responder's own
// secret, producing Message2 and transitioning Expect1 -> Expect3.
func (s *Session) Respond(m1 Message1, secret []byte) (Message2, error) {
	if s.state != Expect1 {
		return Message2{}, otr4err.New(otr4err.ProtocolViolation, "smp.Respond", "unexpected SMP1")
	}
	if !verifyKnowledge(s.group, "otr4-smp1-g2a", m1.G2A, m1.ProofG2A) ||
		!verifyKnowledge(s.group, "otr4-smp1-g3a", m1.G3A, m1.ProofG3A) {
		s.state = Failed
		return Message2{}, otr4err.New(otr4err.AuthenticationFailed, "smp.Respond", "bad proof of knowledge in SMP1")
	}
	s.g3a = m1.G3A

	s.secret = deriveSecret(s.group, secret)

	b2, _ := s.group.GenerateScalar(rand.Reader)
	b3, _ := s.group.GenerateScalar(rand.Reader)
	s.b3 = b3

	g2b := s.group.ScalarBaseMult(b2)
	g3b := s.group.ScalarBaseMult(b3)
	s.g3b = g3b

	s.g2 = s.group.ScalarMult(b2, m1.G2A)
	s.g3 = s.group.ScalarMult(b3, m1.G3A)

	r4, _ := s.group.GenerateScalar(rand.Reader)
	pb := s.group.ScalarMult(r4, s.g3)
	qb := s.group.AddElements(s.group.ScalarBaseMult(r4), s.group.ScalarMult(s.secret, s.g2))
	s.pb, s.qb = pb, qb

	s.state = Expect3
	return Message2{
		G2B: g2b, ProofG2B: proveKnowledge(s.group, "otr4-smp2-g2b", b2),
		G3B: g3b, ProofG3B: proveKnowledge(s.group, "otr4-smp2-g3b", b3),
		Pb: pb, Qb: qb,
		ProofPQ: provePQ(s.group, "otr4-smp2-pq", s.g3, s.g2, r4, s.secret),
	}, nil
}

// Continue consumes Message2 (initiator side), producing Message3 and
// transitioning Expect2 -> Expect4.
func (s *Session) Continue(m2 Message2) (Message3, error) {
	if s.state != Expect2 {
		return Message3{}, otr4err.New(otr4err.ProtocolViolation, "smp.Continue", "unexpected SMP2")
	}
	if !verifyKnowledge(s.group, "otr4-smp2-g2b", m2.G2B, m2.ProofG2B) ||
		!verifyKnowledge(s.group, "otr4-smp2-g3b", m2.G3B, m2.ProofG3B) {
		s.state = Failed
		return Message3{}, otr4err.New(otr4err.AuthenticationFailed, "smp.Continue", "bad proof of knowledge in SMP2")
	}
	s.g3b = m2.G3B

	s.g2 = s.group.ScalarMult(s.a2, m2.G2B)
	s.g3 = s.group.ScalarMult(s.a3, m2.G3B)

	if !verifyPQ(s.group, "otr4-smp2-pq", s.g3, s.g2, m2.Pb, m2.Qb, m2.ProofPQ) {
		s.state = Failed
		return Message3{}, otr4err.New(otr4err.AuthenticationFailed, "smp.Continue", "bad (Pb,Qb) proof in SMP2")
	}
	s.pb, s.qb = m2.Pb, m2.Qb

	r4, _ := s.group.GenerateScalar(rand.Reader)
	pa := s.group.ScalarMult(r4, s.g3)
	qa := s.group.AddElements(s.group.ScalarBaseMult(r4), s.group.ScalarMult(s.secret, s.g2))
	s.pa, s.qa = pa, qa

	qaMinusQb := sub(s.group, qa, s.qb)
	ra := s.group.ScalarMult(s.a3, qaMinusQb)

	s.state = Expect4
	return Message3{
		Pa: pa, Qa: qa,
		ProofPQ: provePQ(s.group, "otr4-smp3-pq", s.g3, s.g2, r4, s.secret),
		Ra:      ra,
		ProofR:  proveEquality(s.group, "otr4-smp3-r", s.group.Generator(), qaMinusQb, s.a3),
	}, nil
}

// Finish consumes Message3 (responder side), producing Message4 and the
// final equality verdict, transitioning Expect3 -> Succeeded/Failed.
func (s *Session) Finish(m3 Message3) (Message4, bool, error) {
	if s.state != Expect3 {
		return Message4{}, false, otr4err.New(otr4err.ProtocolViolation, "smp.Finish", "unexpected SMP3")
	}
	if !verifyPQ(s.group, "otr4-smp3-pq", s.g3, s.g2, m3.Pa, m3.Qa, m3.ProofPQ) {
		s.state = Failed
		return Message4{}, false, otr4err.New(otr4err.AuthenticationFailed, "smp.Finish", "bad (Pa,Qa) proof in SMP3")
	}
	s.pa, s.qa = m3.Pa, m3.Qa

	qaMinusQb := sub(s.group, s.qa, s.qb)
	if !verifyEquality(s.group, "otr4-smp3-r", s.group.Generator(), qaMinusQb, s.g3a, m3.Ra, m3.ProofR) {
		s.state = Failed
		return Message4{}, false, otr4err.New(otr4err.AuthenticationFailed, "smp.Finish", "bad Ra proof in SMP3")
	}

	rb := s.group.ScalarMult(s.b3, qaMinusQb)

	equal := elementsEqual(s.group, sub(s.group, s.pa, s.pb), s.group.ScalarMult(s.b3, m3.Ra))
	if equal {
		s.state = Succeeded
	} else {
		s.state = Failed
	}

	return Message4{
		Rb:     rb,
		ProofR: proveEquality(s.group, "otr4-smp4-r", s.group.Generator(), qaMinusQb, s.b3),
	}, equal, nil
}

// Conclude consumes Message4 (initiator side), returning the final
// equality verdict and transitioning Expect4 -> Succeeded/Failed.
func (s *Session) Conclude(m4 Message4) (bool, error) {
	if s.state != Expect4 {
		return false, otr4err.New(otr4err.ProtocolViolation, "smp.Conclude", "unexpected SMP4")
	}
	qaMinusQb := sub(s.group, s.qa, s.qb)
	if !verifyEquality(s.group, "otr4-smp4-r", s.group.Generator(), qaMinusQb, s.g3b, m4.Rb, m4.ProofR) {
		s.state = Failed
		return false, otr4err.New(otr4err.AuthenticationFailed, "smp.Conclude", "bad Rb proof in SMP4")
	}

	ra := s.group.ScalarMult(s.a3, m4.Rb)
	equal := elementsEqual(s.group, sub(s.group, s.pa, s.pb), ra)
	if equal {
		s.state = Succeeded
	} else {
		s.state = Failed
	}
	return equal, nil
}

// Abort is accepted from any non-terminal state and returns the session
// to Expect1, per the abort-TLV rule.
func (s *Session) Abort() {
	if s.state != Succeeded && s.state != Failed {
		s.state = Expect1
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

func elementsEqual(group primitives.Group, a, b primitives.Element) bool {
	return bytesEqual(group.EncodeElement(a), group.EncodeElement(b))
}
