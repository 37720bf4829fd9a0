package profile

import (
	"time"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/wire"
)

// ClientProfile is the signed, self-describing record a Client publishes
// about itself: its long-term public key, its forging key (§9 — public
// only; the private half is deliberately leaked post-DAKE for
// deniability, never used for signing), the protocol versions it
// supports, its instance tag, and an expiry.
type ClientProfile struct {
	InstanceTag uint32
	LongTermPub primitives.Element
	ForgingPub  primitives.Element
	Versions    []byte // one byte per supported version, e.g. {4}
	Expiry      time.Time
	Signature   []byte
}

// encode produces the canonical byte string the signature covers. Field
// order and framing are fixed so Verify can recompute it independently of
// how the caller constructed the struct.
func (p ClientProfile) encode(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteUint32(p.InstanceTag)
	w.WriteData(group.EncodeElement(p.LongTermPub))
	w.WriteData(group.EncodeElement(p.ForgingPub))
	w.WriteData(p.Versions)
	w.WriteUint32(uint32(p.Expiry.Unix()))
	return w.Bytes()
}

// NewClientProfile builds and signs a ClientProfile under signerPriv,
// whose public half must equal the caller's long-term identity. forgingPub
// is the public half of a separate, unrelated keypair whose private half
// the caller intends to publish later.
func NewClientProfile(group primitives.Group, signerPriv primitives.Scalar, forgingPub primitives.Element, instanceTag uint32, versions []byte, expiry time.Time) (ClientProfile, error) {
	if instanceTag < minValidInstanceTag {
		return ClientProfile{}, otr4err.New(otr4err.InvalidParameter, "profile.NewClientProfile", "instance tag below the valid range")
	}
	if len(versions) == 0 {
		return ClientProfile{}, otr4err.New(otr4err.InvalidParameter, "profile.NewClientProfile", "at least one supported version is required")
	}

	pub := group.ScalarBaseMult(signerPriv)
	p := ClientProfile{
		InstanceTag: instanceTag,
		LongTermPub: pub,
		ForgingPub:  forgingPub,
		Versions:    append([]byte(nil), versions...),
		Expiry:      expiry,
	}
	p.Signature = group.Sign(signerPriv, p.encode(group))
	return p, nil
}

// minValidInstanceTag is the smallest instance tag the protocol considers
// valid; tags below this are reserved.
const minValidInstanceTag = 0x00000100

// Verify checks the profile's signature and that it has not expired, with
// grace extending acceptance past Expiry to tolerate clock skew between
// peers.
func (p ClientProfile) Verify(group primitives.Group, now time.Time, grace time.Duration) error {
	if !group.Verify(p.LongTermPub, p.encode(group), p.Signature) {
		return otr4err.New(otr4err.AuthenticationFailed, "ClientProfile.Verify", "signature does not verify")
	}
	if now.After(p.Expiry.Add(grace)) {
		return otr4err.New(otr4err.Expired, "ClientProfile.Verify", "client profile has expired")
	}
	supportsV4 := false
	for _, v := range p.Versions {
		if v == 4 {
			supportsV4 = true
			break
		}
	}
	if !supportsV4 {
		return otr4err.New(otr4err.ProtocolViolation, "ClientProfile.Verify", "profile does not advertise version 4")
	}
	return nil
}

// Marshal serializes p for transmission, including its signature — unlike
// encode, which produces only the bytes the signature covers.
func (p ClientProfile) Marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteData(p.encode(group))
	w.WriteData(p.Signature)
	return w.Bytes()
}

// UnmarshalClientProfile parses a ClientProfile produced by Marshal. The
// caller must still call Verify before trusting the result.
func UnmarshalClientProfile(group primitives.Group, r *wire.Reader) (ClientProfile, error) {
	body, err := r.ReadData()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	sig, err := r.ReadData()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}

	br := wire.NewReader(body)
	instanceTag, err := br.ReadUint32()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	pubBytes, err := br.ReadData()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	pub, err := group.DecodeElement(pubBytes)
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	forgingBytes, err := br.ReadData()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	forgingPub, err := group.DecodeElement(forgingBytes)
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	versions, err := br.ReadData()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}
	expiry, err := br.ReadUint32()
	if err != nil {
		return ClientProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalClientProfile", err)
	}

	return ClientProfile{
		InstanceTag: instanceTag,
		LongTermPub: pub,
		ForgingPub:  forgingPub,
		Versions:    versions,
		Expiry:      time.Unix(int64(expiry), 0).UTC(),
		Signature:   sig,
	}, nil
}

// Marshal serializes p for transmission, including its signature.
func (p PrekeyProfile) Marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteData(p.encode(group))
	w.WriteData(p.Signature)
	return w.Bytes()
}

// UnmarshalPrekeyProfile parses a PrekeyProfile produced by Marshal. The
// caller must still call Verify before trusting the result.
func UnmarshalPrekeyProfile(group primitives.Group, r *wire.Reader) (PrekeyProfile, error) {
	body, err := r.ReadData()
	if err != nil {
		return PrekeyProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyProfile", err)
	}
	sig, err := r.ReadData()
	if err != nil {
		return PrekeyProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyProfile", err)
	}

	br := wire.NewReader(body)
	instanceTag, err := br.ReadUint32()
	if err != nil {
		return PrekeyProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyProfile", err)
	}
	pubBytes, err := br.ReadData()
	if err != nil {
		return PrekeyProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyProfile", err)
	}
	pub, err := group.DecodeElement(pubBytes)
	if err != nil {
		return PrekeyProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyProfile", err)
	}
	expiry, err := br.ReadUint32()
	if err != nil {
		return PrekeyProfile{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyProfile", err)
	}

	return PrekeyProfile{
		InstanceTag:  instanceTag,
		SharedPrekey: pub,
		Expiry:       time.Unix(int64(expiry), 0).UTC(),
		Signature:    sig,
	}, nil
}

// PrekeyProfile is a medium-term record binding a shared (non-one-time)
// prekey to a Client's long-term identity, refreshed on its own schedule
// independent of individual PrekeyMessages.
type PrekeyProfile struct {
	InstanceTag  uint32
	SharedPrekey primitives.Element
	Expiry       time.Time
	Signature    []byte
}

func (p PrekeyProfile) encode(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteUint32(p.InstanceTag)
	w.WriteData(group.EncodeElement(p.SharedPrekey))
	w.WriteUint32(uint32(p.Expiry.Unix()))
	return w.Bytes()
}

// NewPrekeyProfile builds and signs a PrekeyProfile under signerPriv (the
// same long-term key that signs the owning ClientProfile).
func NewPrekeyProfile(group primitives.Group, signerPriv primitives.Scalar, instanceTag uint32, sharedPrekey primitives.Element, expiry time.Time) (PrekeyProfile, error) {
	if instanceTag < minValidInstanceTag {
		return PrekeyProfile{}, otr4err.New(otr4err.InvalidParameter, "profile.NewPrekeyProfile", "instance tag below the valid range")
	}
	p := PrekeyProfile{
		InstanceTag:  instanceTag,
		SharedPrekey: sharedPrekey,
		Expiry:       expiry,
	}
	p.Signature = group.Sign(signerPriv, p.encode(group))
	return p, nil
}

// Verify checks the profile's signature (under the owning ClientProfile's
// long-term public key) and expiry.
func (p PrekeyProfile) Verify(group primitives.Group, longTermPub primitives.Element, now time.Time, grace time.Duration) error {
	if !group.Verify(longTermPub, p.encode(group), p.Signature) {
		return otr4err.New(otr4err.AuthenticationFailed, "PrekeyProfile.Verify", "signature does not verify")
	}
	if now.After(p.Expiry.Add(grace)) {
		return otr4err.New(otr4err.Expired, "PrekeyProfile.Verify", "prekey profile has expired")
	}
	return nil
}

// PrekeyMessage is a single one-time prekey a Client has published for
// non-interactive DAKEs, identified by a monotonically unique id for the
// life of the Client.
type PrekeyMessage struct {
	ID          uint32
	InstanceTag uint32
	Ephemeral   primitives.Element
}

// Marshal serializes m for transmission.
func (m PrekeyMessage) Marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteUint32(m.ID)
	w.WriteUint32(m.InstanceTag)
	w.WriteData(group.EncodeElement(m.Ephemeral))
	return w.Bytes()
}

// UnmarshalPrekeyMessage parses a PrekeyMessage produced by Marshal.
func UnmarshalPrekeyMessage(group primitives.Group, r *wire.Reader) (PrekeyMessage, error) {
	id, err := r.ReadUint32()
	if err != nil {
		return PrekeyMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyMessage", err)
	}
	instanceTag, err := r.ReadUint32()
	if err != nil {
		return PrekeyMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyMessage", err)
	}
	ephBytes, err := r.ReadData()
	if err != nil {
		return PrekeyMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyMessage", err)
	}
	eph, err := group.DecodeElement(ephBytes)
	if err != nil {
		return PrekeyMessage{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyMessage", err)
	}
	return PrekeyMessage{ID: id, InstanceTag: instanceTag, Ephemeral: eph}, nil
}

// PrekeyEnsemble is the value a non-interactive DAKE initiator fetches (or
// a responder assembles) to authenticate against: a peer's ClientProfile,
// PrekeyProfile, and one PrekeyMessage drawn from its pool.
type PrekeyEnsemble struct {
	ClientProfile ClientProfile
	PrekeyProfile PrekeyProfile
	PrekeyMessage PrekeyMessage
}

// Verify checks every component of the ensemble: the ClientProfile's own
// signature and expiry, the PrekeyProfile's signature against the
// ClientProfile's long-term key, and that the two share the same instance
// tag as the PrekeyMessage.
func (e PrekeyEnsemble) Verify(group primitives.Group, now time.Time, grace time.Duration) error {
	if err := e.ClientProfile.Verify(group, now, grace); err != nil {
		return err
	}
	if err := e.PrekeyProfile.Verify(group, e.ClientProfile.LongTermPub, now, grace); err != nil {
		return err
	}
	if e.ClientProfile.InstanceTag != e.PrekeyProfile.InstanceTag || e.ClientProfile.InstanceTag != e.PrekeyMessage.InstanceTag {
		return otr4err.New(otr4err.ProtocolViolation, "PrekeyEnsemble.Verify", "instance tag mismatch across ensemble")
	}
	return nil
}

// Marshal serializes e for transmission.
func (e PrekeyEnsemble) Marshal(group primitives.Group) []byte {
	w := wire.NewWriter()
	w.WriteData(e.ClientProfile.Marshal(group))
	w.WriteData(e.PrekeyProfile.Marshal(group))
	w.WriteData(e.PrekeyMessage.Marshal(group))
	return w.Bytes()
}

// UnmarshalPrekeyEnsemble parses a PrekeyEnsemble produced by Marshal.
func UnmarshalPrekeyEnsemble(group primitives.Group, r *wire.Reader) (PrekeyEnsemble, error) {
	cpBytes, err := r.ReadData()
	if err != nil {
		return PrekeyEnsemble{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyEnsemble", err)
	}
	cp, err := UnmarshalClientProfile(group, wire.NewReader(cpBytes))
	if err != nil {
		return PrekeyEnsemble{}, err
	}
	ppBytes, err := r.ReadData()
	if err != nil {
		return PrekeyEnsemble{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyEnsemble", err)
	}
	pp, err := UnmarshalPrekeyProfile(group, wire.NewReader(ppBytes))
	if err != nil {
		return PrekeyEnsemble{}, err
	}
	pmBytes, err := r.ReadData()
	if err != nil {
		return PrekeyEnsemble{}, otr4err.Wrap(otr4err.ProtocolViolation, "profile.UnmarshalPrekeyEnsemble", err)
	}
	pm, err := UnmarshalPrekeyMessage(group, wire.NewReader(pmBytes))
	if err != nil {
		return PrekeyEnsemble{}, err
	}
	return PrekeyEnsemble{ClientProfile: cp, PrekeyProfile: pp, PrekeyMessage: pm}, nil
}

// PrekeyMessagePool manages a Client's own outstanding PrekeyMessages
// against minimum/maximum stock policy, handing out unique ids for the
// life of the Client via a monotonic counter.
type PrekeyMessagePool struct {
	group       primitives.Group
	instanceTag uint32
	nextID      uint32
	minStock    int
	maxStock    int
	messages    map[uint32]PrekeyMessage
	privs       map[uint32]primitives.Scalar
}

// NewPrekeyMessagePool returns an empty pool for instanceTag enforcing
// [minStock, maxStock] published messages.
func NewPrekeyMessagePool(group primitives.Group, instanceTag uint32, minStock, maxStock int) (*PrekeyMessagePool, error) {
	if minStock < 0 || maxStock < minStock {
		return nil, otr4err.New(otr4err.InvalidParameter, "profile.NewPrekeyMessagePool", "invalid stock bounds")
	}
	return &PrekeyMessagePool{
		group:       group,
		instanceTag: instanceTag,
		nextID:      1,
		minStock:    minStock,
		maxStock:    maxStock,
		messages:    make(map[uint32]PrekeyMessage),
		privs:       make(map[uint32]primitives.Scalar),
	}, nil
}

// Len reports how many PrekeyMessages are currently published.
func (p *PrekeyMessagePool) Len() int { return len(p.messages) }

// NeedsReplenishing reports whether the pool has fallen below minStock.
func (p *PrekeyMessagePool) NeedsReplenishing() bool { return p.Len() < p.minStock }

// Generate publishes one fresh PrekeyMessage if the pool has room, or
// fails with OutOfResource if maxStock has already been reached.
func (p *PrekeyMessagePool) Generate(rand func() (primitives.Scalar, error)) (PrekeyMessage, error) {
	if p.Len() >= p.maxStock {
		return PrekeyMessage{}, otr4err.New(otr4err.OutOfResource, "PrekeyMessagePool.Generate", "prekey message stock already at maximum")
	}
	priv, err := rand()
	if err != nil {
		return PrekeyMessage{}, otr4err.Wrap(otr4err.Internal, "PrekeyMessagePool.Generate", err)
	}

	id := p.nextID
	p.nextID++

	msg := PrekeyMessage{
		ID:          id,
		InstanceTag: p.instanceTag,
		Ephemeral:   p.group.ScalarBaseMult(priv),
	}
	p.messages[id] = msg
	p.privs[id] = priv
	return msg, nil
}

// Consume removes and returns the private ephemeral scalar backing id, so
// it is used at most once in a non-interactive DAKE. It fails with
// ProtocolViolation if id is unknown or already consumed.
func (p *PrekeyMessagePool) Consume(id uint32) (primitives.Scalar, error) {
	priv, ok := p.privs[id]
	if !ok {
		return nil, otr4err.New(otr4err.ProtocolViolation, "PrekeyMessagePool.Consume", "unknown or already-consumed prekey message id")
	}
	delete(p.privs, id)
	delete(p.messages, id)
	return priv, nil
}

// Published returns a snapshot of every currently published PrekeyMessage,
// for the host to hand to a prekey server.
func (p *PrekeyMessagePool) Published() []PrekeyMessage {
	out := make([]PrekeyMessage, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m)
	}
	return out
}
