package otr4

import (
	"bytes"
	"crypto/rand"
	"sync"
	"time"

	"otr4/internal/fingerprint"
	"otr4/internal/fragment"
	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/profile"
	"otr4/internal/ratchet"
	"otr4/internal/rsig"
	"otr4/internal/smp"
	"otr4/internal/wire"
)

// dakeState enumerates a Conversation's position in the handshake, the
// DAKE-layer analogue of §4's AKE states.
type dakeState int

const (
	stateStart dakeState = iota
	stateWaitingAuthR
	stateWaitingAuthI
	stateEncrypted
	stateFinished
)

// fragmentSenderKey is the constant senderTag passed to Reassembler.Feed.
// Feed uses it only to keep two fragment streams from colliding in the
// same map; since every Conversation owns its own Reassembler, scoped to
// exactly one peer, that isolation already holds regardless of the value
// supplied here.
const fragmentSenderKey = 0

// Conversation tracks one peer's DAKE handshake and, once established,
// its Double Ratchet session. All exported behavior is reached through
// Client; a Conversation is only ever touched while holding mu.
type Conversation struct {
	client *Client
	peer   string

	mu    sync.Mutex
	state dakeState

	ourInstanceTag   uint32
	theirInstanceTag uint32

	ourEphPriv primitives.Scalar
	ourEphPub  primitives.Element
	ourDH      *ratchet.DHKeyPair

	theirEph     ephemeral
	theirProfile profile.ClientProfile

	ratchetState *ratchet.State

	smpSession  *smp.Session
	pendingSMP1 *smp.Message1

	reassembler *fragment.Reassembler

	initialQueryMessage string
	lastSent            time.Time
}

func newConversation(cl *Client, peer string) *Conversation {
	return &Conversation{
		client:         cl,
		peer:           peer,
		state:          stateStart,
		ourInstanceTag: cl.cfg.InstanceTag,
		smpSession:     smp.NewSession(cl.backend.Group),
		reassembler:    fragment.NewReassembler(cl.cfg.InstanceTag),
	}
}

// freshEphemeral samples a new ECDH scalar/point and classical DH keypair,
// the per-DAKE-message contribution §4.2 calls for.
func (c *Conversation) freshEphemeral() (primitives.Scalar, primitives.Element, *ratchet.DHKeyPair, error) {
	group := c.client.backend.Group
	priv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		return nil, nil, nil, otr4err.Wrap(otr4err.OutOfResource, "otr4.Conversation.freshEphemeral", err)
	}
	pub := group.ScalarBaseMult(priv)

	dhPriv, err := c.client.modp.GeneratePrivate()
	if err != nil {
		return nil, nil, nil, otr4err.Wrap(otr4err.OutOfResource, "otr4.Conversation.freshEphemeral", err)
	}
	dh := &ratchet.DHKeyPair{Priv: dhPriv, Pub: c.client.modp.Public(dhPriv)}

	return priv, pub, dh, nil
}

// deliver hands payload to the transport, splitting it into fragment
// frames first when it would not fit in a single transport message.
func (c *Conversation) deliver(payload string) error {
	if c.client.cfg.FragmentMaxSize <= 0 || len(payload) <= c.client.cfg.FragmentMaxSize {
		c.client.cb.InjectMessage(c.peer, []byte(payload))
		return nil
	}
	pieces, err := fragment.Split(payload, c.client.cfg.FragmentMaxSize, c.ourInstanceTag, c.theirInstanceTag)
	if err != nil {
		return err
	}
	for _, p := range pieces {
		c.client.cb.InjectMessage(c.peer, []byte(p))
	}
	return nil
}

// startDAKE sends the opening Identity message, recording initialQuery (if
// any) so it folds into phi per §6.
func (c *Conversation) startDAKE(initialQuery string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendIdentity(initialQuery)
}

// sendIdentity builds and delivers a fresh Identity message, transitioning
// to WAITING_AUTH_R. Assumes c.mu is held.
func (c *Conversation) sendIdentity(initialQuery string) error {
	priv, pub, dh, err := c.freshEphemeral()
	if err != nil {
		return err
	}
	c.ourEphPriv, c.ourEphPub, c.ourDH = priv, pub, dh
	c.initialQueryMessage = initialQuery

	c.state = stateWaitingAuthR
	return c.resendIdentity()
}

// resendIdentity re-delivers an Identity message built from the ephemeral
// already stored on c, without generating new key material. Used both by
// sendIdentity's initial send and by the simultaneous-DAKE tie-break, which
// must retain state and reply with the Identity our peer's Auth-R transcript
// was built against. Assumes c.mu is held.
func (c *Conversation) resendIdentity() error {
	msg := identityMessage{
		senderInstanceTag:   c.ourInstanceTag,
		receiverInstanceTag: c.theirInstanceTag,
		senderProfile:       c.client.profile,
		eph:                 ephemeral{ecdhPub: c.ourEphPub, dhPub: c.ourDH.Pub},
	}
	return c.deliver(wire.WrapEnvelope(msg.marshal(c.client.backend.Group)))
}

// handleIdentity dispatches an inbound Identity message per state. Assumes
// c.mu is held.
func (c *Conversation) handleIdentity(msg identityMessage) error {
	group := c.client.backend.Group

	switch c.state {
	case stateWaitingAuthR:
		// Simultaneous DAKE: both parties sent Identity. Break the tie by
		// comparing ephemeral ECDH public keys; the side whose own
		// ephemeral is lexicographically smaller becomes the Auth-R
		// sender (responder), the other retains its state and resends
		// its existing Identity unchanged so the responder's transcript
		// still matches what it already signed.
		ours := group.EncodeElement(c.ourEphPub)
		theirs := group.EncodeElement(msg.eph.ecdhPub)
		if bytes.Compare(theirs, ours) > 0 {
			return c.replyWithAuthR(msg)
		}
		return c.resendIdentity()

	case stateWaitingAuthI:
		// A duplicate/retransmitted Identity while we're already waiting
		// on Auth-I: derive fresh ephemerals and resend Auth-R, staying
		// in WAITING_AUTH_I.
		return c.replyWithAuthR(msg)

	default:
		return c.replyWithAuthR(msg)
	}
}

// replyWithAuthR verifies identity's Client Profile, builds the DAKE
// transcript, signs it as Auth-R, and transitions to WAITING_AUTH_I.
// Assumes c.mu is held.
func (c *Conversation) replyWithAuthR(identity identityMessage) error {
	group := c.client.backend.Group

	if err := identity.senderProfile.Verify(group, time.Now(), c.client.cfg.ProfileGrace); err != nil {
		return err
	}

	priv, pub, dh, err := c.freshEphemeral()
	if err != nil {
		return err
	}
	c.ourEphPriv, c.ourEphPub, c.ourDH = priv, pub, dh
	c.theirEph = identity.eph
	c.theirProfile = identity.senderProfile
	c.theirInstanceTag = identity.senderInstanceTag

	fp := fingerprint.FromKeyBytes(group.EncodeElement(identity.senderProfile.LongTermPub))
	isNew, ferr := c.client.fpStore.Seen(c.peer, fp)
	if ferr == nil {
		c.client.cb.FingerprintSeen(c.peer, fp, isNew)
	}

	phiBytes := phi(c.ourInstanceTag, c.theirInstanceTag, c.client.cb.GetSharedSessionState(c.peer), c.initialQueryMessage)
	ourEph := ephemeral{ecdhPub: pub, dhPub: dh.Pub}
	transcript := dakeTranscript(group, identity.senderProfile, identity.eph, c.client.profile, ourEph, phiBytes)

	ring := ringFor3(c.client.longTermPub, c.client.forgingPub, identity.senderProfile.LongTermPub)
	sigma, err := rsig.Authenticate(group, usageAuthR, ringDomain, c.client.longTermPriv, c.client.longTermPub, ring, transcript)
	if err != nil {
		return err
	}

	msg := authRMessage{
		senderInstanceTag:   c.ourInstanceTag,
		receiverInstanceTag: c.theirInstanceTag,
		senderProfile:       c.client.profile,
		eph:                 ourEph,
		sigma:               sigma,
	}
	c.state = stateWaitingAuthI
	return c.deliver(wire.WrapEnvelope(msg.marshal(group, groupElementLen)))
}

// handleAuthR verifies an inbound Auth-R message, replies with Auth-I, and
// primes the ratchet as Responder. Assumes c.mu is held.
func (c *Conversation) handleAuthR(msg authRMessage) error {
	if msg.receiverInstanceTag != 0 && msg.receiverInstanceTag != c.ourInstanceTag {
		return nil
	}
	if c.state != stateWaitingAuthR {
		return otr4err.New(otr4err.ProtocolViolation, "otr4.Conversation.handleAuthR", "unexpected Auth-R message")
	}

	group := c.client.backend.Group
	if err := msg.senderProfile.Verify(group, time.Now(), c.client.cfg.ProfileGrace); err != nil {
		return err
	}

	c.theirProfile = msg.senderProfile
	c.theirEph = msg.eph
	c.theirInstanceTag = msg.senderInstanceTag

	phiBytes := phi(c.ourInstanceTag, c.theirInstanceTag, c.client.cb.GetSharedSessionState(c.peer), c.initialQueryMessage)
	ourEph := ephemeral{ecdhPub: c.ourEphPub, dhPub: c.ourDH.Pub}
	transcript := dakeTranscript(group, c.client.profile, ourEph, msg.senderProfile, msg.eph, phiBytes)

	verifyRing := ringFor3(msg.senderProfile.LongTermPub, msg.senderProfile.ForgingPub, c.client.longTermPub)
	if !rsig.Verify(group, usageAuthR, ringDomain, verifyRing, transcript, msg.sigma) {
		return otr4err.New(otr4err.AuthenticationFailed, "otr4.Conversation.handleAuthR", "Auth-R ring signature does not verify")
	}

	fp := fingerprint.FromKeyBytes(group.EncodeElement(msg.senderProfile.LongTermPub))
	isNew, ferr := c.client.fpStore.Seen(c.peer, fp)
	if ferr == nil {
		c.client.cb.FingerprintSeen(c.peer, fp, isNew)
	}

	ourRing := ringFor3(c.client.longTermPub, c.client.forgingPub, msg.senderProfile.LongTermPub)
	sigma, err := rsig.Authenticate(group, usageAuthI, ringDomain, c.client.longTermPriv, c.client.longTermPub, ourRing, transcript)
	if err != nil {
		return err
	}

	secret := combinedSharedSecret(c.client.backend, c.client.modp, c.ourEphPriv, msg.eph.ecdhPub, c.ourDH.Priv, msg.eph.dhPub)
	rootKey := ratchet.DeriveRootKey(c.client.backend.KDF, secret)
	c.ratchetState = ratchet.InitAsResponder(c.client.backend, c.client.modp, rootKey, c.ourEphPriv, c.ourDH, c.client.cfg.MaxStoredMsgKeys)

	authI := authIMessage{
		senderInstanceTag:   c.ourInstanceTag,
		receiverInstanceTag: c.theirInstanceTag,
		sigma:               sigma,
	}
	c.state = stateEncrypted
	c.client.cb.GoneSecure(c.peer)

	return c.deliver(wire.WrapEnvelope(authI.marshal(group)))
}

// handleAuthI verifies the final DAKE message and primes the ratchet as
// Initiator. Assumes c.mu is held.
func (c *Conversation) handleAuthI(msg authIMessage) error {
	if msg.receiverInstanceTag != 0 && msg.receiverInstanceTag != c.ourInstanceTag {
		return nil
	}
	if c.state != stateWaitingAuthI {
		return otr4err.New(otr4err.ProtocolViolation, "otr4.Conversation.handleAuthI", "unexpected Auth-I message")
	}

	group := c.client.backend.Group

	phiBytes := phi(c.ourInstanceTag, c.theirInstanceTag, c.client.cb.GetSharedSessionState(c.peer), c.initialQueryMessage)
	ourEph := ephemeral{ecdhPub: c.ourEphPub, dhPub: c.ourDH.Pub}
	transcript := dakeTranscript(group, c.theirProfile, c.theirEph, c.client.profile, ourEph, phiBytes)

	ring := ringFor3(c.theirProfile.LongTermPub, c.theirProfile.ForgingPub, c.client.longTermPub)
	if !rsig.Verify(group, usageAuthI, ringDomain, ring, transcript, msg.sigma) {
		return otr4err.New(otr4err.AuthenticationFailed, "otr4.Conversation.handleAuthI", "Auth-I ring signature does not verify")
	}

	secret := combinedSharedSecret(c.client.backend, c.client.modp, c.ourEphPriv, c.theirEph.ecdhPub, c.ourDH.Priv, c.theirEph.dhPub)
	rootKey := ratchet.DeriveRootKey(c.client.backend.KDF, secret)
	ratchetState, err := ratchet.InitAsInitiator(c.client.backend, c.client.modp, rootKey, c.ourDH, c.theirEph.ecdhPub, c.theirEph.dhPub, c.client.cfg.MaxStoredMsgKeys)
	if err != nil {
		return err
	}
	c.ratchetState = ratchetState

	c.state = stateEncrypted
	c.client.cb.GoneSecure(c.peer)
	return nil
}

// startNonInteractive runs a one-message DAKE against a peer's published
// PrekeyEnsemble and immediately encrypts message into the same envelope.
func (c *Conversation) startNonInteractive(ensemble profile.PrekeyEnsemble, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	group := c.client.backend.Group
	if err := ensemble.Verify(group, time.Now(), c.client.cfg.ProfileGrace); err != nil {
		return err
	}

	priv, pub, dh, err := c.freshEphemeral()
	if err != nil {
		return err
	}
	c.ourEphPriv, c.ourEphPub, c.ourDH = priv, pub, dh
	c.theirProfile = ensemble.ClientProfile
	c.theirInstanceTag = ensemble.ClientProfile.InstanceTag
	c.theirEph = ephemeral{ecdhPub: ensemble.PrekeyMessage.Ephemeral}

	phiBytes := phi(c.ourInstanceTag, c.theirInstanceTag, c.client.cb.GetSharedSessionState(c.peer), "")
	ourEph := ephemeral{ecdhPub: pub, dhPub: dh.Pub}
	theirEph := ephemeral{ecdhPub: ensemble.PrekeyMessage.Ephemeral}
	transcript := dakeTranscript(group, c.client.profile, ourEph, ensemble.ClientProfile, theirEph, phiBytes)

	ring := ringFor3(c.client.longTermPub, c.client.forgingPub, ensemble.ClientProfile.LongTermPub)
	sigma, err := rsig.Authenticate(group, usageNIAuth, ringDomain, c.client.longTermPriv, c.client.longTermPub, ring, transcript)
	if err != nil {
		return err
	}

	// No classical-DH term here: a PrekeyMessage/PrekeyProfile only ever
	// publishes a ristretto255 contribution, so the root key mixes two
	// ECDH outputs against the peer's one-time and shared prekeys instead
	// of the interactive DAKE's ECDH+DH pair.
	secret := group.ScalarMult(priv, ensemble.PrekeyMessage.Ephemeral).Bytes()
	secret = append(secret, group.ScalarMult(priv, ensemble.PrekeyProfile.SharedPrekey).Bytes()...)
	rootKey := ratchet.DeriveRootKey(c.client.backend.KDF, secret)

	ratchetState, err := ratchet.InitAsInitiator(c.client.backend, c.client.modp, rootKey, dh, ensemble.PrekeyMessage.Ephemeral, nil, c.client.cfg.MaxStoredMsgKeys)
	if err != nil {
		return err
	}
	c.ratchetState = ratchetState
	c.state = stateEncrypted
	c.client.cb.GoneSecure(c.peer)

	niMsg := nonInteractiveAuthMessage{
		senderInstanceTag:   c.ourInstanceTag,
		receiverInstanceTag: c.theirInstanceTag,
		senderProfile:       c.client.profile,
		eph:                 ourEph,
		prekeyMessageID:     ensemble.PrekeyMessage.ID,
		sigma:               sigma,
	}
	if err := c.deliver(wire.WrapEnvelope(niMsg.marshal(group))); err != nil {
		return err
	}

	return c.sendLocked(message, nil)
}

// handleNonInteractiveAuth completes a non-interactive DAKE on the
// responder side, consuming the one-time PrekeyMessage the initiator
// authenticated against. Assumes c.mu is held.
func (c *Conversation) handleNonInteractiveAuth(msg nonInteractiveAuthMessage) error {
	if msg.receiverInstanceTag != 0 && msg.receiverInstanceTag != c.ourInstanceTag {
		return nil
	}
	if c.state != stateStart {
		return otr4err.New(otr4err.ProtocolViolation, "otr4.Conversation.handleNonInteractiveAuth", "conversation already has a DAKE in progress")
	}

	group := c.client.backend.Group
	if err := msg.senderProfile.Verify(group, time.Now(), c.client.cfg.ProfileGrace); err != nil {
		return err
	}

	c.client.mu.Lock()
	prekeyPriv, err := c.client.prekeyPool.Consume(msg.prekeyMessageID)
	c.client.mu.Unlock()
	if err != nil {
		return err
	}

	c.theirProfile = msg.senderProfile
	c.theirEph = msg.eph
	c.theirInstanceTag = msg.senderInstanceTag

	phiBytes := phi(c.ourInstanceTag, c.theirInstanceTag, c.client.cb.GetSharedSessionState(c.peer), "")
	ourEph := ephemeral{ecdhPub: group.ScalarBaseMult(prekeyPriv)}
	transcript := dakeTranscript(group, msg.senderProfile, msg.eph, c.client.profile, ourEph, phiBytes)

	ring := ringFor3(msg.senderProfile.LongTermPub, msg.senderProfile.ForgingPub, c.client.longTermPub)
	if !rsig.Verify(group, usageNIAuth, ringDomain, ring, transcript, msg.sigma) {
		return otr4err.New(otr4err.AuthenticationFailed, "otr4.Conversation.handleNonInteractiveAuth", "non-interactive Auth ring signature does not verify")
	}

	fp := fingerprint.FromKeyBytes(group.EncodeElement(msg.senderProfile.LongTermPub))
	isNew, ferr := c.client.fpStore.Seen(c.peer, fp)
	if ferr == nil {
		c.client.cb.FingerprintSeen(c.peer, fp, isNew)
	}

	secret := group.ScalarMult(prekeyPriv, msg.eph.ecdhPub).Bytes()
	secret = append(secret, group.ScalarMult(c.client.sharedPrekeyPriv, msg.eph.ecdhPub).Bytes()...)
	rootKey := ratchet.DeriveRootKey(c.client.backend.KDF, secret)
	c.ratchetState = ratchet.InitAsResponder(c.client.backend, c.client.modp, rootKey, prekeyPriv, nil, c.client.cfg.MaxStoredMsgKeys)

	c.state = stateEncrypted
	c.client.cb.GoneSecure(c.peer)
	return nil
}

// send encrypts message+tlvs and delivers it. Fails with NotEncrypted
// outside ENCRYPTED_MESSAGES.
func (c *Conversation) send(message []byte, tlvs []wire.TLV) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(message, tlvs)
}

// sendLocked is send's body; assumes c.mu is held.
func (c *Conversation) sendLocked(message []byte, tlvs []wire.TLV) error {
	if c.state != stateEncrypted {
		return otr4err.New(otr4err.NotEncrypted, "otr4.Conversation.send", "conversation is not encrypted")
	}

	plaintext := encodePlaintext(message, tlvs, c.client.cfg.Padding)
	header, ct, revealed, err := c.ratchetState.Encrypt(plaintext, nil)
	if err != nil {
		return err
	}

	msg := dataMessage{
		senderInstanceTag:   c.ourInstanceTag,
		receiverInstanceTag: c.theirInstanceTag,
		header:              header,
		ciphertext:          ct,
		revealedMACKeys:     revealed,
	}
	c.lastSent = time.Now()
	return c.deliver(wire.WrapEnvelope(msg.marshal()))
}

// handleData decrypts an inbound data message, dispatches any TLVs it
// carries, and replies in kind if those TLVs call for it. Assumes c.mu is
// held.
func (c *Conversation) handleData(msg dataMessage) (display []byte, ignore bool, err error) {
	if msg.receiverInstanceTag != 0 && msg.receiverInstanceTag != c.ourInstanceTag {
		return nil, true, nil
	}
	if c.state != stateEncrypted {
		return nil, false, otr4err.New(otr4err.NotEncrypted, "otr4.Conversation.handleData", "received data message before DAKE completed")
	}

	plaintext, err := c.ratchetState.Decrypt(msg.header, nil, msg.ciphertext)
	if err != nil {
		return nil, false, err
	}

	display, tlvs, err := decodePlaintext(plaintext)
	if err != nil {
		return nil, false, err
	}

	group := c.client.backend.Group
	var replyTLVs []wire.TLV

	for _, t := range tlvs {
		switch t.Type {
		case tlvDisconnect:
			c.state = stateFinished
			if c.ratchetState != nil {
				c.ratchetState.Close()
			}
			c.client.cb.GoneInsecure(c.peer)

		case smp.TLVSMP1, smp.TLVSMP1Q:
			m1, uerr := unmarshalSMP1(group, groupElementLen, groupElementLen, t.Value)
			if uerr != nil {
				return display, false, uerr
			}
			c.pendingSMP1 = &m1
			if t.Type == smp.TLVSMP1Q {
				c.client.cb.SMPAskForAnswer(c.peer, m1.Question)
			} else {
				c.client.cb.SMPAskForSecret(c.peer)
			}

		case smp.TLVSMP2:
			m2, uerr := unmarshalSMP2(group, groupElementLen, groupElementLen, t.Value)
			if uerr != nil {
				return display, false, uerr
			}
			m3, serr := c.smpSession.Continue(m2)
			if serr != nil {
				c.client.cb.SMPUpdate(c.peer, "failed", 75)
				replyTLVs = append(replyTLVs, wire.TLV{Type: smp.TLVSMPAbort})
				break
			}
			c.client.cb.SMPUpdate(c.peer, "in-progress", 75)
			replyTLVs = append(replyTLVs, wire.TLV{Type: smp.TLVSMP3, Value: marshalSMP3(group, m3)})

		case smp.TLVSMP3:
			m3, uerr := unmarshalSMP3(group, groupElementLen, groupElementLen, t.Value)
			if uerr != nil {
				return display, false, uerr
			}
			m4, ok, serr := c.smpSession.Finish(m3)
			if serr != nil {
				c.client.cb.SMPUpdate(c.peer, "failed", 100)
				replyTLVs = append(replyTLVs, wire.TLV{Type: smp.TLVSMPAbort})
				break
			}
			status := "succeeded"
			if !ok {
				status = "failed"
			}
			c.client.cb.SMPUpdate(c.peer, status, 100)
			replyTLVs = append(replyTLVs, wire.TLV{Type: smp.TLVSMP4, Value: marshalSMP4(group, m4)})

		case smp.TLVSMP4:
			m4, uerr := unmarshalSMP4(group, groupElementLen, groupElementLen, t.Value)
			if uerr != nil {
				return display, false, uerr
			}
			ok, serr := c.smpSession.Conclude(m4)
			status := "succeeded"
			if serr != nil || !ok {
				status = "failed"
			}
			c.client.cb.SMPUpdate(c.peer, status, 100)

		case smp.TLVSMPAbort:
			c.smpSession.Abort()
			c.pendingSMP1 = nil
			c.client.cb.SMPUpdate(c.peer, "aborted", 0)
		}
	}

	if len(replyTLVs) > 0 {
		if serr := c.sendLocked(nil, replyTLVs); serr != nil {
			return display, false, serr
		}
	}

	if len(display) == 0 {
		return nil, false, nil
	}
	return display, false, nil
}

// disconnect sends a disconnect TLV (if the Conversation is encrypted)
// and retires the ratchet, regardless of whether the send succeeds.
func (c *Conversation) disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateEncrypted {
		c.state = stateFinished
		return nil
	}

	err := c.sendLocked(nil, []wire.TLV{{Type: tlvDisconnect}})
	c.state = stateFinished
	if c.ratchetState != nil {
		c.ratchetState.Close()
	}
	c.client.cb.GoneInsecure(c.peer)
	return err
}

// smpStart begins an SMP exchange as the initiator.
func (c *Conversation) smpStart(question string, secret []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateEncrypted {
		return otr4err.New(otr4err.NotEncrypted, "otr4.Conversation.smpStart", "conversation is not encrypted")
	}

	m1, err := c.smpSession.Start(question, secret)
	if err != nil {
		return err
	}

	group := c.client.backend.Group
	tlvType := smp.TLVSMP1
	if question != "" {
		tlvType = smp.TLVSMP1Q
	}
	return c.sendLocked(nil, []wire.TLV{{Type: tlvType, Value: marshalSMP1(group, m1)}})
}

// smpRespond answers the pending SMP1 a peer sent.
func (c *Conversation) smpRespond(secret []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingSMP1 == nil {
		return otr4err.New(otr4err.ProtocolViolation, "otr4.Conversation.smpRespond", "no pending SMP request to respond to")
	}

	m2, err := c.smpSession.Respond(*c.pendingSMP1, secret)
	c.pendingSMP1 = nil
	if err != nil {
		return err
	}

	group := c.client.backend.Group
	return c.sendLocked(nil, []wire.TLV{{Type: smp.TLVSMP2, Value: marshalSMP2(group, m2)}})
}

// smpAbort cancels any in-progress SMP exchange and notifies the peer.
func (c *Conversation) smpAbort() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.smpSession.Abort()
	c.pendingSMP1 = nil
	return c.sendLocked(nil, []wire.TLV{{Type: smp.TLVSMPAbort}})
}

// receive is the top-level inbound dispatcher: fragment reassembly, query
// detection, envelope unwrapping, and message-type routing.
func (c *Conversation) receive(raw string) (display []byte, ignore bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fragment.IsFragment(raw) {
		c.reassembler.Expire(c.client.cfg.FragmentExpiry)
		reassembled, complete, ok, ferr := c.reassembler.Feed(raw, fragmentSenderKey)
		if ferr != nil {
			return nil, false, ferr
		}
		if !ok || !complete {
			return nil, true, nil
		}
		raw = reassembled
	}

	if wire.IsQueryMessage(raw) {
		if c.state == stateStart {
			return nil, false, c.sendIdentity(raw)
		}
		return nil, true, nil
	}

	payload, ok, uerr := wire.UnwrapEnvelope(raw)
	if uerr != nil {
		return nil, false, uerr
	}
	if !ok {
		return []byte(raw), false, nil
	}

	r := wire.NewReader(payload)
	if _, verr := r.ReadUint16(); verr != nil {
		return nil, false, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.Conversation.receive", verr)
	}
	msgType, merr := r.ReadUint8()
	if merr != nil {
		return nil, false, otr4err.Wrap(otr4err.ProtocolViolation, "otr4.Conversation.receive", merr)
	}
	body := payload[3:]
	group := c.client.backend.Group

	switch msgType {
	case msgTypeIdentity:
		msg, derr := unmarshalIdentity(group, body)
		if derr != nil {
			return nil, false, derr
		}
		return nil, false, c.handleIdentity(msg)

	case msgTypeAuthR:
		msg, derr := unmarshalAuthR(group, groupElementLen, body)
		if derr != nil {
			return nil, false, derr
		}
		return nil, false, c.handleAuthR(msg)

	case msgTypeAuthI:
		msg, derr := unmarshalAuthI(group, groupElementLen, body)
		if derr != nil {
			return nil, false, derr
		}
		return nil, false, c.handleAuthI(msg)

	case msgTypeData:
		msg, derr := unmarshalDataMessage(body)
		if derr != nil {
			return nil, false, derr
		}
		return c.handleData(msg)

	case msgTypeNonInteractiveAuth:
		msg, derr := unmarshalNonInteractiveAuth(group, body)
		if derr != nil {
			return nil, false, derr
		}
		return nil, false, c.handleNonInteractiveAuth(msg)

	default:
		return nil, false, otr4err.New(otr4err.ProtocolViolation, "otr4.Conversation.receive", "unknown message type")
	}
}
