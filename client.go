package otr4

import (
	"crypto/rand"
	"sync"
	"time"

	"otr4/internal/fingerprint"
	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/primitives/modpbackend"
	"otr4/internal/profile"
	"otr4/internal/wire"
)

// Client is one account's long-term identity and the set of per-peer
// Conversations it is party to. A Client is safe for concurrent use.
type Client struct {
	cfg Config
	cb  Callbacks

	backend primitives.Backend
	modp    *modpbackend.Group

	longTermPriv primitives.Scalar
	longTermPub  primitives.Element
	forgingPriv  primitives.Scalar
	forgingPub   primitives.Element

	sharedPrekeyPriv primitives.Scalar

	profile    profile.ClientProfile
	prekey     profile.PrekeyProfile
	prekeyPool *profile.PrekeyMessagePool

	fpStore fingerprint.Store

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewClient validates cfg, derives the Client's ClientProfile/PrekeyProfile,
// and returns a ready-to-use Client with no established Conversations yet.
func NewClient(cfg Config) (*Client, error) {
	cfg, err := defaultedConfig(cfg)
	if err != nil {
		return nil, err
	}
	cb, err := ensureCallbacksExist(cfg.Callbacks)
	if err != nil {
		return nil, err
	}

	group := cfg.Backend.Group
	longTermPub := group.ScalarBaseMult(cfg.LongTermPriv)
	forgingPub := group.ScalarBaseMult(cfg.ForgingPriv)

	now := time.Now()
	cp, err := profile.NewClientProfile(group, cfg.LongTermPriv, forgingPub, cfg.InstanceTag, cfg.Versions, now.Add(cfg.ProfileLifetime))
	if err != nil {
		return nil, err
	}

	sharedPrekeyPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		return nil, otr4err.Wrap(otr4err.OutOfResource, "otr4.NewClient", err)
	}
	pp, err := profile.NewPrekeyProfile(group, cfg.LongTermPriv, cfg.InstanceTag, group.ScalarBaseMult(sharedPrekeyPriv), now.Add(cfg.ProfileLifetime))
	if err != nil {
		return nil, err
	}

	pool, err := profile.NewPrekeyMessagePool(group, cfg.InstanceTag, cfg.MinPrekeyStock, cfg.MaxPrekeyStock)
	if err != nil {
		return nil, err
	}
	for pool.NeedsReplenishing() {
		if _, err := pool.Generate(func() (primitives.Scalar, error) { return group.GenerateScalar(rand.Reader) }); err != nil {
			break
		}
	}

	return &Client{
		cfg:              cfg,
		cb:               cb,
		backend:          cfg.Backend,
		modp:             modpbackend.Group3072,
		longTermPriv:     cfg.LongTermPriv,
		longTermPub:      longTermPub,
		forgingPriv:      cfg.ForgingPriv,
		forgingPub:       forgingPub,
		sharedPrekeyPriv: sharedPrekeyPriv,
		profile:          cp,
		prekey:           pp,
		prekeyPool:       pool,
		fpStore:          cfg.FingerprintStore,
		conversations:    make(map[string]*Conversation),
	}, nil
}

// Profile returns the Client's current ClientProfile, for publishing to a
// prekey server or host-side directory.
func (cl *Client) Profile() profile.ClientProfile { return cl.profile }

// PrekeyProfile returns the Client's current PrekeyProfile.
func (cl *Client) PrekeyProfile() profile.PrekeyProfile { return cl.prekey }

// PrekeyEnsemble assembles a PrekeyEnsemble for publishing: the Client's
// ClientProfile/PrekeyProfile plus one fresh PrekeyMessage drawn from the
// pool (the caller is responsible for replenishing once stock runs low).
func (cl *Client) PrekeyEnsemble() (profile.PrekeyEnsemble, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	group := cl.backend.Group
	msg, err := cl.prekeyPool.Generate(func() (primitives.Scalar, error) { return group.GenerateScalar(rand.Reader) })
	if err != nil {
		return profile.PrekeyEnsemble{}, err
	}
	return profile.PrekeyEnsemble{ClientProfile: cl.profile, PrekeyProfile: cl.prekey, PrekeyMessage: msg}, nil
}

// conversationFor returns peer's Conversation, creating a fresh one in
// START if none exists yet.
func (cl *Client) conversationFor(peer string) *Conversation {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	conv, ok := cl.conversations[peer]
	if !ok {
		conv = newConversation(cl, peer)
		cl.conversations[peer] = conv
	}
	return conv
}

// QueryMessage returns the out-of-band query token a host embeds in a
// plaintext message to invite peer into a DAKE. Sending it is the host's
// responsibility, same as any other plaintext chat line — it has no
// effect on Conversation state until the peer's reply arrives through
// Receive.
func (cl *Client) QueryMessage(tagline string) string {
	return wire.QueryToken(tagline)
}

// StartDAKE explicitly begins an interactive DAKE with peer, for hosts
// that want to initiate without waiting for an inbound query message.
func (cl *Client) StartDAKE(peer string) error {
	return cl.conversationFor(peer).startDAKE("")
}

// Send encrypts message for peer and hands the wire-ready frame(s) to
// Callbacks.InjectMessage. It fails with NotEncrypted if the Conversation
// has not completed a DAKE.
func (cl *Client) Send(peer string, message []byte) error {
	return cl.conversationFor(peer).send(message, nil)
}

// SendNonInteractive begins a non-interactive DAKE against a peer's
// published PrekeyEnsemble, encrypting message into the single resulting
// message so the peer need not be online to receive it.
func (cl *Client) SendNonInteractive(peer string, ensemble profile.PrekeyEnsemble, message []byte) error {
	return cl.conversationFor(peer).startNonInteractive(ensemble, message)
}

// Receive processes one inbound wire-format string from peer, injecting
// any reply itself through Callbacks.InjectMessage. display is non-nil
// plaintext to show the user. ignore reports an incomplete fragment or a
// message correctly discarded per protocol (e.g. a data message addressed
// to another instance tag).
func (cl *Client) Receive(peer string, raw string) (display []byte, ignore bool, err error) {
	conv := cl.conversationFor(peer)
	display, ignore, err = conv.receive(raw)
	if err != nil {
		cl.cb.DisplayErrorMessage(peer, err.Error())
	}
	return display, ignore, err
}

// Disconnect tears down peer's encrypted session, injecting the final
// disconnect notice if one is due.
func (cl *Client) Disconnect(peer string) error {
	return cl.conversationFor(peer).disconnect()
}

// SMPStart begins a Socialist Millionaires' Protocol exchange with peer
// over the established encrypted Conversation.
func (cl *Client) SMPStart(peer, question string, secret []byte) error {
	return cl.conversationFor(peer).smpStart(question, secret)
}

// SMPRespond answers a pending SMP request the peer started.
func (cl *Client) SMPRespond(peer string, secret []byte) error {
	return cl.conversationFor(peer).smpRespond(secret)
}

// SMPAbort cancels any in-progress SMP exchange with peer.
func (cl *Client) SMPAbort(peer string) error {
	return cl.conversationFor(peer).smpAbort()
}

// Fingerprint computes the fingerprint of peer's long-term public key as
// known from its last-verified ClientProfile, or ok=false if no
// Conversation with peer has received and verified one yet. The profile is
// recorded during the DAKE, so ok can be true before the DAKE completes.
func (cl *Client) Fingerprint(peer string) (fingerprint.Fingerprint, bool) {
	cl.mu.Lock()
	conv, ok := cl.conversations[peer]
	cl.mu.Unlock()
	if !ok {
		return "", false
	}
	conv.mu.Lock()
	pub := conv.theirProfile.LongTermPub
	conv.mu.Unlock()
	if pub == nil {
		return "", false
	}
	return fingerprint.FromKeyBytes(cl.backend.Group.EncodeElement(pub)), true
}

// OwnFingerprint computes the fingerprint of the Client's own long-term
// public key, for out-of-band comparison with a peer.
func (cl *Client) OwnFingerprint() fingerprint.Fingerprint {
	return fingerprint.FromKeyBytes(cl.backend.Group.EncodeElement(cl.longTermPub))
}
