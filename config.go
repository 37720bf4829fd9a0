package otr4

import (
	"time"

	"otr4/internal/fingerprint"
	"otr4/internal/otr4err"
	"otr4/internal/primitives"
)

// Config supplies everything NewClient needs to construct a Client: its
// long-term identity material (generated by the caller ahead of time,
// typically loaded from or about to be stored by a host-side keystore),
// profile content, and the policy/resource knobs §3 and §9 call for as a
// configuration record applied at construction rather than scattered
// setters.
type Config struct {
	// Backend supplies the Group/AEAD/KDF triple every cryptographic
	// operation runs against. Required: NewClient rejects a Config whose
	// Backend.Group is nil with InvalidParameter.
	Backend primitives.Backend

	// LongTermPriv is the Client's long-term signing scalar.
	LongTermPriv primitives.Scalar
	// ForgingPriv is the Client's forging scalar — its public half is
	// published in the ClientProfile and deliberately leaked by the host
	// after a DAKE completes for transcript deniability. The core never
	// treats it as a signing key.
	ForgingPriv primitives.Scalar

	// InstanceTag identifies this client of a multi-client account. Must
	// be >= 0x100 per §3 invariant (c).
	InstanceTag uint32

	// Versions lists the protocol versions this Client advertises in its
	// ClientProfile, e.g. []byte{4}.
	Versions []byte
	// ProfileLifetime is how long a freshly minted ClientProfile/PrekeyProfile
	// is valid for before it must be rotated.
	ProfileLifetime time.Duration
	// ProfileGrace tolerates clock skew past Expiry when verifying a peer's
	// profile.
	ProfileGrace time.Duration

	// MinPrekeyStock / MaxPrekeyStock bound the Client's own published
	// PrekeyMessage pool (§3's minimum_stored_prekey_msg / max_published_prekey_msg).
	MinPrekeyStock int
	MaxPrekeyStock int

	// MaxStoredMsgKeys bounds the per-Conversation skipped-message-key map.
	MaxStoredMsgKeys int

	// Padding rounds outgoing data-message plaintext up to a multiple of
	// this many bytes before encryption; 0 disables padding.
	Padding int

	// FragmentMaxSize bounds the size of a single transport frame; messages
	// longer than this are split per §4.4. 0 disables fragmentation.
	FragmentMaxSize int
	// FragmentExpiry is how long an incomplete reassembly context is kept
	// before being discarded.
	FragmentExpiry time.Duration

	// FingerprintStore persists peer long-term-key trust state. Defaults to
	// an in-memory store if nil.
	FingerprintStore fingerprint.Store

	// ShouldHeartbeat reports whether a Conversation idle since lastSent
	// should spontaneously emit an empty encrypted data message.
	ShouldHeartbeat func(lastSent time.Time) bool

	Callbacks Callbacks
}

const defaultMaxStoredMsgKeys = 1000

// defaultedConfig fills the zero-valued optional fields of cfg and
// validates the required ones.
func defaultedConfig(cfg Config) (Config, error) {
	if cfg.Backend.Group == nil {
		return cfg, otr4err.New(otr4err.InvalidParameter, "otr4.defaultedConfig", "Backend.Group is required")
	}
	if cfg.LongTermPriv == nil {
		return cfg, otr4err.New(otr4err.InvalidParameter, "otr4.defaultedConfig", "LongTermPriv is required")
	}
	if cfg.ForgingPriv == nil {
		return cfg, otr4err.New(otr4err.InvalidParameter, "otr4.defaultedConfig", "ForgingPriv is required")
	}
	if cfg.InstanceTag < minValidInstanceTag {
		return cfg, otr4err.New(otr4err.InvalidParameter, "otr4.defaultedConfig", "InstanceTag must be >= 0x100")
	}
	if len(cfg.Versions) == 0 {
		cfg.Versions = []byte{4}
	}
	if cfg.ProfileLifetime <= 0 {
		cfg.ProfileLifetime = 14 * 24 * time.Hour
	}
	if cfg.ProfileGrace <= 0 {
		cfg.ProfileGrace = time.Hour
	}
	if cfg.MinPrekeyStock <= 0 {
		cfg.MinPrekeyStock = 5
	}
	if cfg.MaxPrekeyStock <= 0 {
		cfg.MaxPrekeyStock = 50
	}
	if cfg.MaxStoredMsgKeys <= 0 {
		cfg.MaxStoredMsgKeys = defaultMaxStoredMsgKeys
	}
	if cfg.FragmentExpiry <= 0 {
		cfg.FragmentExpiry = 5 * time.Minute
	}
	if cfg.FingerprintStore == nil {
		cfg.FingerprintStore = fingerprint.NewMemStore()
	}
	if cfg.ShouldHeartbeat == nil {
		cfg.ShouldHeartbeat = func(time.Time) bool { return false }
	}
	return cfg, nil
}

// minValidInstanceTag mirrors internal/profile's reserved-range floor; the
// constant is re-declared here so the core can validate InstanceTag
// without depending on profile's unexported threshold.
const minValidInstanceTag = 0x00000100
