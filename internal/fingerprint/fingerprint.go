package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"otr4/internal/otr4err"
)

// Fingerprint is a user-facing identifier for a long-term public key: the
// full SHA-256 digest of its encoding, rendered as 64 hex characters.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// FromKeyBytes derives a Fingerprint from a long-term public key's
// canonical encoding, the same way for every peer so two Clients holding
// the same key compute matching fingerprints independently.
func FromKeyBytes(encodedPub []byte) Fingerprint {
	sum := sha256.Sum256(encodedPub)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// TrustState records how a peer's long-term key came to be trusted, if at
// all.
type TrustState int

const (
	Unverified TrustState = iota
	SMPVerified
	ManuallyVerified
	Revoked
)

// String renders a TrustState for logging and display.
func (s TrustState) String() string {
	switch s {
	case Unverified:
		return "unverified"
	case SMPVerified:
		return "smp-verified"
	case ManuallyVerified:
		return "manually-verified"
	case Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Record is one peer/fingerprint entry.
type Record struct {
	Peer      string
	Fp        Fingerprint
	Trust     TrustState
	FirstSeen time.Time
}

// Store persists per-peer fingerprint trust state.
type Store interface {
	// Seen records fp for peer if not already known, reporting isNew so the
	// caller can warn on an unexpected key change.
	Seen(peer string, fp Fingerprint) (isNew bool, err error)
	// MarkVerified elevates peer's trust in fp to state, which must be
	// SMPVerified, ManuallyVerified, or Revoked.
	MarkVerified(peer string, fp Fingerprint, state TrustState) error
	// Trust reports the current trust state for peer/fp.
	Trust(peer string, fp Fingerprint) (TrustState, error)
}

// memStore is a process-local Store, useful for tests and for hosts that
// don't need cross-restart persistence.
type memStore struct {
	records map[string]*Record
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() Store {
	return &memStore{records: make(map[string]*Record)}
}

func key(peer string, fp Fingerprint) string { return peer + "\x00" + string(fp) }

func (m *memStore) Seen(peer string, fp Fingerprint) (bool, error) {
	k := key(peer, fp)
	if _, ok := m.records[k]; ok {
		return false, nil
	}
	m.records[k] = &Record{Peer: peer, Fp: fp, Trust: Unverified, FirstSeen: time.Now()}
	return true, nil
}

func (m *memStore) MarkVerified(peer string, fp Fingerprint, state TrustState) error {
	if state != SMPVerified && state != ManuallyVerified && state != Revoked {
		return otr4err.New(otr4err.InvalidParameter, "fingerprint.MarkVerified", "state must be a verified or revoked trust level")
	}
	k := key(peer, fp)
	r, ok := m.records[k]
	if !ok {
		r = &Record{Peer: peer, Fp: fp, FirstSeen: time.Now()}
		m.records[k] = r
	}
	r.Trust = state
	return nil
}

func (m *memStore) Trust(peer string, fp Fingerprint) (TrustState, error) {
	r, ok := m.records[key(peer, fp)]
	if !ok {
		return Unverified, otr4err.New(otr4err.ProtocolViolation, "fingerprint.Trust", "no record for peer/fingerprint")
	}
	return r.Trust, nil
}
