package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"otr4/internal/fingerprint"
)

const fingerprintFileMode = 0o600

// fingerprintRecord mirrors fingerprint.Record with exported JSON-friendly
// fields; fingerprint.Record itself is kept free of struct tags since it is
// also used by the in-memory Store.
type fingerprintRecord struct {
	Peer      string                `json:"peer"`
	Fp        fingerprint.Fingerprint `json:"fingerprint"`
	Trust     fingerprint.TrustState  `json:"trust"`
	FirstSeen time.Time             `json:"first_seen"`
}

// FingerprintFileStore persists fingerprint.Store state as one JSON file,
// guarded by a mutex, following the same temp-file-then-rename write
// pattern every other store in this package uses.
type FingerprintFileStore struct {
	mu      sync.Mutex
	path    string
	records map[string]fingerprintRecord
}

// NewFingerprintFileStore opens (or creates) a fingerprint store backed by
// the JSON file at path.
func NewFingerprintFileStore(path string) (*FingerprintFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create fingerprint store directory: %w", err)
	}
	s := &FingerprintFileStore{path: path, records: make(map[string]fingerprintRecord)}
	var onDisk []fingerprintRecord
	if err := readJSON(path, &onDisk); err != nil {
		return nil, fmt.Errorf("store: load fingerprint store: %w", err)
	}
	for _, r := range onDisk {
		s.records[recordKey(r.Peer, r.Fp)] = r
	}
	return s, nil
}

func recordKey(peer string, fp fingerprint.Fingerprint) string { return peer + "\x00" + string(fp) }

func (s *FingerprintFileStore) persistLocked() error {
	out := make([]fingerprintRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return writeJSON(s.path, out, fingerprintFileMode)
}

// Seen implements fingerprint.Store.
func (s *FingerprintFileStore) Seen(peer string, fp fingerprint.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(peer, fp)
	if _, ok := s.records[k]; ok {
		return false, nil
	}
	s.records[k] = fingerprintRecord{Peer: peer, Fp: fp, Trust: fingerprint.Unverified, FirstSeen: time.Now()}
	if err := s.persistLocked(); err != nil {
		return false, fmt.Errorf("store: persist fingerprint: %w", err)
	}
	return true, nil
}

// MarkVerified implements fingerprint.Store.
func (s *FingerprintFileStore) MarkVerified(peer string, fp fingerprint.Fingerprint, state fingerprint.TrustState) error {
	if state != fingerprint.SMPVerified && state != fingerprint.ManuallyVerified && state != fingerprint.Revoked {
		return fmt.Errorf("store: MarkVerified requires a verified or revoked trust level")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(peer, fp)
	r, ok := s.records[k]
	if !ok {
		r = fingerprintRecord{Peer: peer, Fp: fp, FirstSeen: time.Now()}
	}
	r.Trust = state
	s.records[k] = r
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("store: persist fingerprint: %w", err)
	}
	return nil
}

// Trust implements fingerprint.Store.
func (s *FingerprintFileStore) Trust(peer string, fp fingerprint.Fingerprint) (fingerprint.TrustState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordKey(peer, fp)]
	if !ok {
		return fingerprint.Unverified, fmt.Errorf("store: no record for peer %q fingerprint %q", peer, fp)
	}
	return r.Trust, nil
}

var _ fingerprint.Store = (*FingerprintFileStore)(nil)
