package fingerprint

import (
	"testing"

	"otr4/internal/otr4err"
)

func TestSeenReportsNewOnce(t *testing.T) {
	store := NewMemStore()

	isNew, err := store.Seen("alice", "ABCD1234")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !isNew {
		t.Fatal("expected the first sighting of a fingerprint to be new")
	}

	isNew, err = store.Seen("alice", "ABCD1234")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if isNew {
		t.Fatal("expected a repeat sighting to not be new")
	}
}

func TestDefaultTrustIsUnverified(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Seen("bob", "FFFF0000"); err != nil {
		t.Fatalf("Seen: %v", err)
	}
	trust, err := store.Trust("bob", "FFFF0000")
	if err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if trust != Unverified {
		t.Fatalf("expected Unverified, got %v", trust)
	}
}

func TestMarkVerifiedTransitions(t *testing.T) {
	store := NewMemStore()
	if err := store.MarkVerified("carol", "1111", SMPVerified); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	trust, err := store.Trust("carol", "1111")
	if err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if trust != SMPVerified {
		t.Fatalf("expected SMPVerified, got %v", trust)
	}

	if err := store.MarkVerified("carol", "1111", Revoked); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	trust, err = store.Trust("carol", "1111")
	if err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if trust != Revoked {
		t.Fatalf("expected Revoked, got %v", trust)
	}
}

func TestMarkVerifiedRejectsUnverified(t *testing.T) {
	store := NewMemStore()
	if err := store.MarkVerified("dave", "2222", Unverified); err == nil {
		t.Fatal("expected MarkVerified with Unverified to be rejected")
	} else if !otr4err.Is(err, otr4err.InvalidParameter) {
		t.Fatalf("expected InvalidParameter, got %v", err)
	}
}

func TestTrustOnUnknownFingerprintFails(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Trust("erin", "3333"); err == nil {
		t.Fatal("expected Trust on an unseen fingerprint to fail")
	}
}
