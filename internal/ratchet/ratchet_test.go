package ratchet

import (
	"bytes"
	"testing"

	"otr4/internal/primitives/modpbackend"
	"otr4/internal/primitives/ristrettobackend"
)

func newPair(t *testing.T, maxSkipped int) (*State, *State) {
	t.Helper()
	backend := ristrettobackend.Backend()
	modp := modpbackend.Group3072

	respPriv, err := backend.Group.GenerateScalar(bytesReader())
	if err != nil {
		t.Fatalf("generate responder scalar: %v", err)
	}
	respPub := backend.Group.ScalarBaseMult(respPriv)

	respDHPriv, err := modp.GeneratePrivate()
	if err != nil {
		t.Fatalf("generate responder dh: %v", err)
	}
	respDH := &DHKeyPair{Priv: respDHPriv, Pub: modp.Public(respDHPriv)}

	initDHPriv, err := modp.GeneratePrivate()
	if err != nil {
		t.Fatalf("generate initiator dh: %v", err)
	}
	initDH := &DHKeyPair{Priv: initDHPriv, Pub: modp.Public(initDHPriv)}

	rootKey := DeriveRootKey(backend.KDF, []byte("shared-secret-from-dake"))

	responder := InitAsResponder(backend, modp, rootKey, respPriv, respDH, maxSkipped)
	initiator, err := InitAsInitiator(backend, modp, rootKey, initDH, respPub, respDH.Pub, maxSkipped)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	return initiator, responder
}

func bytesReader() *bytes.Reader {
	b := make([]byte, 1024)
	for i := range b {
		b[i] = byte(i)
	}
	return bytes.NewReader(b)
}

func TestRoundTrip(t *testing.T) {
	alice, bob := newPair(t, 64)

	h, ct, _, err := alice.Encrypt([]byte("hello"), []byte("ad"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := bob.Decrypt(h, []byte("ad"), ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q want %q", pt, "hello")
	}
}

func TestOutOfOrderWithinChain(t *testing.T) {
	alice, bob := newPair(t, 64)

	var headers []Header
	var cts [][]byte
	for i, msg := range []string{"one", "two", "three"} {
		h, ct, _, err := alice.Encrypt([]byte(msg), nil)
		if err != nil {
			t.Fatalf("Encrypt #%d: %v", i, err)
		}
		headers = append(headers, h)
		cts = append(cts, ct)
	}

	// Deliver out of order: 2, 0, 1.
	order := []int{2, 0, 1}
	want := []string{"three", "one", "two"}
	for _, idx := range order {
		_ = idx
	}
	for i, idx := range order {
		pt, err := bob.Decrypt(headers[idx], nil, cts[idx])
		if err != nil {
			t.Fatalf("Decrypt idx=%d: %v", idx, err)
		}
		if string(pt) != want[i] {
			t.Fatalf("idx=%d: got %q want %q", idx, pt, want[i])
		}
	}
	if bob.SkippedKeyCount() != 0 {
		t.Fatalf("expected all skipped keys consumed, got %d", bob.SkippedKeyCount())
	}
}

func TestReplayRejected(t *testing.T) {
	alice, bob := newPair(t, 64)

	h, ct, _, err := alice.Encrypt([]byte("once"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := bob.Decrypt(h, nil, ct); err != nil {
		t.Fatalf("first Decrypt: %v", err)
	}
	if _, err := bob.Decrypt(h, nil, ct); err == nil {
		t.Fatal("expected replay of the same (ratchet_id, message_id) to be rejected")
	}
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	alice, bob := newPair(t, 64)

	h, ct, _, err := alice.Encrypt([]byte("integrity"), []byte("ad"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := bob.Decrypt(h, []byte("ad"), tampered); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestSkippedKeyBound(t *testing.T) {
	alice, bob := newPair(t, 4)

	var last Header
	var lastCT []byte
	for i := 0; i < 10; i++ {
		h, ct, _, err := alice.Encrypt([]byte("msg"), nil)
		if err != nil {
			t.Fatalf("Encrypt #%d: %v", i, err)
		}
		last, lastCT = h, ct
	}
	if _, err := bob.Decrypt(last, nil, lastCT); err != nil {
		t.Fatalf("Decrypt last: %v", err)
	}
	if bob.SkippedKeyCount() > 4 {
		t.Fatalf("skipped key count %d exceeds bound 4", bob.SkippedKeyCount())
	}
}

func TestDHRatchetAcrossMultipleSteps(t *testing.T) {
	alice, bob := newPair(t, 64)

	send, recv := alice, bob
	for i := 0; i < 8; i++ {
		h, ct, _, err := send.Encrypt([]byte("ping"), nil)
		if err != nil {
			t.Fatalf("round %d Encrypt: %v", i, err)
		}
		pt, err := recv.Decrypt(h, nil, ct)
		if err != nil {
			t.Fatalf("round %d Decrypt: %v", i, err)
		}
		if string(pt) != "ping" {
			t.Fatalf("round %d: got %q", i, pt)
		}
		send, recv = recv, send
	}
}
