package store_test

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"otr4/internal/primitives/ristrettobackend"
	"otr4/internal/store"
)

func TestIdentitySaveLoadRoundTrip(t *testing.T) {
	group := ristrettobackend.Backend().Group
	path := filepath.Join(t.TempDir(), "identity.json")

	longTermPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("generate long-term scalar: %v", err)
	}
	forgingPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("generate forging scalar: %v", err)
	}
	sharedPrekeyPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("generate shared prekey scalar: %v", err)
	}

	want := store.Identity{
		LongTermPriv:     longTermPriv,
		ForgingPriv:      forgingPriv,
		SharedPrekeyPriv: sharedPrekeyPriv,
		InstanceTag:      0x01020304,
	}
	if err := store.SaveIdentity(path, "correct horse", want); err != nil {
		t.Fatalf("save identity: %v", err)
	}

	got, err := store.LoadIdentity(group, path, "correct horse")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if got.InstanceTag != want.InstanceTag {
		t.Fatalf("instance tag mismatch: got %x want %x", got.InstanceTag, want.InstanceTag)
	}
	if string(got.LongTermPriv.Bytes()) != string(want.LongTermPriv.Bytes()) {
		t.Fatal("long-term key mismatch after round trip")
	}
	if string(got.ForgingPriv.Bytes()) != string(want.ForgingPriv.Bytes()) {
		t.Fatal("forging key mismatch after round trip")
	}
	if string(got.SharedPrekeyPriv.Bytes()) != string(want.SharedPrekeyPriv.Bytes()) {
		t.Fatal("shared prekey mismatch after round trip")
	}
}

func TestIdentityWrongPassphraseFails(t *testing.T) {
	group := ristrettobackend.Backend().Group
	path := filepath.Join(t.TempDir(), "identity.json")

	priv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("generate scalar: %v", err)
	}
	id := store.Identity{LongTermPriv: priv, ForgingPriv: priv, SharedPrekeyPriv: priv, InstanceTag: 0x100}
	if err := store.SaveIdentity(path, "correct", id); err != nil {
		t.Fatalf("save identity: %v", err)
	}

	if _, err := store.LoadIdentity(group, path, "wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestIdentityExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	if store.IdentityExists(path) {
		t.Fatal("expected no identity before first save")
	}
	group := ristrettobackend.Backend().Group
	priv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("generate scalar: %v", err)
	}
	id := store.Identity{LongTermPriv: priv, ForgingPriv: priv, SharedPrekeyPriv: priv, InstanceTag: 0x100}
	if err := store.SaveIdentity(path, "pass", id); err != nil {
		t.Fatalf("save identity: %v", err)
	}
	if !store.IdentityExists(path) {
		t.Fatal("expected identity to exist after save")
	}
}
