package host_test

import (
	"net/http/httptest"
	"testing"

	"otr4/internal/host"
	"otr4/internal/relay"
)

func newTestWire(t *testing.T, relayURL, username string) *host.Wire {
	t.Helper()
	w, err := host.NewWire(host.Config{
		Username: username,
		HomeDir:  t.TempDir(),
		RelayURL: relayURL,
	}, "correct horse battery staple")
	if err != nil {
		t.Fatalf("build wire for %q: %v", username, err)
	}
	return w
}

func TestNonInteractiveSendOverRelay(t *testing.T) {
	srv := httptest.NewServer(relay.NewServer().Handler())
	defer srv.Close()

	alice := newTestWire(t, srv.URL, "alice")
	bob := newTestWire(t, srv.URL, "bob")

	if err := bob.PublishEnsemble(); err != nil {
		t.Fatalf("bob publish ensemble: %v", err)
	}

	ensemble, err := alice.FetchPeerEnsemble("bob")
	if err != nil {
		t.Fatalf("alice fetch bob's ensemble: %v", err)
	}

	if err := alice.Client.SendNonInteractive("bob", ensemble, []byte("hello bob")); err != nil {
		t.Fatalf("alice send non-interactive: %v", err)
	}

	msgs, err := bob.FetchAndDecrypt()
	if err != nil {
		t.Fatalf("bob fetch and decrypt: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 decrypted message, got %d", len(msgs))
	}
	if msgs[0].From != "alice" || string(msgs[0].Text) != "hello bob" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
}

func TestIdentityPersistsAcrossWireRestarts(t *testing.T) {
	srv := httptest.NewServer(relay.NewServer().Handler())
	defer srv.Close()
	home := t.TempDir()

	first, err := host.NewWire(host.Config{Username: "alice", HomeDir: home, RelayURL: srv.URL}, "pw")
	if err != nil {
		t.Fatalf("build first wire: %v", err)
	}
	fp := first.Client.OwnFingerprint()

	second, err := host.NewWire(host.Config{Username: "alice", HomeDir: home, RelayURL: srv.URL}, "pw")
	if err != nil {
		t.Fatalf("build second wire: %v", err)
	}
	if second.Client.OwnFingerprint() != fp {
		t.Fatal("fingerprint changed across restart: identity was not loaded from disk")
	}
}
