package relay_test

import (
	"crypto/rand"
	"net/http/httptest"
	"testing"
	"time"

	"otr4/internal/primitives"
	"otr4/internal/primitives/ristrettobackend"
	"otr4/internal/profile"
	"otr4/internal/relay"
)

func TestPublishAndFetchEnsemble(t *testing.T) {
	srv := httptest.NewServer(relay.NewServer().Handler())
	defer srv.Close()

	client := relay.NewHTTP(srv.URL, nil)
	group := ristrettobackend.Backend().Group

	priv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("generate scalar: %v", err)
	}
	forgingPub := group.ScalarBaseMult(priv)
	cp, err := profile.NewClientProfile(group, priv, forgingPub, 0x100, []byte{4}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("build client profile: %v", err)
	}
	pp, err := profile.NewPrekeyProfile(group, priv, 0x100, forgingPub, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("build prekey profile: %v", err)
	}
	pool, err := profile.NewPrekeyMessagePool(group, 0x100, 1, 5)
	if err != nil {
		t.Fatalf("build prekey pool: %v", err)
	}
	msg, err := pool.Generate(func() (primitives.Scalar, error) { return group.GenerateScalar(rand.Reader) })
	if err != nil {
		t.Fatalf("generate prekey message: %v", err)
	}

	ensemble := profile.PrekeyEnsemble{ClientProfile: cp, PrekeyProfile: pp, PrekeyMessage: msg}

	if err := client.PublishEnsemble(group, "alice", ensemble); err != nil {
		t.Fatalf("publish ensemble: %v", err)
	}

	got, err := client.FetchEnsemble(group, "alice")
	if err != nil {
		t.Fatalf("fetch ensemble: %v", err)
	}
	if string(group.EncodeElement(got.ClientProfile.LongTermPub)) != string(group.EncodeElement(cp.LongTermPub)) {
		t.Fatal("fetched ensemble's client profile does not match published one")
	}
}

func TestEnvelopeSendAndFetchIsSingleUse(t *testing.T) {
	srv := httptest.NewServer(relay.NewServer().Handler())
	defer srv.Close()

	client := relay.NewHTTP(srv.URL, nil)

	if err := client.SendEnvelope("alice", "bob", "?OTR4:frame."); err != nil {
		t.Fatalf("send envelope: %v", err)
	}
	if err := client.SendEnvelope("alice", "bob", "?OTR4:second."); err != nil {
		t.Fatalf("send envelope: %v", err)
	}

	queued, err := client.FetchEnvelopes("bob")
	if err != nil {
		t.Fatalf("fetch envelopes: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued envelopes, got %d", len(queued))
	}

	// A second fetch should drain to empty: this relay does not retry past
	// a single delivery.
	again, err := client.FetchEnvelopes("bob")
	if err != nil {
		t.Fatalf("fetch envelopes again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty queue on second fetch, got %d", len(again))
	}
}

func TestFetchMissingEnsembleFails(t *testing.T) {
	srv := httptest.NewServer(relay.NewServer().Handler())
	defer srv.Close()

	client := relay.NewHTTP(srv.URL, nil)
	group := ristrettobackend.Backend().Group

	if _, err := client.FetchEnsemble(group, "nobody"); err == nil {
		t.Fatal("expected error fetching an ensemble that was never published")
	}
}
