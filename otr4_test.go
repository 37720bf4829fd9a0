package otr4

import (
	"crypto/rand"
	"sync"
	"testing"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/primitives/ristrettobackend"
)

// harness wires two Clients together through an in-memory router, the same
// role a real host plays by handing Callbacks.InjectMessage payloads to a
// transport and feeding inbound bytes back through Receive.
type harness struct {
	t *testing.T

	mu       sync.Mutex
	inbox    map[string][]string
	secure   map[string]bool
	insecure map[string]bool
	fps      map[string][]string
	smpDone  map[string]string
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:        t,
		inbox:    make(map[string][]string),
		secure:   make(map[string]bool),
		insecure: make(map[string]bool),
		fps:      make(map[string][]string),
		smpDone:  make(map[string]string),
	}
}

func (h *harness) callbacksFor(name string) Callbacks {
	return Callbacks{
		InjectMessage: func(peer string, wireMessage []byte) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.inbox[peer] = append(h.inbox[peer], string(wireMessage))
		},
		GoneSecure:   func(peer string) { h.mu.Lock(); h.secure[name+">"+peer] = true; h.mu.Unlock() },
		GoneInsecure: func(peer string) { h.mu.Lock(); h.insecure[name+">"+peer] = true; h.mu.Unlock() },
		DisplayErrorMessage: func(peer, event string) {
			h.t.Logf("%s: error from %s: %s", name, peer, event)
		},
		SMPAskForSecret: func(peer string) {},
		SMPAskForAnswer: func(peer, question string) {},
		SMPUpdate: func(peer, event string, percent int) {
			h.mu.Lock()
			h.smpDone[name+">"+peer] = event
			h.mu.Unlock()
		},
		DefinePolicy: func() Policy { return Policy{AllowV4: true} },
	}
}

// drain drains every queued message from "from" to "to", feeding each
// through to's Receive until the queue runs dry. Replies to is queued in
// turn get delivered on later calls, so callers pump both directions until
// both inboxes are empty.
func (h *harness) drain(from, to string, client *Client) {
	for {
		h.mu.Lock()
		msgs := h.inbox[to]
		h.inbox[to] = nil
		h.mu.Unlock()
		if len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			if _, _, err := client.Receive(from, m); err != nil {
				h.t.Fatalf("%s receiving from %s: %v", to, from, err)
			}
		}
	}
}

func genScalar(t *testing.T, group primitives.Group) primitives.Scalar {
	t.Helper()
	s, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateScalar: %v", err)
	}
	return s
}

func newTestClient(t *testing.T, h *harness, name string, instanceTag uint32) *Client {
	t.Helper()
	group := ristrettobackend.New()
	cl, err := NewClient(Config{
		Backend:      ristrettobackend.Backend(),
		LongTermPriv: genScalar(t, group),
		ForgingPriv:  genScalar(t, group),
		InstanceTag:  instanceTag,
		Callbacks:    h.callbacksFor(name),
	})
	if err != nil {
		t.Fatalf("NewClient(%s): %v", name, err)
	}
	return cl
}

// handshake runs alice and bob through a full interactive DAKE by pumping
// inbox queues back and forth until both settle into ENCRYPTED_MESSAGES.
func handshake(t *testing.T, h *harness, alice, bob *Client) {
	t.Helper()
	if err := alice.StartDAKE("bob"); err != nil {
		t.Fatalf("StartDAKE: %v", err)
	}
	for i := 0; i < 6; i++ {
		h.drain("alice", "bob", bob)
		h.drain("bob", "alice", alice)
	}
	h.mu.Lock()
	secure := h.secure["alice>bob"] && h.secure["bob>alice"]
	h.mu.Unlock()
	if !secure {
		t.Fatal("handshake did not complete: GoneSecure not observed on both sides")
	}
}

func TestHandshakeAndMessageRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	if err := alice.Send("bob", []byte("hello bob")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.mu.Lock()
	msgs := h.inbox["bob"]
	h.inbox["bob"] = nil
	h.mu.Unlock()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one queued frame, got %d", len(msgs))
	}

	display, ignore, err := bob.Receive("alice", msgs[0])
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if ignore {
		t.Fatal("did not expect the data message to be ignored")
	}
	if string(display) != "hello bob" {
		t.Fatalf("got display %q, want %q", display, "hello bob")
	}
}

func TestDisconnectEndsSession(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	if err := alice.Disconnect("bob"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	h.drain("alice", "bob", bob)

	h.mu.Lock()
	gotInsecure := h.insecure["bob>alice"]
	h.mu.Unlock()
	if !gotInsecure {
		t.Fatal("expected bob to observe GoneInsecure after alice's disconnect")
	}

	if err := bob.Send("alice", []byte("too late")); err == nil {
		t.Fatal("expected Send to fail after disconnect ended the session")
	} else if !otr4err.Is(err, otr4err.NotEncrypted) {
		t.Fatalf("expected NotEncrypted, got %v", err)
	}
}

func TestWrongInstanceTagIsIgnored(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	if err := alice.Send("bob", []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.mu.Lock()
	msgs := h.inbox["bob"]
	h.inbox["bob"] = nil
	h.mu.Unlock()

	// Forge a third party listening on the same transport with a different
	// instance tag: it must silently ignore a frame addressed to bob.
	eve := newTestClient(t, h, "eve", 0x102)
	display, ignore, err := eve.Receive("alice", msgs[0])
	if err != nil {
		t.Fatalf("Receive should not error on a foreign-instance-tag frame: %v", err)
	}
	if !ignore {
		t.Fatal("expected the frame to be ignored")
	}
	if display != nil {
		t.Fatal("expected no display text from an ignored frame")
	}
}

func TestSimultaneousDAKE(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)

	if err := alice.StartDAKE("bob"); err != nil {
		t.Fatalf("alice StartDAKE: %v", err)
	}
	if err := bob.StartDAKE("alice"); err != nil {
		t.Fatalf("bob StartDAKE: %v", err)
	}

	for i := 0; i < 8; i++ {
		h.drain("alice", "bob", bob)
		h.drain("bob", "alice", alice)
	}

	h.mu.Lock()
	secure := h.secure["alice>bob"] && h.secure["bob>alice"]
	h.mu.Unlock()
	if !secure {
		t.Fatal("simultaneous DAKE did not converge to ENCRYPTED_MESSAGES on both sides")
	}

	if err := alice.Send("bob", []byte("after the tie-break")); err != nil {
		t.Fatalf("Send after simultaneous DAKE: %v", err)
	}
}

func TestSMPMatchingSecretsSucceed(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	secret := []byte("correct horse battery staple")
	if err := alice.SMPStart("bob", "", secret); err != nil {
		t.Fatalf("SMPStart: %v", err)
	}
	for i := 0; i < 4; i++ {
		h.drain("alice", "bob", bob)
		h.drain("bob", "alice", alice)
	}

	// bob's SMP2 reply is only queued once bob has a matching secret to
	// respond with; simulate the host answering the SMPAskForSecret prompt.
	if err := bob.SMPRespond(secret); err != nil {
		t.Fatalf("SMPRespond: %v", err)
	}
	for i := 0; i < 4; i++ {
		h.drain("bob", "alice", alice)
		h.drain("alice", "bob", bob)
	}

	h.mu.Lock()
	aliceStatus := h.smpDone["alice>bob"]
	bobStatus := h.smpDone["bob>alice"]
	h.mu.Unlock()
	if aliceStatus != "succeeded" || bobStatus != "succeeded" {
		t.Fatalf("expected both sides to report success, got alice=%q bob=%q", aliceStatus, bobStatus)
	}
}

func TestSMPMismatchedSecretsFail(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	if err := alice.SMPStart("bob", "favorite color?", []byte("blue")); err != nil {
		t.Fatalf("SMPStart: %v", err)
	}
	for i := 0; i < 4; i++ {
		h.drain("alice", "bob", bob)
		h.drain("bob", "alice", alice)
	}
	if err := bob.SMPRespond([]byte("red")); err != nil {
		t.Fatalf("SMPRespond: %v", err)
	}
	for i := 0; i < 4; i++ {
		h.drain("bob", "alice", alice)
		h.drain("alice", "bob", bob)
	}

	h.mu.Lock()
	aliceStatus := h.smpDone["alice>bob"]
	h.mu.Unlock()
	if aliceStatus != "failed" {
		t.Fatalf("expected alice to observe a failed SMP exchange, got %q", aliceStatus)
	}
}

func TestNonInteractiveDAKE(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)

	ensemble, err := bob.PrekeyEnsemble()
	if err != nil {
		t.Fatalf("PrekeyEnsemble: %v", err)
	}

	if err := alice.SendNonInteractive("bob", ensemble, []byte("hi, offline")); err != nil {
		t.Fatalf("SendNonInteractive: %v", err)
	}

	h.mu.Lock()
	msgs := h.inbox["bob"]
	h.inbox["bob"] = nil
	h.mu.Unlock()
	if len(msgs) != 2 {
		t.Fatalf("expected the Non-Interactive-Auth message plus one data message, got %d", len(msgs))
	}

	var display []byte
	for _, m := range msgs {
		d, ignore, rerr := bob.Receive("alice", m)
		if rerr != nil {
			t.Fatalf("bob.Receive: %v", rerr)
		}
		if ignore {
			continue
		}
		if d != nil {
			display = d
		}
	}
	if string(display) != "hi, offline" {
		t.Fatalf("got display %q, want %q", display, "hi, offline")
	}

	h.mu.Lock()
	secure := h.secure["bob>alice"]
	h.mu.Unlock()
	if !secure {
		t.Fatal("expected bob to observe GoneSecure after the non-interactive DAKE")
	}
}

func TestFingerprintAfterHandshake(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	fp, ok := alice.Fingerprint("bob")
	if !ok {
		t.Fatal("expected alice to have a fingerprint for bob after the DAKE")
	}
	if fp != bob.OwnFingerprint() {
		t.Fatalf("alice's record of bob's fingerprint %q does not match bob's own %q", fp, bob.OwnFingerprint())
	}
}

func TestFragmentedSendReassembles(t *testing.T) {
	h := newHarness(t)
	group := ristrettobackend.New()
	aliceCfg := Config{
		Backend:         ristrettobackend.Backend(),
		LongTermPriv:    genScalar(t, group),
		ForgingPriv:     genScalar(t, group),
		InstanceTag:     0x100,
		FragmentMaxSize: 64,
		Callbacks:       h.callbacksFor("alice"),
	}
	alice, err := NewClient(aliceCfg)
	if err != nil {
		t.Fatalf("NewClient(alice): %v", err)
	}
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	big := make([]byte, 2000)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	if err := alice.Send("bob", big); err != nil {
		t.Fatalf("Send: %v", err)
	}

	h.mu.Lock()
	frames := h.inbox["bob"]
	h.inbox["bob"] = nil
	h.mu.Unlock()
	if len(frames) < 2 {
		t.Fatalf("expected the oversized message to be split into multiple fragments, got %d", len(frames))
	}

	var display []byte
	for _, f := range frames {
		d, ignore, rerr := bob.Receive("alice", f)
		if rerr != nil {
			t.Fatalf("bob.Receive: %v", rerr)
		}
		if !ignore && d != nil {
			display = d
		}
	}
	if string(display) != string(big) {
		t.Fatal("reassembled fragments did not round-trip to the original message")
	}
}

func TestQueryMessageStartsDAKE(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)

	query := bob.QueryMessage("let's talk over otr4")
	if _, _, err := alice.Receive("bob", query); err != nil {
		t.Fatalf("Receive(query): %v", err)
	}

	for i := 0; i < 6; i++ {
		h.drain("alice", "bob", bob)
		h.drain("bob", "alice", alice)
	}

	h.mu.Lock()
	secure := h.secure["alice>bob"] && h.secure["bob>alice"]
	h.mu.Unlock()
	if !secure {
		t.Fatal("expected a query message to drive both sides into ENCRYPTED_MESSAGES")
	}
}

func TestSendBeforeDAKEFails(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)

	if err := alice.Send("bob", []byte("too soon")); err == nil {
		t.Fatal("expected Send before any DAKE to fail")
	} else if !otr4err.Is(err, otr4err.NotEncrypted) {
		t.Fatalf("expected NotEncrypted, got %v", err)
	}
}

func TestConcurrentSendsAreSafe(t *testing.T) {
	h := newHarness(t)
	alice := newTestClient(t, h, "alice", 0x100)
	bob := newTestClient(t, h, "bob", 0x101)
	handshake(t, h, alice, bob)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := alice.Send("bob", []byte{byte(n)}); err != nil {
				t.Errorf("Send %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	h.mu.Lock()
	count := len(h.inbox["bob"])
	h.mu.Unlock()
	if count != 20 {
		t.Fatalf("expected 20 queued frames, got %d", count)
	}
}
