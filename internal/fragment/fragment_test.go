package fragment

import (
	"strings"
	"testing"
	"time"
)

func TestSplitReassembleIdempotent(t *testing.T) {
	msg := "We should fragment when is needed"
	for k := 40; k < 90; k++ {
		pieces, err := Split(msg, k, 0x100, 0x200)
		if err != nil {
			continue // some small k legitimately leave no room for payload
		}
		r := NewReassembler(0x200)
		var got string
		for _, p := range pieces {
			out, complete, ok, err := r.Feed(p, 0x100)
			if err != nil {
				t.Fatalf("k=%d: Feed: %v", k, err)
			}
			if !ok {
				t.Fatalf("k=%d: expected fragment to be recognized", k)
			}
			if complete {
				got = out
			}
		}
		if got != msg {
			t.Fatalf("k=%d: got %q want %q", k, got, msg)
		}
	}
}

func TestFeedPassesThroughNonFragment(t *testing.T) {
	r := NewReassembler(1)
	out, complete, ok, err := r.Feed("hello there", 1)
	if err != nil || ok || complete || out != "" {
		t.Fatalf("expected pass-through, got out=%q complete=%v ok=%v err=%v", out, complete, ok, err)
	}
}

func TestFeedRejectsMalformedIndices(t *testing.T) {
	r := NewReassembler(1)
	bad := "?OTR|00000001|00000002|00000003,00000,00001,x,"
	if _, _, ok, err := r.Feed(bad, 2); !ok || err == nil {
		t.Fatalf("expected a protocol violation for index=0, got ok=%v err=%v", ok, err)
	}
}

func TestWrongReceiverTagDropsSilently(t *testing.T) {
	pieces, err := Split("hello world", 50, 0x10, 0x20)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	r := NewReassembler(0x99) // not the intended receiver
	for _, p := range pieces {
		_, complete, ok, err := r.Feed(p, 0x10)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if !ok {
			t.Fatal("expected fragment to be recognized even though dropped")
		}
		if complete {
			t.Fatal("a fragment addressed to a different instance tag must never complete")
		}
	}
}

func TestIdentifierCollisionAcrossPeersDoesNotContaminate(t *testing.T) {
	piecesP, err := Split("from P", 48, 1, 99)
	if err != nil {
		t.Fatalf("Split P: %v", err)
	}
	piecesQ, err := Split("from Q", 48, 1, 99)
	if err != nil {
		t.Fatalf("Split Q: %v", err)
	}

	r := NewReassembler(99)
	// Force an identifier collision by rewriting Q's identifier to match P's.
	idP := strings.SplitN(piecesP[0], "|", 2)[1]
	for i, p := range piecesQ {
		parts := strings.SplitN(p, "|", 3)
		piecesQ[i] = "?OTR|" + idP[:8] + "|" + parts[2]
	}

	var gotP, gotQ string
	for _, p := range piecesP {
		if out, complete, _, err := r.Feed(p, 11); err == nil && complete {
			gotP = out
		}
	}
	for _, p := range piecesQ {
		if out, complete, _, err := r.Feed(p, 22); err == nil && complete {
			gotQ = out
		}
	}
	if gotP != "from P" || gotQ != "from Q" {
		t.Fatalf("collision contaminated contexts: gotP=%q gotQ=%q", gotP, gotQ)
	}
}

func TestExpire(t *testing.T) {
	r := NewReassembler(1)
	start := time.Now()
	r.now = func() time.Time { return start }

	pieces, err := Split("a longer message than one fragment", 50, 1, 1)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if _, _, _, err := r.Feed(pieces[0], 5); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(r.contexts) != 1 {
		t.Fatalf("expected one in-progress context, got %d", len(r.contexts))
	}

	r.now = func() time.Time { return start.Add(time.Hour) }
	r.Expire(time.Minute)
	if len(r.contexts) != 0 {
		t.Fatal("expected expired context to be discarded")
	}
}
