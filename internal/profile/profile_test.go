package profile

import (
	"crypto/rand"
	"testing"
	"time"

	"otr4/internal/otr4err"
	"otr4/internal/primitives"
	"otr4/internal/primitives/ristrettobackend"
	"otr4/internal/wire"
)

func genScalar(t *testing.T, group primitives.Group) primitives.Scalar {
	t.Helper()
	s, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateScalar: %v", err)
	}
	return s
}

func TestClientProfileRoundTrip(t *testing.T) {
	group := ristrettobackend.New()
	priv := genScalar(t, group)

	expiry := time.Now().Add(24 * time.Hour)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	cp, err := NewClientProfile(group, priv, forgingPub, 0x12345678, []byte{4}, expiry)
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}

	if err := cp.Verify(group, time.Now(), time.Minute); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestClientProfileRejectsLowInstanceTag(t *testing.T) {
	group := ristrettobackend.New()
	priv := genScalar(t, group)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	if _, err := NewClientProfile(group, priv, forgingPub, 1, []byte{4}, time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected an out-of-range instance tag to be rejected")
	} else if !otr4err.Is(err, otr4err.InvalidParameter) {
		t.Fatalf("expected InvalidParameter, got %v", err)
	}
}

func TestClientProfileRejectsMissingV4(t *testing.T) {
	group := ristrettobackend.New()
	priv := genScalar(t, group)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	cp, err := NewClientProfile(group, priv, forgingPub, 0x100, []byte{3}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}
	if err := cp.Verify(group, time.Now(), time.Minute); err == nil {
		t.Fatal("expected a profile advertising only version 3 to be rejected")
	} else if !otr4err.Is(err, otr4err.ProtocolViolation) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestClientProfileExpired(t *testing.T) {
	group := ristrettobackend.New()
	priv := genScalar(t, group)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	cp, err := NewClientProfile(group, priv, forgingPub, 0x100, []byte{4}, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}
	if err := cp.Verify(group, time.Now(), time.Minute); err == nil {
		t.Fatal("expected an expired profile to fail verification")
	} else if !otr4err.Is(err, otr4err.Expired) {
		t.Fatalf("expected Expired, got %v", err)
	}
	if err := cp.Verify(group, time.Now(), 2*time.Hour); err != nil {
		t.Fatalf("expected a generous grace window to cover the expiry, got %v", err)
	}
}

func TestClientProfileTamperedSignature(t *testing.T) {
	group := ristrettobackend.New()
	priv := genScalar(t, group)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	cp, err := NewClientProfile(group, priv, forgingPub, 0x100, []byte{4}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}
	cp.InstanceTag++ // mutate signed content without re-signing
	if err := cp.Verify(group, time.Now(), time.Minute); err == nil {
		t.Fatal("expected a mutated profile to fail signature verification")
	} else if !otr4err.Is(err, otr4err.AuthenticationFailed) {
		t.Fatalf("expected AuthenticationFailed, got %v", err)
	}
}

func TestPrekeyProfileRoundTrip(t *testing.T) {
	group := ristrettobackend.New()
	longTerm := genScalar(t, group)
	expiry := time.Now().Add(24 * time.Hour)

	sharedPriv := genScalar(t, group)
	shared := group.ScalarBaseMult(sharedPriv)

	pp, err := NewPrekeyProfile(group, longTerm, 0x100, shared, expiry)
	if err != nil {
		t.Fatalf("NewPrekeyProfile: %v", err)
	}

	longTermPub := group.ScalarBaseMult(longTerm)
	if err := pp.Verify(group, longTermPub, time.Now(), time.Minute); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	otherPub := group.ScalarBaseMult(genScalar(t, group))
	if err := pp.Verify(group, otherPub, time.Now(), time.Minute); err == nil {
		t.Fatal("expected verification under the wrong long-term key to fail")
	}
}

func TestPrekeyEnsembleVerify(t *testing.T) {
	group := ristrettobackend.New()
	longTerm := genScalar(t, group)
	expiry := time.Now().Add(24 * time.Hour)

	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	cp, err := NewClientProfile(group, longTerm, forgingPub, 0x100, []byte{4}, expiry)
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}

	sharedPriv := genScalar(t, group)
	shared := group.ScalarBaseMult(sharedPriv)
	pp, err := NewPrekeyProfile(group, longTerm, 0x100, shared, expiry)
	if err != nil {
		t.Fatalf("NewPrekeyProfile: %v", err)
	}

	pool, err := NewPrekeyMessagePool(group, 0x100, 1, 5)
	if err != nil {
		t.Fatalf("NewPrekeyMessagePool: %v", err)
	}
	msg, err := pool.Generate(func() (primitives.Scalar, error) { return group.GenerateScalar(rand.Reader) })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	ensemble := PrekeyEnsemble{ClientProfile: cp, PrekeyProfile: pp, PrekeyMessage: msg}
	if err := ensemble.Verify(group, time.Now(), time.Minute); err != nil {
		t.Fatalf("Ensemble Verify: %v", err)
	}

	mismatched := ensemble
	mismatched.PrekeyMessage.InstanceTag = 0x200
	if err := mismatched.Verify(group, time.Now(), time.Minute); err == nil {
		t.Fatal("expected an instance-tag mismatch across the ensemble to be rejected")
	} else if !otr4err.Is(err, otr4err.ProtocolViolation) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestPrekeyMessagePoolStockBounds(t *testing.T) {
	group := ristrettobackend.New()
	pool, err := NewPrekeyMessagePool(group, 0x100, 1, 2)
	if err != nil {
		t.Fatalf("NewPrekeyMessagePool: %v", err)
	}
	gen := func() (primitives.Scalar, error) { return group.GenerateScalar(rand.Reader) }

	if !pool.NeedsReplenishing() {
		t.Fatal("an empty pool below min stock must report NeedsReplenishing")
	}

	m1, err := pool.Generate(gen)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := pool.Generate(gen); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pool.NeedsReplenishing() {
		t.Fatal("pool at min stock must not report NeedsReplenishing")
	}

	if _, err := pool.Generate(gen); err == nil {
		t.Fatal("expected Generate to fail once max stock is reached")
	} else if !otr4err.Is(err, otr4err.OutOfResource) {
		t.Fatalf("expected OutOfResource, got %v", err)
	}

	if _, err := pool.Consume(m1.ID); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := pool.Consume(m1.ID); err == nil {
		t.Fatal("expected a second Consume of the same id to fail")
	}
}

func TestClientProfileMarshalRoundTrip(t *testing.T) {
	group := ristrettobackend.New()
	priv := genScalar(t, group)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	expiry := time.Now().Add(24 * time.Hour)
	cp, err := NewClientProfile(group, priv, forgingPub, 0x100, []byte{4}, expiry)
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}

	r := wire.NewReader(cp.Marshal(group))
	got, err := UnmarshalClientProfile(group, r)
	if err != nil {
		t.Fatalf("UnmarshalClientProfile: %v", err)
	}
	if err := got.Verify(group, time.Now(), time.Minute); err != nil {
		t.Fatalf("Verify after round trip: %v", err)
	}
	if got.InstanceTag != cp.InstanceTag {
		t.Fatalf("instance tag mismatch after round trip: got %x want %x", got.InstanceTag, cp.InstanceTag)
	}
}

func TestPrekeyEnsembleMarshalRoundTrip(t *testing.T) {
	group := ristrettobackend.New()
	longTerm := genScalar(t, group)
	forgingPub := group.ScalarBaseMult(genScalar(t, group))
	expiry := time.Now().Add(24 * time.Hour)

	cp, err := NewClientProfile(group, longTerm, forgingPub, 0x100, []byte{4}, expiry)
	if err != nil {
		t.Fatalf("NewClientProfile: %v", err)
	}
	shared := group.ScalarBaseMult(genScalar(t, group))
	pp, err := NewPrekeyProfile(group, longTerm, 0x100, shared, expiry)
	if err != nil {
		t.Fatalf("NewPrekeyProfile: %v", err)
	}
	pool, err := NewPrekeyMessagePool(group, 0x100, 1, 5)
	if err != nil {
		t.Fatalf("NewPrekeyMessagePool: %v", err)
	}
	msg, err := pool.Generate(func() (primitives.Scalar, error) { return group.GenerateScalar(rand.Reader) })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ensemble := PrekeyEnsemble{ClientProfile: cp, PrekeyProfile: pp, PrekeyMessage: msg}

	r := wire.NewReader(ensemble.Marshal(group))
	got, err := UnmarshalPrekeyEnsemble(group, r)
	if err != nil {
		t.Fatalf("UnmarshalPrekeyEnsemble: %v", err)
	}
	if err := got.Verify(group, time.Now(), time.Minute); err != nil {
		t.Fatalf("Verify after round trip: %v", err)
	}
}

func TestPrekeyMessagePoolRejectsInvalidBounds(t *testing.T) {
	group := ristrettobackend.New()
	if _, err := NewPrekeyMessagePool(group, 0x100, 3, 1); err == nil {
		t.Fatal("expected maxStock < minStock to be rejected")
	}
}
