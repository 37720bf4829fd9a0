package otr4

import (
	"time"

	"otr4/internal/fingerprint"
	"otr4/internal/otr4err"
)

// Policy describes which protocol behavior a Client allows, as reported by
// Callbacks.DefinePolicy. NewClient requires that callback to be set, but
// the core does not call it: no Policy field changes how a Conversation
// sends or receives.
type Policy struct {
	AllowV3            bool
	AllowV4            bool
	RequireEncryption  bool
	SendWhitespaceTag  bool
	WhitespaceStartAKE bool
	ErrorStartAKE      bool
}

// Callbacks is the full set of effects the core asks the host to perform.
// Every field the core actually calls during send/receive must be set;
// ensureCallbacksExist checks the required subset at NewClient and fills
// everything else with a no-op default.
type Callbacks struct {
	// InjectMessage hands a wire-ready payload to the transport. Required.
	InjectMessage func(peer string, wireMessage []byte)

	// GoneSecure/GoneInsecure notify the host a Conversation entered or left
	// ENCRYPTED_MESSAGES. Required.
	GoneSecure   func(peer string)
	GoneInsecure func(peer string)

	// FingerprintSeen notifies the host the first (or a changed) sighting of
	// a peer's long-term key fingerprint.
	FingerprintSeen func(peer string, fp fingerprint.Fingerprint, isNew bool)

	// DisplayErrorMessage surfaces a protocol-level error to the user.
	// Required.
	DisplayErrorMessage func(peer string, event string)
	// HandleEvent surfaces a non-error protocol event for host-side
	// logging. The core does not call it; heartbeats and fragment expiry
	// are not reported through it.
	HandleEvent func(peer string, event string)

	// SMP UI callbacks.
	SMPAskForSecret func(peer string)
	SMPAskForAnswer func(peer string, question string)
	SMPUpdate       func(peer string, event string, percent int)

	// GetSharedSessionState returns an application-level context string
	// folded into phi (§6); an empty string is a valid answer.
	GetSharedSessionState func(peer string) string

	// SessionExpirationTimeFor returns how long an idle Conversation with
	// peer may live. The core does not call it; Conversations are not
	// expired on send or receive.
	SessionExpirationTimeFor func(peer string) time.Duration

	// DefinePolicy reports the Client's current policy. Required.
	DefinePolicy func() Policy
}

// ensureCallbacksExist validates the required subset of cb and fills every
// optional field with a no-op default.
func ensureCallbacksExist(cb Callbacks) (Callbacks, error) {
	if cb.InjectMessage == nil {
		return cb, otr4err.New(otr4err.InvalidParameter, "otr4.ensureCallbacksExist", "InjectMessage is required")
	}
	if cb.GoneSecure == nil {
		return cb, otr4err.New(otr4err.InvalidParameter, "otr4.ensureCallbacksExist", "GoneSecure is required")
	}
	if cb.GoneInsecure == nil {
		return cb, otr4err.New(otr4err.InvalidParameter, "otr4.ensureCallbacksExist", "GoneInsecure is required")
	}
	if cb.DisplayErrorMessage == nil {
		return cb, otr4err.New(otr4err.InvalidParameter, "otr4.ensureCallbacksExist", "DisplayErrorMessage is required")
	}
	if cb.DefinePolicy == nil {
		return cb, otr4err.New(otr4err.InvalidParameter, "otr4.ensureCallbacksExist", "DefinePolicy is required")
	}

	if cb.FingerprintSeen == nil {
		cb.FingerprintSeen = func(string, fingerprint.Fingerprint, bool) {}
	}
	if cb.HandleEvent == nil {
		cb.HandleEvent = func(string, string) {}
	}
	if cb.SMPAskForSecret == nil {
		cb.SMPAskForSecret = func(string) {}
	}
	if cb.SMPAskForAnswer == nil {
		cb.SMPAskForAnswer = func(string, string) {}
	}
	if cb.SMPUpdate == nil {
		cb.SMPUpdate = func(string, string, int) {}
	}
	if cb.GetSharedSessionState == nil {
		cb.GetSharedSessionState = func(string) string { return "" }
	}
	if cb.SessionExpirationTimeFor == nil {
		cb.SessionExpirationTimeFor = func(string) time.Duration { return 7 * 24 * time.Hour }
	}
	return cb, nil
}
