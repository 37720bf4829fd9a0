package host

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"otr4"
	"otr4/internal/fingerprint"
	"otr4/internal/primitives"
	"otr4/internal/primitives/ristrettobackend"
	"otr4/internal/profile"
	"otr4/internal/relay"
	"otr4/internal/store"
)

// Wire bundles the otr4 Client with the stores and relay client a front-end
// drives it through.
type Wire struct {
	Client      *otr4.Client
	Relay       *relay.HTTP
	Fingerprint *store.FingerprintFileStore
	Backend     primitives.Backend
	Username    string
	HomeDir     string
}

const (
	identityFileName    = "identity.json"
	fingerprintFileName = "fingerprints.json"
	minHostInstanceTag  = 0x00000100
)

// NewWire constructs the dependency graph from cfg: it loads the account's
// long-term identity from HomeDir (generating one on first run), opens the
// fingerprint trust store, and wires an otr4.Client whose Callbacks deliver
// wire frames through an HTTP relay client.
func NewWire(cfg Config, passphrase string) (*Wire, error) {
	if cfg.HomeDir == "" {
		if h, err := os.UserHomeDir(); err == nil {
			cfg.HomeDir = filepath.Join(h, ".otr4")
		}
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return nil, fmt.Errorf("host: create config dir: %w", err)
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	backend := ristrettobackend.Backend()
	identityPath := filepath.Join(cfg.HomeDir, identityFileName)

	id, err := loadOrCreateIdentity(backend.Group, identityPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("host: load identity: %w", err)
	}

	fpStore, err := store.NewFingerprintFileStore(filepath.Join(cfg.HomeDir, fingerprintFileName))
	if err != nil {
		return nil, fmt.Errorf("host: open fingerprint store: %w", err)
	}

	relayClient := relay.NewHTTP(cfg.RelayURL, httpClient)

	client, err := otr4.NewClient(otr4.Config{
		Backend:          backend,
		LongTermPriv:     id.LongTermPriv,
		ForgingPriv:      id.ForgingPriv,
		InstanceTag:      id.InstanceTag,
		FingerprintStore: fpStore,
		Callbacks:        callbacksFor(cfg.Username, relayClient),
	})
	if err != nil {
		return nil, fmt.Errorf("host: build client: %w", err)
	}

	return &Wire{
		Client:      client,
		Relay:       relayClient,
		Fingerprint: fpStore,
		Backend:     backend,
		Username:    cfg.Username,
		HomeDir:     cfg.HomeDir,
	}, nil
}

// ReceivedMessage is one decrypted inbound message, attributed to its
// sender for display.
type ReceivedMessage struct {
	From string
	Text []byte
}

// FetchAndDecrypt drains every envelope currently queued on the relay for
// this Wire's account and runs each through the Client, returning the
// plaintext of whichever turned out to be a displayable message. Envelopes
// that only advance the DAKE or SMP state machines produce no entry.
func (w *Wire) FetchAndDecrypt() ([]ReceivedMessage, error) {
	envelopes, err := w.Relay.FetchEnvelopes(w.Username)
	if err != nil {
		return nil, fmt.Errorf("host: fetch envelopes: %w", err)
	}

	var out []ReceivedMessage
	for _, env := range envelopes {
		display, ignore, err := w.Client.Receive(env.From, env.Body)
		if err != nil {
			slog.Warn("receive failed", "from", env.From, "err", err)
			continue
		}
		if ignore || len(display) == 0 {
			continue
		}
		out = append(out, ReceivedMessage{From: env.From, Text: display})
	}
	return out, nil
}

// PublishEnsemble assembles a fresh PrekeyEnsemble and uploads it to the
// relay under this Wire's account name, so peers can start a
// non-interactive DAKE while this account is offline.
func (w *Wire) PublishEnsemble() error {
	ensemble, err := w.Client.PrekeyEnsemble()
	if err != nil {
		return fmt.Errorf("host: build ensemble: %w", err)
	}
	return w.Relay.PublishEnsemble(w.Backend.Group, w.Username, ensemble)
}

// FetchPeerEnsemble retrieves peer's published PrekeyEnsemble, for starting
// a non-interactive DAKE against an account that may be offline.
func (w *Wire) FetchPeerEnsemble(peer string) (profile.PrekeyEnsemble, error) {
	return w.Relay.FetchEnsemble(w.Backend.Group, peer)
}

// loadOrCreateIdentity loads the identity at path, or generates and
// persists a fresh one if none exists yet.
func loadOrCreateIdentity(group primitives.Group, path, passphrase string) (store.Identity, error) {
	if store.IdentityExists(path) {
		return store.LoadIdentity(group, path, passphrase)
	}

	longTermPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		return store.Identity{}, err
	}
	forgingPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		return store.Identity{}, err
	}
	sharedPrekeyPriv, err := group.GenerateScalar(rand.Reader)
	if err != nil {
		return store.Identity{}, err
	}
	tag, err := randomInstanceTag()
	if err != nil {
		return store.Identity{}, err
	}

	id := store.Identity{
		LongTermPriv:     longTermPriv,
		ForgingPriv:      forgingPriv,
		SharedPrekeyPriv: sharedPrekeyPriv,
		InstanceTag:      tag,
	}
	if err := store.SaveIdentity(path, passphrase, id); err != nil {
		return store.Identity{}, err
	}
	return id, nil
}

func randomInstanceTag() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	tag := binary.BigEndian.Uint32(b[:])
	if tag < minHostInstanceTag {
		tag += minHostInstanceTag
	}
	return tag, nil
}

// callbacksFor builds the Callbacks set that routes outbound wire frames
// through relayClient and every protocol event to structured logging.
func callbacksFor(username string, relayClient *relay.HTTP) otr4.Callbacks {
	return otr4.Callbacks{
		InjectMessage: func(peer string, wireMessage []byte) {
			if err := relayClient.SendEnvelope(username, peer, string(wireMessage)); err != nil {
				slog.Error("relay send failed", "peer", peer, "err", err)
			}
		},
		GoneSecure: func(peer string) {
			slog.Info("session secured", "peer", peer)
		},
		GoneInsecure: func(peer string) {
			slog.Info("session ended", "peer", peer)
		},
		FingerprintSeen: func(peer string, fp fingerprint.Fingerprint, isNew bool) {
			slog.Info("fingerprint seen", "peer", peer, "fingerprint", string(fp), "new", isNew)
		},
		DisplayErrorMessage: func(peer string, event string) {
			slog.Warn("protocol error", "peer", peer, "event", event)
		},
		HandleEvent: func(peer string, event string) {
			slog.Info("protocol event", "peer", peer, "event", event)
		},
		SMPUpdate: func(peer string, event string, percent int) {
			slog.Info("smp update", "peer", peer, "event", event, "percent", percent)
		},
		DefinePolicy: func() otr4.Policy {
			return otr4.Policy{AllowV4: true, RequireEncryption: true}
		},
	}
}
