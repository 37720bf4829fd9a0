package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"otr4/internal/primitives"
	"otr4/internal/util/memzero"
)

const (
	identityKeyBytes  = 32
	identitySaltBytes = 16
	identityFileMode  = 0o600
)

// Identity is the long-term key material a host persists across restarts:
// the Client Profile's signing key, its Forging key, and the scalar behind
// the shared prekey published in every PrekeyEnsemble.
type Identity struct {
	LongTermPriv     primitives.Scalar
	ForgingPriv      primitives.Scalar
	SharedPrekeyPriv primitives.Scalar
	InstanceTag      uint32
}

// identityFile is the on-disk, passphrase-sealed representation. Secrets
// never touch the filesystem unencrypted.
type identityFile struct {
	InstanceTag uint32 `json:"instance_tag"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// identityPlaintext is the structure sealed inside identityFile.Ciphertext.
type identityPlaintext struct {
	LongTermPriv     []byte `json:"long_term_priv"`
	ForgingPriv      []byte `json:"forging_priv"`
	SharedPrekeyPriv []byte `json:"shared_prekey_priv"`
}

func deriveIdentityKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1<<16, 8, 1, identityKeyBytes)
}

// SaveIdentity seals id under passphrase and writes it atomically to path.
func SaveIdentity(path, passphrase string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("store: create identity store directory: %w", err)
	}

	plain := identityPlaintext{
		LongTermPriv:     id.LongTermPriv.Bytes(),
		ForgingPriv:      id.ForgingPriv.Bytes(),
		SharedPrekeyPriv: id.SharedPrekeyPriv.Bytes(),
	}
	plainBytes, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("store: marshal identity: %w", err)
	}
	defer memzero.Zero(plainBytes)

	salt := make([]byte, identitySaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("store: generate salt: %w", err)
	}
	kek := deriveIdentityKEK(passphrase, salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return fmt.Errorf("store: build AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("store: generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plainBytes, nil)

	out := identityFile{
		InstanceTag: id.InstanceTag,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}
	return writeJSON(path, out, identityFileMode)
}

// LoadIdentity reads and unseals the identity at path under passphrase,
// reconstructing each scalar with group. Returns os.ErrNotExist (wrapped)
// if no identity has been saved yet.
func LoadIdentity(group primitives.Group, path, passphrase string) (Identity, error) {
	var in identityFile
	raw, err := readFile(path)
	if err != nil {
		return Identity{}, err
	}
	if len(raw) == 0 {
		return Identity{}, fmt.Errorf("store: load identity: %w", os.ErrNotExist)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Identity{}, fmt.Errorf("store: unmarshal identity: %w", err)
	}

	kek := deriveIdentityKEK(passphrase, in.Salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return Identity{}, fmt.Errorf("store: build AEAD: %w", err)
	}
	plainBytes, err := aead.Open(nil, in.Nonce, in.Ciphertext, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("store: wrong passphrase or corrupt identity: %w", err)
	}
	defer memzero.Zero(plainBytes)

	var plain identityPlaintext
	if err := json.Unmarshal(plainBytes, &plain); err != nil {
		return Identity{}, fmt.Errorf("store: unmarshal identity secrets: %w", err)
	}

	longTermPriv, err := group.DecodeScalar(plain.LongTermPriv)
	if err != nil {
		return Identity{}, fmt.Errorf("store: decode long-term key: %w", err)
	}
	forgingPriv, err := group.DecodeScalar(plain.ForgingPriv)
	if err != nil {
		return Identity{}, fmt.Errorf("store: decode forging key: %w", err)
	}
	sharedPrekeyPriv, err := group.DecodeScalar(plain.SharedPrekeyPriv)
	if err != nil {
		return Identity{}, fmt.Errorf("store: decode shared prekey: %w", err)
	}

	return Identity{
		LongTermPriv:     longTermPriv,
		ForgingPriv:      forgingPriv,
		SharedPrekeyPriv: sharedPrekeyPriv,
		InstanceTag:      in.InstanceTag,
	}, nil
}

// IdentityExists reports whether an identity file is already present at
// path, so a host can decide between loading and first-run generation.
func IdentityExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
