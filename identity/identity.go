// Package identity manages an endpoint's long-term Ed25519 keypair and the
// id52 encoding used to name endpoints on the wire and in the CLI.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ID is an endpoint's Ed25519 public key, used as its address everywhere:
// in wire frames, in persisted state keys, and in invite tokens.
type ID [ed25519.PublicKeySize]byte

// dnssecAlphabet is RFC 5155's base32 alphabet (base32hex, lowercase).
const dnssecAlphabet = "0123456789abcdefghijklmnopqrstuv"

var dnssecEncoding = base32.NewEncoding(dnssecAlphabet).WithPadding(base32.NoPadding)

// String renders the id52 form: lowercase base32-DNSSEC of the public key.
func (id ID) String() string {
	return dnssecEncoding.EncodeToString(id[:])
}

// HexString renders lowercase hex, used for the peer and pending-peer keys
// of the state file.
func (id ID) HexString() string {
	return hex.EncodeToString(id[:])
}

// Short returns the base32-DNSSEC encoding of the first n bytes, used for
// the abbreviated peer ids shown by peers/list.
func (id ID) Short(n int) string {
	if n > len(id) {
		n = len(id)
	}
	return dnssecEncoding.EncodeToString(id[:n])
}

// ParseID decodes a 52-character base32-DNSSEC id52 string.
func ParseID(s string) (ID, error) {
	var id ID
	decoded, err := dnssecEncoding.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse id52: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("parse id52: expected %d bytes, got %d", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// ParseHexID decodes a lowercase hex-encoded identity, as used for state
// file keys.
func ParseHexID(s string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse hex id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("parse hex id: expected %d bytes, got %d", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// Identity is an endpoint's signing keypair, persisted as a single raw
// Ed25519 seed file under the endpoint's home directory.
type Identity struct {
	secret ed25519.PrivateKey
	public ID
}

// keyFileName is the file persisted under the endpoint's home directory.
const keyFileName = "identity.key"

// LoadOrCreate loads the identity stored at home/identity.key, or generates
// and persists a new one if the file does not exist yet.
func LoadOrCreate(home string) (*Identity, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create home directory: %w", err)
	}

	path := filepath.Join(home, keyFileName)
	seed, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity key corrupt: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return fromSeed(seed), nil
	case errors.Is(err, os.ErrNotExist):
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		// Write to a temp file and rename so a crash mid-write never leaves
		// a truncated key behind.
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, seed, 0o600); err != nil {
			return nil, fmt.Errorf("write identity key: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("persist identity key: %w", err)
		}
		return fromSeed(seed), nil
	default:
		return nil, fmt.Errorf("read identity key: %w", err)
	}
}

func fromSeed(seed []byte) *Identity {
	secret := ed25519.NewKeyFromSeed(seed)
	var public ID
	copy(public[:], secret.Public().(ed25519.PublicKey))
	return &Identity{secret: secret, public: public}
}

// ID returns the endpoint's public identity.
func (i *Identity) ID() ID { return i.public }

// Sign signs a message with the endpoint's private key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.secret, message)
}

// Verify checks that signature is a valid Ed25519 signature by id over
// message.
func Verify(id ID, message, signature []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(id[:]), message, signature)
}
